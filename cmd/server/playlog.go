package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/server"
)

func newPlaylogCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playlog",
		Short: "Inspect and extend the transmission log",
	}
	cmd.AddCommand(newPlaylogExtendCommand(ctx))
	cmd.AddCommand(newPlaylogVerifyCommand(ctx))
	return cmd
}

func newPlaylogExtendCommand(ctx *commandContext) *cobra.Command {
	var channelID string
	var hours int

	cmd := &cobra.Command{
		Use:   "extend",
		Short: "Write transmission log rows up to now + hours",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if hours < 1 {
				return fmt.Errorf("--hours must be at least 1")
			}
			rt, closeDB, err := ctx.openRuntime()
			if err != nil {
				return err
			}
			defer closeDB()

			channels, err := selectChannels(rt, channelID)
			if err != nil {
				return err
			}

			nowMs := rt.Clock.Now().UnixMilli()
			targetMs := nowMs + (time.Duration(hours) * time.Hour).Milliseconds()
			for _, id := range channels {
				d, err := rt.Daemon(id)
				if err != nil {
					return err
				}
				if err := d.Rebuild(cmd.Context()); err != nil {
					return fmt.Errorf("channel %s: %w", id, err)
				}
				result, err := d.ExtendToTarget(cmd.Context(), nowMs, targetMs)
				if err != nil {
					return fmt.Errorf("channel %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d blocks, %d events, %d published, %d republished, %d around overrides\n",
					id, result.BlocksWritten, result.EventsWritten, result.Published, result.Republished, result.SkippedOverride)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel to extend (default: every channel)")
	cmd.Flags().IntVar(&hours, "hours", 24, "Hours ahead of now to cover")
	return cmd
}

func newPlaylogVerifyCommand(ctx *commandContext) *cobra.Command {
	var channelID string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every text log and JSONL sidecar carry the same event ids",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, closeDB, err := ctx.openRuntime()
			if err != nil {
				return err
			}
			defer closeDB()

			// Without --channel every artifact directory is checked, lineup or not
			channels := []string{channelID}
			if channelID == "" {
				if channels, err = rt.Artifacts.Channels(); err != nil {
					return err
				}
			}

			var failed []error
			checked := 0
			for _, id := range channels {
				days, err := rt.Artifacts.Days(id)
				if err != nil {
					return fmt.Errorf("channel %s: %w", id, err)
				}
				for _, day := range days {
					checked++
					if err := rt.Artifacts.VerifyDay(id, day); err != nil {
						logger.Log.Error().Err(err).Str("channel_id", id).Str("day", day).Msg("Transmission log mismatch")
						failed = append(failed, fmt.Errorf("%s %s: %w", id, day, err))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: ok\n", id, day)
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("%d of %d logs failed verification: %w", len(failed), checked, errors.Join(failed...))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d logs verified\n", checked)
			return nil
		},
	}
	cmd.Flags().StringVar(&channelID, "channel", "", "Channel to verify (default: every channel)")
	return cmd
}

func selectChannels(rt *server.Runtime, channelID string) ([]string, error) {
	if channelID == "" {
		return rt.ChannelIDs(), nil
	}
	if _, err := rt.Daemon(channelID); err != nil {
		return nil, err
	}
	return []string{channelID}, nil
}
