package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/server"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, program director and horizon daemons",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, closeDB, err := ctx.openRuntime()
			if err != nil {
				return err
			}
			defer closeDB()

			srv, err := server.New(rt)
			if err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case sig := <-quit:
				logger.Log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
			case err := <-errCh:
				logger.Log.Error().Err(err).Msg("Server failed")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}
