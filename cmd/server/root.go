package main

import (
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/db"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/server"
)

type commandContext struct {
	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = fmt.Errorf("failed to load configuration: %w", err)
			return
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
		c.config = cfg
	})
	return c.config, c.configErr
}

// openRuntime connects the database, applies migrations and builds the runtime.
// The returned func closes the database.
func (c *commandContext) openRuntime() (*server.Runtime, func(), error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			logger.Log.Error().Err(err).Msg("Failed to close database")
		}
	}

	sqlDB, err := database.GetSQLDB()
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	if err := db.RunMigrations(sqlDB, cfg.Database.MigrationsPath); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	rt, err := server.NewRuntime(cfg, database)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return rt, closeDB, nil
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "hermes-playout",
		Short:         "Broadcast playout control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPlaylogCommand(ctx))
	return rootCmd
}
