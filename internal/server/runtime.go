package server

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/stwalsh4118/hermes-playout/internal/clock"
	"github.com/stwalsh4118/hermes-playout/internal/config"
	"github.com/stwalsh4118/hermes-playout/internal/db"
	"github.com/stwalsh4118/hermes-playout/internal/execution"
	"github.com/stwalsh4118/hermes-playout/internal/horizon"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/metrics"
	"github.com/stwalsh4118/hermes-playout/internal/schedule"
	"github.com/stwalsh4118/hermes-playout/internal/txlog"
)

// Runtime holds the services shared by the HTTP server and the one-shot commands
type Runtime struct {
	Config    *config.Config
	DB        *db.DB
	Repos     *db.Repositories
	Clock     clock.MasterClock
	Metrics   *metrics.Metrics
	Schedule  *schedule.Service
	Store     *execution.GormStore
	Artifacts *txlog.Writer
	Daemons   map[string]*horizon.Daemon
}

// NewRuntime loads the lineup and builds the store and one horizon daemon per channel
func NewRuntime(cfg *config.Config, database *db.DB) (*Runtime, error) {
	lineup, err := schedule.LoadLineupFile(cfg.Schedule.LineupPath)
	if err != nil {
		return nil, fmt.Errorf("load lineup: %w", err)
	}
	svc := schedule.NewService(lineup)
	if err := svc.LoadAll(); err != nil {
		return nil, fmt.Errorf("compile schedules: %w", err)
	}

	for _, dir := range []string{cfg.Horizon.LockDir, cfg.Horizon.ArtifactDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	clk := clock.NewSystem()
	m := metrics.New()
	repos := db.NewRepositories(database)
	rt := &Runtime{
		Config:    cfg,
		DB:        database,
		Repos:     repos,
		Clock:     clk,
		Metrics:   m,
		Schedule:  svc,
		Store:     execution.NewGormStore(database, clk, m),
		Artifacts: txlog.NewWriter(cfg.Horizon.ArtifactDir),
		Daemons:   make(map[string]*horizon.Daemon),
	}

	for _, channelID := range svc.ChannelIDs() {
		rt.Daemons[channelID] = horizon.NewDaemon(channelID, cfg.Horizon, horizon.Deps{
			Clock:     clk,
			Schedule:  svc,
			Playlog:   repos.Playlog,
			Store:     rt.Store,
			Artifacts: rt.Artifacts,
			Metrics:   m,
		})
	}

	logger.Log.Info().
		Int("channels", len(rt.Daemons)).
		Str("lineup", cfg.Schedule.LineupPath).
		Msg("Runtime initialized")
	return rt, nil
}

// Daemon returns the horizon daemon of a channel
func (rt *Runtime) Daemon(channelID string) (*horizon.Daemon, error) {
	d, ok := rt.Daemons[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s: %w", channelID, schedule.ErrChannelNotFound)
	}
	return d, nil
}

// ChannelIDs returns the channels with a horizon daemon in sorted order
func (rt *Runtime) ChannelIDs() []string {
	ids := make([]string, 0, len(rt.Daemons))
	for id := range rt.Daemons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunHorizon starts every daemon and blocks until ctx is cancelled and they exit
func (rt *Runtime) RunHorizon(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range rt.Daemons {
		wg.Add(1)
		go func(d *horizon.Daemon) {
			defer wg.Done()
			d.Run(ctx)
		}(d)
	}
	wg.Wait()
}
