// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/hermes-playout/internal/api"
	"github.com/stwalsh4118/hermes-playout/internal/director"
	"github.com/stwalsh4118/hermes-playout/internal/logger"
	"github.com/stwalsh4118/hermes-playout/internal/middleware"
	"github.com/stwalsh4118/hermes-playout/internal/renderer"
)

// Server represents the HTTP server
type Server struct {
	runtime  *Runtime
	director *director.ProgramDirector
	router   *gin.Engine
	server   *http.Server

	horizonCancel context.CancelFunc
	horizonDone   sync.WaitGroup
}

// New creates a new server instance
func New(rt *Runtime) (*Server, error) {
	factory, err := renderer.NewFactory(rt.Config.Renderer)
	if err != nil {
		return nil, fmt.Errorf("renderer factory: %w", err)
	}

	d := director.NewProgramDirector(rt.Config.Playout, rt.Config.Streaming, director.Deps{
		Clock:    rt.Clock,
		Schedule: rt.Schedule,
		Store:    rt.Store,
		Factory:  factory,
		AsRun:    rt.Repos.AsRun,
		Metrics:  rt.Metrics,
	})

	s := &Server{
		runtime:  rt,
		director: d,
	}
	s.setupRouter()
	return s, nil
}

// Director returns the program director
func (s *Server) Director() *director.ProgramDirector {
	return s.director
}

// Router returns the configured Gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	// Set Gin mode based on log level
	if s.runtime.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger())
	s.router.Use(middleware.RequestMetrics(s.runtime.Metrics))
	s.router.Use(gin.Recovery())
	s.router.Use(cors.Default())

	s.router.GET("/metrics", gin.WrapH(s.runtime.Metrics.Handler(s.refreshGauges)))
	api.SetupStreamRoutes(s.router, s.director)

	apiGroup := s.router.Group("/api")
	api.SetupHealthRoutes(apiGroup, s.runtime.DB, s.director)

	reporters := make(map[string]api.HorizonReporter, len(s.runtime.Daemons))
	for id, d := range s.runtime.Daemons {
		reporters[id] = d
	}
	api.SetupChannelRoutes(apiGroup, api.NewChannelHandler(api.ChannelHandlerDeps{
		Catalog: s.runtime.Schedule,
		Store:   s.runtime.Store,
		AsRun:   s.runtime.Repos.AsRun,
		Horizon: reporters,
		Clock:   s.runtime.Clock,
	}))
}

// refreshGauges copies registry state into the gauges before a scrape
func (s *Server) refreshGauges() {
	counts := s.director.ViewerCounts()
	s.runtime.Metrics.SetActiveChannels(len(counts))
	for channelID, n := range counts {
		s.runtime.Metrics.SetViewers(channelID, n)
	}
}

// Start starts the horizon daemons, the program director and the HTTP server
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.horizonCancel = cancel
	s.horizonDone.Add(1)
	go func() {
		defer s.horizonDone.Done()
		s.runtime.RunHorizon(ctx)
	}()

	if err := s.director.Start(); err != nil {
		return fmt.Errorf("failed to start program director: %w", err)
	}

	cfg := s.runtime.Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	// Ending the channels first lets open viewer responses finish
	s.director.Stop()

	if s.horizonCancel != nil {
		s.horizonCancel()
		s.horizonDone.Wait()
	}

	// Check if server was started before attempting shutdown
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
