// Package config provides configuration management using Viper.
// It loads configuration from environment variables, .env files, and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultServerPort                = 8080
	defaultServerHost                = "0.0.0.0"
	defaultReadTimeout               = 30 * time.Second
	defaultWriteTimeout              = 0 // streaming responses stay open for the channel lifetime
	defaultDatabasePath              = "./data/playout.db"
	defaultDatabaseConnectionTimeout = 5 * time.Second
	defaultDatabaseMigrationsPath    = "file://./migrations"
	defaultLogLevel                  = "info"
	defaultLogPretty                 = false
	defaultDatabaseEnableWAL         = true
	envPrefix                        = "HERMES"

	defaultPlayoutTickInterval    = 250 * time.Millisecond
	defaultPlayoutPrefeedWindow   = 3 * time.Second
	defaultPlayoutMinLeadTime     = 2 * time.Second
	defaultPlayoutGraceWindow     = 5 * time.Second
	defaultPlayoutRendererTimeout = 2 * time.Second

	defaultRendererMode          = RendererModeFake
	defaultRendererAirBaseURL    = "http://127.0.0.1:9400"
	defaultRendererChunkSize     = 188 * 7
	defaultRendererChunkInterval = 20 * time.Millisecond

	defaultHorizonMinHours      = 6
	defaultHorizonCheckInterval = 60 * time.Second
	defaultHorizonYieldInterval = 5 * time.Millisecond
	defaultHorizonLockDir       = "./data/locks"
	defaultHorizonArtifactDir   = "./data/txlog"

	defaultStreamingAdmissionCapacity = 4
	defaultStreamingViewerBuffer      = 256
	defaultStreamingTeardownTimeout   = 500 * time.Millisecond

	defaultScheduleLineupPath = "./config/lineup.yaml"
)

// Renderer modes understood by the producer factory
const (
	RendererModeFake = "fake"
	RendererModeAir  = "air"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Playout   PlayoutConfig
	Renderer  RendererConfig
	Horizon   HorizonConfig
	Streaming StreamingConfig
	Schedule  ScheduleConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	Host         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Path              string
	ConnectionTimeout time.Duration
	EnableWAL         bool
	MigrationsPath    string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// PlayoutConfig holds boundary scheduling parameters shared by every channel manager
type PlayoutConfig struct {
	TickInterval    time.Duration
	PrefeedWindow   time.Duration
	MinLeadTime     time.Duration
	GraceWindow     time.Duration
	RendererTimeout time.Duration
}

// RendererConfig selects and configures the producer implementation
type RendererConfig struct {
	Mode          string
	AirBaseURL    string
	ChunkSize     int
	ChunkInterval time.Duration
}

// HorizonConfig holds transmission log extension parameters
type HorizonConfig struct {
	MinHours      int
	CheckInterval time.Duration
	YieldInterval time.Duration
	LockDir       string
	ArtifactDir   string
}

// StreamingConfig holds viewer fan-out parameters
type StreamingConfig struct {
	AdmissionCapacity int
	ViewerBuffer      int
	TeardownTimeout   time.Duration
}

// ScheduleConfig points at the compiled lineup consumed by the schedule service
type ScheduleConfig struct {
	LineupPath string
}

// Load reads configuration from .env file, config files, environment variables, and defaults
func Load() (*Config, error) {
	// .env files are optional in production and CI where env vars are set directly
	_ = godotenv.Load() // nolint:errcheck // .env file is optional

	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/hermes")

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.host", defaultServerHost)
	v.SetDefault("server.readtimeout", defaultReadTimeout)
	v.SetDefault("server.writetimeout", defaultWriteTimeout)

	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.connectiontimeout", defaultDatabaseConnectionTimeout)
	v.SetDefault("database.enablewal", defaultDatabaseEnableWAL)
	v.SetDefault("database.migrationspath", defaultDatabaseMigrationsPath)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.pretty", defaultLogPretty)

	v.SetDefault("playout.tickinterval", defaultPlayoutTickInterval)
	v.SetDefault("playout.prefeedwindow", defaultPlayoutPrefeedWindow)
	v.SetDefault("playout.minleadtime", defaultPlayoutMinLeadTime)
	v.SetDefault("playout.gracewindow", defaultPlayoutGraceWindow)
	v.SetDefault("playout.renderertimeout", defaultPlayoutRendererTimeout)

	v.SetDefault("renderer.mode", defaultRendererMode)
	v.SetDefault("renderer.airbaseurl", defaultRendererAirBaseURL)
	v.SetDefault("renderer.chunksize", defaultRendererChunkSize)
	v.SetDefault("renderer.chunkinterval", defaultRendererChunkInterval)

	v.SetDefault("horizon.minhours", defaultHorizonMinHours)
	v.SetDefault("horizon.checkinterval", defaultHorizonCheckInterval)
	v.SetDefault("horizon.yieldinterval", defaultHorizonYieldInterval)
	v.SetDefault("horizon.lockdir", defaultHorizonLockDir)
	v.SetDefault("horizon.artifactdir", defaultHorizonArtifactDir)

	v.SetDefault("streaming.admissioncapacity", defaultStreamingAdmissionCapacity)
	v.SetDefault("streaming.viewerbuffer", defaultStreamingViewerBuffer)
	v.SetDefault("streaming.teardowntimeout", defaultStreamingTeardownTimeout)

	v.SetDefault("schedule.lineuppath", defaultScheduleLineupPath)
}

// Validate checks that configuration values are valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("invalid read timeout: %v (must be > 0)", c.Server.ReadTimeout)
	}
	// A zero write timeout is allowed: channel streams are long-lived responses
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("invalid write timeout: %v (must be >= 0)", c.Server.WriteTimeout)
	}
	if c.Database.ConnectionTimeout <= 0 {
		return fmt.Errorf("invalid database connection timeout: %v (must be > 0)", c.Database.ConnectionTimeout)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.Logging.Level, strings.Join(validLevels, ", "))
	}

	if err := c.Playout.validate(); err != nil {
		return err
	}

	validModes := []string{RendererModeFake, RendererModeAir}
	if !contains(validModes, c.Renderer.Mode) {
		return fmt.Errorf("invalid renderer mode: %s (must be one of: %s)", c.Renderer.Mode, strings.Join(validModes, ", "))
	}
	if c.Renderer.Mode == RendererModeAir && c.Renderer.AirBaseURL == "" {
		return fmt.Errorf("renderer air base url is required when mode is %s", RendererModeAir)
	}
	if c.Renderer.ChunkSize <= 0 {
		return fmt.Errorf("invalid renderer chunk size: %d (must be > 0)", c.Renderer.ChunkSize)
	}

	if c.Horizon.MinHours < 1 {
		return fmt.Errorf("invalid horizon min hours: %d (must be >= 1)", c.Horizon.MinHours)
	}
	if c.Horizon.CheckInterval <= 0 {
		return fmt.Errorf("invalid horizon check interval: %v (must be > 0)", c.Horizon.CheckInterval)
	}
	if c.Horizon.YieldInterval < 0 {
		return fmt.Errorf("invalid horizon yield interval: %v (must be >= 0)", c.Horizon.YieldInterval)
	}

	if c.Streaming.AdmissionCapacity < 1 {
		return fmt.Errorf("invalid admission capacity: %d (must be >= 1)", c.Streaming.AdmissionCapacity)
	}
	if c.Streaming.ViewerBuffer < 1 {
		return fmt.Errorf("invalid viewer buffer: %d (must be >= 1)", c.Streaming.ViewerBuffer)
	}
	if c.Streaming.TeardownTimeout <= 0 {
		return fmt.Errorf("invalid teardown timeout: %v (must be > 0)", c.Streaming.TeardownTimeout)
	}

	return nil
}

func (p PlayoutConfig) validate() error {
	if p.TickInterval <= 0 {
		return fmt.Errorf("invalid playout tick interval: %v (must be > 0)", p.TickInterval)
	}
	if p.MinLeadTime <= 0 {
		return fmt.Errorf("invalid playout min lead time: %v (must be > 0)", p.MinLeadTime)
	}
	if p.PrefeedWindow < p.MinLeadTime {
		return fmt.Errorf("invalid playout prefeed window: %v (must be >= min lead time %v)", p.PrefeedWindow, p.MinLeadTime)
	}
	if p.GraceWindow <= 0 {
		return fmt.Errorf("invalid playout grace window: %v (must be > 0)", p.GraceWindow)
	}
	if p.RendererTimeout <= 0 {
		return fmt.Errorf("invalid renderer timeout: %v (must be > 0)", p.RendererTimeout)
	}
	return nil
}

// contains checks if a string slice contains a specific value
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
