// Package logger provides structured logging using zerolog.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
)

// Log is the global logger instance
var Log zerolog.Logger

// Init initializes the global logger with the specified level and output format
func Init(level string, pretty bool) {
	var output io.Writer = os.Stdout
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}
	InitWithWriter(level, output)
}

// InitWithWriter initializes the global logger writing to w.
// Tests use it to capture log output.
func InitWithWriter(level string, w io.Writer) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.SetGlobalLevel(parseLogLevel(level))

	Log = zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Channel returns a child logger tagged with the channel id and component name
func Channel(component, channelID string) zerolog.Logger {
	return Log.With().
		Str("component", component).
		Str("channel_id", channelID).
		Logger()
}

// Component returns a child logger tagged with a component name
func Component(component string) zerolog.Logger {
	return Log.With().Str("component", component).Logger()
}

// parseLogLevel converts a string log level to zerolog.Level
func parseLogLevel(level string) zerolog.Level {
	switch level {
	case logLevelDebug:
		return zerolog.DebugLevel
	case logLevelInfo:
		return zerolog.InfoLevel
	case logLevelWarn:
		return zerolog.WarnLevel
	case logLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
