// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// Stdout is reserved for enrichment results.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := ParseLevel(string(cfg.Level))
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: request flow and internal state
//   - Cache operations (hit/miss, key, TTL)
//   - Outgoing request method and path
//   - Quota state read from the store
//
// Info: normal operation events
//   - Run start/finish with summary counts
//   - Page fetched (people count)
//   - Quota state updates while healthy
//
// Warn: conditions that do not stop the run
//   - Enrichment failures for a single person
//   - Retry attempts
//   - Quota throttling
//   - Cache errors (fallback to a live request)
//
// Error: conditions requiring attention
//   - Search failures (paging stops)
//   - Exhausted quota windows
//   - Configuration errors
//
// Context Fields:
//   - run_id: identifier of one enrichment run
//   - endpoint: API path (/api/v1/mixed_people/search, /api/v1/people/enrich)
//   - page: search page number
//   - person_id: Apollo person ID
//   - status: HTTP status code
//   - body: redacted, truncated response body
//   - error_class: client, server, rate_limit, network
//   - requests_left: remaining requests in a quota window
