// Package logging configures zerolog for the resource layer. Every subsystem
// logs through a component logger, so events from the pool, the caches, the
// limiter and the store can be told apart in one stream.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel selects the minimum level emitted.
type LogLevel string

// Levels in increasing severity.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum level emitted.
	Level LogLevel

	// Pretty switches from JSON to human-readable console output.
	Pretty bool

	// Output receives the log stream. Nil falls back to os.Stderr.
	Output io.Writer
}

// DefaultConfig returns JSON logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it. Component
// loggers created afterwards with NewLogger inherit this configuration.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// NewLogger returns a logger tagged with the given component,
// e.g. "core", "sqlite", "species_db" or "batch".
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// parseLevel maps a configured level to zerolog's. Unknown levels fall back
// to info rather than failing, matching the clamp-don't-reject rule the rest
// of the configuration follows.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (key, TTL, fetch joins)
//   - Pool handle lifecycle (open, validate, discard)
//   - Geocoding lookups
//
// Info: Normal operation events
//   - Resource layer startup/shutdown
//   - Cool-down end, configured rate restored
//   - Batch fetch completion
//
// Warn: Warning conditions that don't prevent operation
//   - Configuration values clamped to bounds
//   - Provider throttling, cool-down entered
//   - Retry attempts on transient resource errors
//   - Failed regions in a batch fetch
//
// Error: Error conditions requiring attention
//   - Provider failures after retries
//   - Store handles that cannot be opened
//
// Context Fields:
//   - component: emitting subsystem (core, sqlite, batch, species_db)
//   - cache_key: response cache fingerprint
//   - ttl: cache entry TTL
//   - region: region code of a batch fetch
//   - pool_size, rate_capacity: clamped configuration values
//   - backoff: retry backoff duration
