// Package log wraps zerolog with the process-wide settings used by satfinderd.
package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config captures options for configuring the global logger.
type Config struct {
	Level   string    // "debug", "info", ...; falls back to SATFINDER_LOG_LEVEL
	Output  io.Writer // defaults to os.Stderr
	Version string
}

var (
	mx   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure replaces the base logger. It is called once from main before
// any component logger is derived.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	lvl := cfg.Level
	if lvl == "" {
		lvl = os.Getenv("SATFINDER_LOG_LEVEL")
	}
	if lvl != "" {
		if parsed, err := zerolog.ParseLevel(lvl); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w := cfg.Output
	if w == nil {
		w = os.Stderr
	}

	mx.Lock()
	base = zerolog.New(w).With().
		Timestamp().
		Str("service", "satfinderd").
		Str("version", cfg.Version).
		Logger()
	mx.Unlock()
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	mx.RLock()
	defer mx.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str("component", component).Logger()
}
