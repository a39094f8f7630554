// Package log provides the logging infrastructure shared by all agentstream
// components.
//
// Components never log through a global logger. Each constructor accepts a
// log.Logger and may narrow it with logger.With("component", ...), which keeps
// log ownership explicit and tests quiet:
//
//	logger := log.New(log.Config{Level: slog.LevelDebug})
//	store := session.NewStore(logger.With("component", "store"))
//	ctrl := session.NewController(tc, store, notifier, logger.With("component", "controller"))
//
// Tests use NewNop, or NewWithWriter with a buffer to assert on output.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Logger is a type alias for *slog.Logger. The alias exists so that
// constructors can name their dependency without importing log/slog, while
// callers keep full access to the slog API (With, WithGroup, handlers).
type Logger = *slog.Logger

// Config defines logger configuration options.
type Config struct {
	// Level sets the minimum log level. Default: slog.LevelInfo
	Level slog.Level

	// JSON enables JSON format output. Default: false (text format)
	JSON bool

	// AddSource adds source file information to log entries. Default: false
	AddSource bool
}

// New creates a logger writing to os.Stderr with the given configuration.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter creates a logger that writes to w. Useful in tests to capture
// output into a buffer.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// NewNop creates a logger that discards all output. Test-only: production
// callers should always pass a configured logger so failures stay diagnosable.
func NewNop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
