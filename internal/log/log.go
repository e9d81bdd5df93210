// Package log provides the logging infrastructure for maestro.
//
// Loggers are plain *slog.Logger values injected by constructor; there are
// no package-level globals. Components add context with logger.With():
//
//	logger := log.New(log.Config{Level: "debug"})
//	engine := retrieval.NewEngine(cfg, logger.With("component", "retrieval"))
//
// Tests use Nop() to silence output or NewWithWriter to capture it.
package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger aliases *slog.Logger so call sites depend on this package
// rather than spelling out the slog type everywhere.
type Logger = *slog.Logger

// Config controls handler construction.
type Config struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	// Unrecognized values fall back to "info".
	Level string

	// JSON selects the JSON handler instead of text.
	JSON bool

	// AddSource attaches file:line to every record.
	AddSource bool
}

// New returns a logger writing to stderr with the given configuration.
func New(cfg Config) Logger {
	return NewWithWriter(os.Stderr, cfg)
}

// NewWithWriter returns a logger writing to w. Used by tests to capture output.
func NewWithWriter(w io.Writer, cfg Config) Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Nop returns a logger that discards everything. Test use only; production
// code should always wire a real logger so failures stay diagnosable.
func Nop() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ParseLevel maps a config string to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
