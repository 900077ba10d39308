// Package logging wires log/slog into the Logger interface the rest of the
// service consumes. Entrypoints construct a JSON slog logger here; everything
// downstream depends only on types.Logger.
package logging

import (
	"log/slog"
	"os"

	"breathguard/internal/types"
)

// New creates a JSON slog logger writing to stdout at the given level
// ("debug", "info", "warn", "error"; unknown values fall back to info) and
// returns it wrapped as a types.Logger. The service name is attached to every
// record.
func New(level, service string) types.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})).With("service", service)

	return Wrap(logger)
}

// Wrap adapts an existing *slog.Logger to types.Logger.
func Wrap(logger *slog.Logger) types.Logger {
	return slogAdapter{logger: logger}
}

type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }

func (a slogAdapter) With(args ...any) types.Logger {
	return slogAdapter{logger: a.logger.With(args...)}
}
