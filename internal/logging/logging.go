// Package logging initialises a [log/slog] logger from the daemon
// configuration and provides context-based logger propagation.
//
// Logs go to stderr and never share a stream with the status lines the
// daemon prints on stdout, so --log-format json stays machine readable
// while the watched command's output is interleaved on stdout. Passing
// -VV turns on debug records regardless of --log-level; --quiet wins over
// both.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/hupe1980/tdaemon/internal/config"
)

type ctxKey struct{}

// Setup creates a *slog.Logger configured according to cfg, writing to stderr,
// and installs it as the process-wide default via slog.SetDefault.
func Setup(cfg *config.Config) *slog.Logger {
	return SetupWithWriter(cfg, os.Stderr)
}

// SetupWithWriter creates a *slog.Logger configured according to cfg, writing
// to w, and installs it as the process-wide default via slog.SetDefault.
// Use this variant in tests to capture or suppress log output.
func SetupWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	logger := slog.New(newHandler(cfg.LogFormat, w, ParseLevel(cfg.EffectiveLogLevel())))
	slog.SetDefault(logger)

	return logger
}

func newHandler(format string, w io.Writer, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == config.LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}

	return slog.NewTextHandler(w, opts)
}

// Component tags every record of logger with the daemon part that wrote
// it: scan, watch, run, notify or state.
func Component(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", name))
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewContext returns a child context carrying logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from ctx, falling back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}

	return slog.Default()
}

// Discard returns a logger that drops every record. Components use it when
// the caller passes no logger and output must stay silent, such as in tests.
func Discard() *slog.Logger {
	return slog.New(newHandler(config.LogFormatText, io.Discard, slog.LevelError+1))
}
