// Package logging installs the process-wide log/slog handler used for
// internal package diagnostics (registry scan warnings, middleware
// swallowed panics) backed by zerolog, per the ambient stack's logging
// split: log/slog is the call-site API everywhere in this module, zerolog
// is the installed writer underneath it. This is distinct from
// pkg/observability.ContextLogger, which is the module-call-path logger
// tracing/metrics/logging middlewares use.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the installed handler's level and console rendering.
type Config struct {
	Level  string
	Pretty bool
}

// Setup installs a zerolog-backed slog.Handler as the process-wide
// slog.Default logger and returns it.
func Setup(cfg Config) *slog.Logger {
	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	zl := zerolog.New(output).With().Timestamp().Logger()
	logger := slog.New(newZerologHandler(zl))
	slog.SetDefault(logger)
	return logger
}

// zerologHandler implements slog.Handler on top of a zerolog.Logger.
type zerologHandler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
}

func newZerologHandler(l zerolog.Logger) *zerologHandler {
	return &zerologHandler{logger: l}
}

func (h *zerologHandler) Enabled(_ context.Context, level slog.Level) bool {
	return zerologLevel(level) >= zerolog.GlobalLevel()
}

func (h *zerologHandler) Handle(_ context.Context, record slog.Record) error {
	event := h.logger.WithLevel(zerologLevel(record.Level))
	for _, a := range h.attrs {
		event = applyAttr(event, a)
	}
	record.Attrs(func(a slog.Attr) bool {
		event = applyAttr(event, a)
		return true
	})
	event.Msg(record.Message)
	return nil
}

func (h *zerologHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &zerologHandler{logger: h.logger, attrs: merged}
}

func (h *zerologHandler) WithGroup(name string) slog.Handler {
	return &zerologHandler{logger: h.logger.With().Str("group", name).Logger(), attrs: h.attrs}
}

func applyAttr(event *zerolog.Event, a slog.Attr) *zerolog.Event {
	if a.Equal(slog.Attr{}) {
		return event
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return event.Str(a.Key, a.Value.String())
	case slog.KindInt64:
		return event.Int64(a.Key, a.Value.Int64())
	case slog.KindBool:
		return event.Bool(a.Key, a.Value.Bool())
	case slog.KindFloat64:
		return event.Float64(a.Key, a.Value.Float64())
	case slog.KindDuration:
		return event.Dur(a.Key, a.Value.Duration())
	case slog.KindTime:
		return event.Time(a.Key, a.Value.Time())
	default:
		return event.Interface(a.Key, a.Value.Any())
	}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
