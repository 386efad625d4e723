package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestZerologHandler_WritesLevelAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	logger := slog.New(newZerologHandler(zl))

	logger.Info("hello", "module_id", "mod.a", "count", 3)

	out := buf.String()
	assert.Contains(t, out, `"level":"info"`)
	assert.Contains(t, out, `"message":"hello"`)
	assert.Contains(t, out, `"module_id":"mod.a"`)
	assert.Contains(t, out, `"count":3`)
}

func TestZerologHandler_WithAttrsCarriesForward(t *testing.T) {
	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	logger := slog.New(newZerologHandler(zl)).With("service", "apcore")

	logger.Warn("careful")

	assert.Contains(t, buf.String(), `"service":"apcore"`)
}

func TestZerologLevel_MapsSlogToZerolog(t *testing.T) {
	assert.Equal(t, zerolog.ErrorLevel, zerologLevel(slog.LevelError))
	assert.Equal(t, zerolog.WarnLevel, zerologLevel(slog.LevelWarn))
	assert.Equal(t, zerolog.InfoLevel, zerologLevel(slog.LevelInfo))
	assert.Equal(t, zerolog.DebugLevel, zerologLevel(slog.LevelDebug))
}
