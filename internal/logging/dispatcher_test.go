package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitlive/livemap/internal/dispatcher"
)

var (
	_ dispatcher.Logger = (*DispatcherLogger)(nil)
	_ dispatcher.Logger = (*ZerologAdapter)(nil)
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestDispatcherLogger_Levels(t *testing.T) {
	tests := []struct {
		level string
		log   func(*DispatcherLogger)
	}{
		{"DEBUG", func(l *DispatcherLogger) { l.Debug("msg", "kind", "snapshot", "n", 42) }},
		{"INFO", func(l *DispatcherLogger) { l.Info("msg", "kind", "snapshot", "n", 42) }},
		{"ERROR", func(l *DispatcherLogger) { l.Error("msg", "kind", "snapshot", "n", 42) }},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			tt.log(NewDispatcherLogger(logger))

			entry := decode(t, &buf)
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "msg", entry["msg"])
			assert.Equal(t, "snapshot", entry["kind"])
			assert.Equal(t, float64(42), entry["n"])
		})
	}
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(zerolog.New(&buf))

	a.Error("event failed", "kind", "delta", "code", 500, 7, "ignored")

	entry := decode(t, &buf)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "event failed", entry["message"])
	assert.Equal(t, "delta", entry["kind"])
	assert.Equal(t, float64(500), entry["code"])
	assert.Len(t, entry, 4)
}

func TestToFields_OddCount(t *testing.T) {
	fields := toFields([]any{"a", 1, "dangling"})
	assert.Equal(t, map[string]any{"a": 1}, fields)
}
