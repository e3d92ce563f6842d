package core

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestZerologLogger_Fields verifies typed fields reach the JSON line
// Main test items:
// 1. Every level writes its name
// 2. Strings, numbers, durations and errors keep their type
// 3. The component field is always present
func TestZerologLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(&buf, zerolog.DebugLevel)

	l.Debug("d")
	l.Info("i", F("queue", "io"), F("count", 3), F("ok", true))
	l.Warn("w", F("delay", 1500*time.Millisecond))
	l.Error("e", F("error", errors.New("boom")), F("order", uint64(7)), F("extra", []int{1, 2}))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)

	levels := make([]any, 0, len(lines))
	for _, line := range lines {
		levels = append(levels, line["level"])
		assert.Equal(t, "sequence_manager", line["component"])
		assert.Contains(t, line, "time")
	}
	assert.Equal(t, []any{"debug", "info", "warn", "error"}, levels)

	assert.Equal(t, "io", lines[1]["queue"])
	assert.Equal(t, float64(3), lines[1]["count"])
	assert.Equal(t, true, lines[1]["ok"])
	assert.Equal(t, float64(1500), lines[2]["delay"], "durations are written in milliseconds")
	assert.Equal(t, "boom", lines[3]["error"])
	assert.Equal(t, float64(7), lines[3]["order"])
	assert.Equal(t, []any{float64(1), float64(2)}, lines[3]["extra"])
}

func TestZerologLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLogger(&buf, zerolog.WarnLevel)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestWithZerolog(t *testing.T) {
	var buf bytes.Buffer
	l := WithZerolog(zerolog.New(&buf).With().Str("service", "demo").Logger())

	l.Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "demo", lines[0]["service"])
	assert.NotContains(t, lines[0], "component")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLogLevel(tt.in))
		})
	}
}

func TestNoOpLogger(t *testing.T) {
	var l Logger = NewNoOpLogger()
	assert.NotPanics(t, func() {
		l.Debug("d", F("k", 1))
		l.Info("i")
		l.Warn("w")
		l.Error("e")
	})
}
