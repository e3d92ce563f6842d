package core

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeLines parses every JSON log line written to buf.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

// TestDefaultPanicHandler verifies panics are logged at error level with their origin
func TestDefaultPanicHandler(t *testing.T) {
	// Given: A DefaultPanicHandler writing JSON lines
	var buf bytes.Buffer
	handler := &DefaultPanicHandler{Logger: NewZerologLogger(&buf, zerolog.DebugLevel)}

	// When: HandlePanic is called
	handler.HandlePanic(context.Background(), "io", "load", "test panic", []byte("stack trace"))

	// Then: One error line names the queue, task and panic value
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "error", lines[0]["level"])
	assert.Equal(t, "task panicked", lines[0]["message"])
	assert.Equal(t, "io", lines[0]["queue"])
	assert.Equal(t, "load", lines[0]["task"])
	assert.Equal(t, "test panic", lines[0]["panic"])
	assert.Equal(t, "stack trace", lines[0]["stack"])
}

func TestDefaultPanicHandler_NilLogger(t *testing.T) {
	handler := &DefaultPanicHandler{}
	assert.NotPanics(t, func() {
		handler.HandlePanic(context.Background(), "q", "t", "boom", nil)
	})
}

// TestDefaultRejectedTaskHandler verifies rejected posts are logged at warn level
func TestDefaultRejectedTaskHandler(t *testing.T) {
	var buf bytes.Buffer
	handler := &DefaultRejectedTaskHandler{Logger: NewZerologLogger(&buf, zerolog.DebugLevel)}

	handler.HandleRejectedTask("io", "unregistered")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warn", lines[0]["level"])
	assert.Equal(t, "io", lines[0]["queue"])
	assert.Equal(t, "unregistered", lines[0]["reason"])
}

func TestNilMetrics(t *testing.T) {
	var m Metrics = &NilMetrics{}
	assert.NotPanics(t, func() {
		m.RecordTaskDuration("q", TaskPriorityNormal, time.Millisecond)
		m.RecordTaskPanic("q", "boom")
		m.RecordQueueDepth("q", 3)
		m.RecordTaskRejected("q", "shutdown")
	})
}

// TestSettings_HandlersReceiveManagerEvents verifies every configured hook is wired
// Main test items:
// 1. Metrics see durations, depths, panics and rejections
// 2. PanicHandler sees the queue and task name
// 3. RejectedTaskHandler sees posts to an unregistered queue
func TestSettings_HandlersReceiveManagerEvents(t *testing.T) {
	// Arrange
	metrics := newCountingMetrics()
	panics := &capturingPanicHandler{}
	rejected := &capturingRejectedHandler{}
	h := newHarness(t, func(s *Settings) {
		s.Metrics = metrics
		s.PanicHandler = panics
		s.RejectedTaskHandler = rejected
	})
	q := h.queue("hooks", TaskPriorityNormal)
	runner := q.DefaultTaskRunner()

	// Act
	runner.PostTask(func(ctx context.Context) {})
	runner.PostTaskWithTraits(func(ctx context.Context) { panic("boom") }, TraitsNamed("faulty"))
	h.run()
	q.Unregister()
	runner.PostTask(func(ctx context.Context) {})

	// Assert
	assert.Equal(t, 2, metrics.durations["hooks"])
	assert.Equal(t, 1, metrics.panics["hooks"])
	assert.Contains(t, metrics.depths, "hooks")
	assert.Equal(t, 1, metrics.rejected["hooks/unregistered"])
	assert.Equal(t, []string{"hooks/faulty"}, panics.names)
	assert.Equal(t, []string{"hooks/unregistered"}, rejected.reasons)
}
