package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PostTaskAndReply
// =============================================================================

// TestPostTaskAndReply_ExecutionOrder verifies the reply runs after the task on its own queue
// Main test items:
// 1. Task executes before reply
// 2. Each runs on the queue it was posted to
func TestPostTaskAndReply_ExecutionOrder(t *testing.T) {
	// Arrange
	h := newHarness(t)
	worker := h.queue("worker", TaskPriorityNormal)
	ui := h.queue("ui", TaskPriorityNormal)
	var order []string

	// Act
	worker.DefaultTaskRunner().PostTaskAndReply(
		func(ctx context.Context) {
			order = append(order, "task@"+GetCurrentTaskQueue(ctx).Name())
		},
		func(ctx context.Context) {
			order = append(order, "reply@"+GetCurrentTaskQueue(ctx).Name())
		},
		ui.DefaultTaskRunner(),
	)
	h.run()

	// Assert
	assert.Equal(t, []string{"task@worker", "reply@ui"}, order)
}

// TestPostTaskAndReply_ReplySeesTaskWrites verifies state written by the task is visible to the reply
func TestPostTaskAndReply_ReplySeesTaskWrites(t *testing.T) {
	h := newHarness(t)
	q := h.queue("q", TaskPriorityNormal)
	var shared, seen int

	q.DefaultTaskRunner().PostTaskAndReply(
		func(ctx context.Context) { shared = 42 },
		func(ctx context.Context) { seen = shared },
		q.DefaultTaskRunner(),
	)
	h.run()

	assert.Equal(t, 42, seen)
}

// TestPostTaskAndReply_ReplyQueuedBehindLaterTasks verifies the reply is posted only when the task ends
func TestPostTaskAndReply_ReplyQueuedBehindLaterTasks(t *testing.T) {
	h := newHarness(t)
	q := h.queue("q", TaskPriorityNormal)
	rec := &recorder{}

	q.DefaultTaskRunner().PostTaskAndReply(rec.task("task"), rec.task("reply"), q.DefaultTaskRunner())
	q.DefaultTaskRunner().PostTask(rec.task("posted-after"))
	h.run()

	assert.Equal(t, []string{"task", "posted-after", "reply"}, rec.list())
}

func TestPostTaskAndReply_NilReplyRunner(t *testing.T) {
	h := newHarness(t)
	q := h.queue("q", TaskPriorityNormal)
	rec := &recorder{}

	q.DefaultTaskRunner().PostTaskAndReply(rec.task("task"), rec.task("reply"), nil)
	h.run()

	assert.Equal(t, []string{"task"}, rec.list())
}

// TestPostTaskAndReply_PanicSkipsReply verifies a panicking task never triggers its reply
func TestPostTaskAndReply_PanicSkipsReply(t *testing.T) {
	handler := &capturingPanicHandler{}
	h := newHarness(t, func(s *Settings) { s.PanicHandler = handler })
	q := h.queue("q", TaskPriorityNormal)
	rec := &recorder{}

	q.DefaultTaskRunner().PostTaskAndReply(
		func(ctx context.Context) { panic("task failed") },
		rec.task("reply"),
		q.DefaultTaskRunner(),
	)
	q.DefaultTaskRunner().PostTask(rec.task("next"))
	h.run()

	assert.Equal(t, []string{"next"}, rec.list())
	assert.Len(t, handler.panics, 1)
}

// TestPostTaskAndReplyWithTraits verifies traits reach both halves
func TestPostTaskAndReplyWithTraits(t *testing.T) {
	h := newHarness(t)
	q := h.queue("q", TaskPriorityNormal)
	history := NewExecutionHistory(10)
	h.m.AddTaskObserver(history)

	q.DefaultTaskRunner().PostTaskAndReplyWithTraits(
		func(ctx context.Context) {}, TraitsNamed("load"),
		func(ctx context.Context) {}, TraitsNamed("render"),
		q.DefaultTaskRunner(),
	)
	h.run()

	records := history.Recent(0)
	require.Len(t, records, 2)
	assert.Equal(t, "render", records[0].Name)
	assert.Equal(t, "load", records[1].Name)
}

// =============================================================================
// PostTaskAndReplyWithResult
// =============================================================================

// TestPostTaskAndReplyWithResult verifies the result and error reach the reply
func TestPostTaskAndReplyWithResult(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		err     error
		wantErr bool
	}{
		{name: "value", value: 7},
		{name: "error", err: errors.New("lookup failed"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			worker := h.queue("worker", TaskPriorityNormal)
			ui := h.queue("ui", TaskPriorityNormal)

			var got int
			var gotErr error
			replied := false
			PostTaskAndReplyWithResult(
				worker.DefaultTaskRunner(),
				func(ctx context.Context) (int, error) { return tt.value, tt.err },
				func(ctx context.Context, v int, err error) {
					replied = true
					got, gotErr = v, err
				},
				ui.DefaultTaskRunner(),
			)
			h.run()

			require.True(t, replied)
			assert.Equal(t, tt.value, got)
			if tt.wantErr {
				assert.ErrorIs(t, gotErr, tt.err)
			} else {
				assert.NoError(t, gotErr)
			}
		})
	}
}

// TestPostDelayedTaskAndReplyWithResult verifies only the task is delayed
func TestPostDelayedTaskAndReplyWithResult(t *testing.T) {
	h := newHarness(t)
	worker := h.queue("worker", TaskPriorityNormal)
	ui := h.queue("ui", TaskPriorityNormal)

	var got string
	PostDelayedTaskAndReplyWithResult(
		worker.DefaultTaskRunner(),
		func(ctx context.Context) (string, error) { return "done", nil },
		50*time.Millisecond,
		func(ctx context.Context, s string, err error) { got = s },
		ui.DefaultTaskRunner(),
	)
	h.run()
	assert.Empty(t, got)

	h.advance(50 * time.Millisecond)
	assert.Equal(t, "done", got)
}
