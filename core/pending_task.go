package core

import (
	"sync/atomic"
	"time"
)

// TaskOrder totally orders tasks: enqueue order first, then delayed run
// time, then post sequence. Delayed tasks that expire in the same pass share
// an enqueue order and are told apart by run time and sequence.
type TaskOrder struct {
	EnqueueOrder   EnqueueOrder
	DelayedRunTime time.Time
	Sequence       uint64
}

func (o TaskOrder) Less(other TaskOrder) bool {
	if o.EnqueueOrder != other.EnqueueOrder {
		return o.EnqueueOrder < other.EnqueueOrder
	}
	if !o.DelayedRunTime.Equal(other.DelayedRunTime) {
		return o.DelayedRunTime.Before(other.DelayedRunTime)
	}
	return o.Sequence < other.Sequence
}

// PendingTask is a posted task waiting to run. It is consumed exactly once.
type PendingTask struct {
	task      Task
	traits    TaskTraits
	taskType  TaskType
	order     TaskOrder
	queueTime time.Time
	canceled  *atomic.Bool
}

func (t *PendingTask) Order() TaskOrder { return t.order }

func (t *PendingTask) Traits() TaskTraits { return t.traits }

func (t *PendingTask) TaskType() TaskType { return t.taskType }

// QueueTime is the time the task was posted. It is only recorded when the
// manager or queue asks for it.
func (t *PendingTask) QueueTime() time.Time { return t.queueTime }

func (t *PendingTask) IsDelayed() bool { return !t.order.DelayedRunTime.IsZero() }

func (t *PendingTask) IsCanceled() bool {
	return t.canceled != nil && t.canceled.Load()
}

// Name resolves the display name of the task.
func (t *PendingTask) Name() string {
	return resolveTaskName(t.task, t.traits.Name)
}

// fenceTime is compared against a delayed fence.
func (t *PendingTask) fenceTime() time.Time {
	if t.IsDelayed() {
		return t.order.DelayedRunTime
	}
	return t.queueTime
}

// DelayedTaskHandle cancels a task posted with PostCancelableDelayedTask.
type DelayedTaskHandle struct {
	canceled *atomic.Bool
	ran      *atomic.Bool
}

func newDelayedTaskHandle() *DelayedTaskHandle {
	return &DelayedTaskHandle{canceled: &atomic.Bool{}, ran: &atomic.Bool{}}
}

// Cancel prevents the task from running if it has not started yet.
func (h *DelayedTaskHandle) Cancel() {
	if h == nil {
		return
	}
	h.canceled.Store(true)
}

// IsValid reports whether the task is still waiting to run.
func (h *DelayedTaskHandle) IsValid() bool {
	if h == nil {
		return false
	}
	return !h.canceled.Load() && !h.ran.Load()
}
