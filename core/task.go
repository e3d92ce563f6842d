package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskPriority: Six bands, lower value runs first
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityControl is reserved for scheduler control messages.
	// Control work always runs before anything else.
	TaskPriorityControl TaskPriority = iota

	// TaskPriorityHighest is for work the user is actively waiting on.
	TaskPriorityHighest

	// TaskPriorityHigh is for latency sensitive work.
	TaskPriorityHigh

	// TaskPriorityNormal is the default band.
	TaskPriorityNormal

	// TaskPriorityLow is for work that can tolerate delay.
	TaskPriorityLow

	// TaskPriorityBestEffort only runs when nothing else has work and may starve.
	TaskPriorityBestEffort

	// TaskPriorityCount is the number of priority bands.
	TaskPriorityCount
)

// DefaultTaskPriority is the priority of newly created queues.
const DefaultTaskPriority = TaskPriorityNormal

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityControl:
		return "control"
	case TaskPriorityHighest:
		return "highest"
	case TaskPriorityHigh:
		return "high"
	case TaskPriorityNormal:
		return "normal"
	case TaskPriorityLow:
		return "low"
	case TaskPriorityBestEffort:
		return "best_effort"
	default:
		return "unknown"
	}
}

// IsValid reports whether p names one of the priority bands.
func (p TaskPriority) IsValid() bool {
	return p >= TaskPriorityControl && p < TaskPriorityCount
}

// =============================================================================
// TaskTraits: Per-task attributes
// =============================================================================

// Nestability says whether a task may run inside a nested run loop.
type Nestability int

const (
	Nestable Nestability = iota
	// NonNestable tasks are deferred while a nested loop is active and run
	// once the outermost loop regains control.
	NonNestable
)

func (n Nestability) String() string {
	if n == NonNestable {
		return "non_nestable"
	}
	return "nestable"
}

// TaskType is an opaque tag chosen by the TaskRunner a task was posted through.
type TaskType int

// DefaultTaskType is used by TaskQueue.DefaultTaskRunner.
const DefaultTaskType TaskType = 0

type TaskTraits struct {
	Nestability Nestability
	// Name shows up in execution history, observers and pending task dumps.
	// Empty names are resolved from the function symbol.
	Name string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Nestability: Nestable}
}

func TraitsNonNestable() TaskTraits {
	return TaskTraits{Nestability: NonNestable}
}

func TraitsNamed(name string) TaskTraits {
	return TaskTraits{Nestability: Nestable, Name: name}
}

// =============================================================================
// TaskRunner: Task submission interface bound to one TaskQueue
// =============================================================================
type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration)
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits)

	// PostNonNestableTask posts a task that never runs inside a nested loop.
	PostNonNestableTask(task Task)

	// PostCancelableDelayedTask returns a handle that can cancel the task
	// before it runs. Cancelled tasks are dropped without running.
	PostCancelableDelayedTask(task Task, delay time.Duration) *DelayedTaskHandle

	// PostTaskAndReply runs task here, then posts reply to replyRunner.
	// If task panics, reply will not be executed.
	PostTaskAndReply(task Task, reply Task, replyRunner TaskRunner)
	PostTaskAndReplyWithTraits(task Task, taskTraits TaskTraits, reply Task, replyTraits TaskTraits, replyRunner TaskRunner)

	// RunsTasksInCurrentSequence reports whether the caller is on the goroutine
	// that executes this runner's tasks.
	RunsTasksInCurrentSequence() bool

	TaskType() TaskType
}

// =============================================================================
// Context Helper
// =============================================================================
type currentQueueKeyType struct{}

var currentQueueKey currentQueueKeyType

// GetCurrentTaskQueue returns the queue whose task is running with ctx,
// or nil when ctx does not belong to a task.
func GetCurrentTaskQueue(ctx context.Context) *TaskQueue {
	if v := ctx.Value(currentQueueKey); v != nil {
		return v.(*TaskQueue)
	}
	return nil
}

// GetCurrentTaskRunner returns the default TaskRunner of the queue running ctx.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if q := GetCurrentTaskQueue(ctx); q != nil {
		return q.TaskRunner(DefaultTaskType)
	}
	return nil
}
