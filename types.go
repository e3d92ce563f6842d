package sequencemanager

import "github.com/Swind/go-sequence-manager/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the sequencemanager package for most use cases.

// Task is the unit of work (Closure)
type Task = core.Task

// TaskTraits carries per-task nestability and an optional name.
type TaskTraits = core.TaskTraits

// TaskPriority is the band a queue is served in.
type TaskPriority = core.TaskPriority

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// TaskQueue is a queue owned by a SequenceManager.
type TaskQueue = core.TaskQueue

// TaskQueueSpec declares a queue.
type TaskQueueSpec = core.TaskQueueSpec

// SequenceManager is the scheduler behind a Thread.
type SequenceManager = core.SequenceManager

// Settings configures a SequenceManager.
type Settings = core.Settings

// Priority constants
const (
	TaskPriorityControl    TaskPriority = core.TaskPriorityControl
	TaskPriorityHighest    TaskPriority = core.TaskPriorityHighest
	TaskPriorityHigh       TaskPriority = core.TaskPriorityHigh
	TaskPriorityNormal     TaskPriority = core.TaskPriorityNormal
	TaskPriorityLow        TaskPriority = core.TaskPriorityLow
	TaskPriorityBestEffort TaskPriority = core.TaskPriorityBestEffort
)

// Convenience functions for creating TaskTraits and specs
var (
	DefaultTaskTraits = core.DefaultTaskTraits
	TraitsNonNestable = core.TraitsNonNestable
	TraitsNamed       = core.TraitsNamed
	NewTaskQueueSpec  = core.NewTaskQueueSpec
	DefaultSettings   = core.DefaultSettings
)

// TaskWithResult and ReplyWithResult for generic PostTaskAndReply pattern
type TaskWithResult[T any] = core.TaskWithResult[T]
type ReplyWithResult[T any] = core.ReplyWithResult[T]

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner

// GetCurrentTaskQueue retrieves the queue of the running task from context
var GetCurrentTaskQueue = core.GetCurrentTaskQueue
