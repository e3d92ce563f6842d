package core

import (
	"context"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
// Contract violations (*FatalError) are never routed here.
//
// Implementations should be thread-safe as they may be called from any bound thread.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context of the panicked task (carries the current TaskQueue)
	// - queueName: The name of the queue the task was posted to
	// - taskName: The resolved task name
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, queueName string, taskName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler logs panics through a Logger.
type DefaultPanicHandler struct {
	Logger Logger
}

// HandlePanic logs the panic at error level.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, queueName string, taskName string, panicInfo any, stackTrace []byte) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Error("task panicked",
		F("queue", queueName),
		F("task", taskName),
		F("panic", panicInfo),
		F("stack", string(stackTrace)),
	)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Methods are called on the bound thread and should be non-blocking.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(queueName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(queueName string, panicInfo any)

	// RecordQueueDepth records the number of pending tasks of a queue after it ran a task.
	RecordQueueDepth(queueName string, depth int)

	// RecordTaskRejected records that a post was dropped.
	//
	// Parameters:
	// - queueName: The name of the queue
	// - reason: Why the task was rejected (e.g. "unregistered")
	RecordTaskRejected(queueName string, reason string)
}

// NilMetrics provides a no-op metrics implementation.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(queueName string, priority TaskPriority, duration time.Duration) {
}

func (m *NilMetrics) RecordTaskPanic(queueName string, panicInfo any) {}

func (m *NilMetrics) RecordQueueDepth(queueName string, depth int) {}

func (m *NilMetrics) RecordTaskRejected(queueName string, reason string) {}

// =============================================================================
// RejectedTaskHandler: Interface for handling dropped posts
// =============================================================================

// RejectedTaskHandler is called when a post is dropped because its queue is
// gone. It may be called from any goroutine.
type RejectedTaskHandler interface {
	HandleRejectedTask(queueName string, reason string)
}

// DefaultRejectedTaskHandler logs rejected tasks at warn level.
type DefaultRejectedTaskHandler struct {
	Logger Logger
}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(queueName string, reason string) {
	logger := h.Logger
	if logger == nil {
		logger = NewDefaultLogger()
	}
	logger.Warn("task rejected", F("queue", queueName), F("reason", reason))
}

// =============================================================================
// Observers
// =============================================================================

// TaskInfo describes a task to observers.
type TaskInfo struct {
	QueueName string
	TaskName  string
	Priority  TaskPriority
	TaskType  TaskType
	Order     TaskOrder
	QueueTime time.Time
	StartedAt time.Time
	// Duration and Panicked are only filled in for DidProcessTask.
	Duration time.Duration
	Panicked bool
}

// TaskObserver is notified around every task taken from a queue created with
// ShouldNotifyObservers. Calls happen on the bound thread.
type TaskObserver interface {
	WillProcessTask(info TaskInfo)
	DidProcessTask(info TaskInfo)
}

// NestingObserver is told when a nested run loop starts or ends.
type NestingObserver interface {
	OnBeginNestedRunLoop()
	OnExitNestedRunLoop()
}
