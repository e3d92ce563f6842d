package core

import "time"

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	Sequence   uint64
	Name       string
	QueueName  string
	Priority   TaskPriority
	TaskType   TaskType
	QueueTime  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Panicked   bool
}

// QueueStats represents runtime observability state for one task queue.
type QueueStats struct {
	Name         string
	ID           string
	Priority     TaskPriority
	TimeDomain   string
	Pending      int
	Ready        int
	Delayed      int
	TasksRun     uint64
	Enabled      bool
	HasFence     bool
	ShuttingDown bool
	NextWakeUp   time.Time
}

// ManagerStats represents runtime observability state for a SequenceManager.
type ManagerStats struct {
	ID           string
	Name         string
	Bound        bool
	Queues       []QueueStats
	Pending      int
	Deferred     int
	NestingDepth int
	TasksRun     uint64
	NextDoWork   time.Time
}
