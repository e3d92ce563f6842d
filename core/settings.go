package core

import "time"

const (
	// DefaultReclaimMemoryInterval is how often cancelled tasks are swept
	// and queue storage is shrunk.
	DefaultReclaimMemoryInterval = 30 * time.Second
)

// Settings configures a SequenceManager.
// All handlers are optional; if not provided, default implementations will be used.
type Settings struct {
	// Name identifies the manager in logs, stats and crash keys.
	Name string

	// Clock is the real-time clock. Defaults to RealClock.
	Clock Clock

	// WorkBatchSize is the number of tasks one DoWork may run. Defaults to 1.
	WorkBatchSize int

	TimerSlack TimerSlack

	// AddQueueTimeToTasks records the post time of every task.
	AddQueueTimeToTasks bool

	ReclaimMemoryInterval time.Duration

	StarvationLimits StarvationLimits

	// RecordCrashKeys publishes the running task in the process-wide crash
	// key registry.
	RecordCrashKeys bool

	Logger              Logger
	Metrics             Metrics
	PanicHandler        PanicHandler
	RejectedTaskHandler RejectedTaskHandler

	// NestingObserver is told about nested run loops.
	NestingObserver NestingObserver
}

// DefaultSettings returns settings with default handlers.
func DefaultSettings() Settings {
	logger := NewDefaultLogger()
	return Settings{
		Name:                  "main",
		Clock:                 RealClock{},
		WorkBatchSize:         1,
		TimerSlack:            TimerSlackNone,
		ReclaimMemoryInterval: DefaultReclaimMemoryInterval,
		StarvationLimits:      DefaultStarvationLimits(),
		Logger:                logger,
		Metrics:               &NilMetrics{},
		PanicHandler:          &DefaultPanicHandler{Logger: logger},
		RejectedTaskHandler:   &DefaultRejectedTaskHandler{Logger: logger},
	}
}

// withDefaults fills zero fields.
func (s Settings) withDefaults() Settings {
	if s.Name == "" {
		s.Name = "main"
	}
	if s.Clock == nil {
		s.Clock = RealClock{}
	}
	if s.WorkBatchSize < 1 {
		s.WorkBatchSize = 1
	}
	if s.ReclaimMemoryInterval <= 0 {
		s.ReclaimMemoryInterval = DefaultReclaimMemoryInterval
	}
	if s.StarvationLimits == (StarvationLimits{}) {
		s.StarvationLimits = DefaultStarvationLimits()
	}
	if s.Logger == nil {
		s.Logger = NewNoOpLogger()
	}
	if s.Metrics == nil {
		s.Metrics = &NilMetrics{}
	}
	if s.PanicHandler == nil {
		s.PanicHandler = &DefaultPanicHandler{Logger: s.Logger}
	}
	if s.RejectedTaskHandler == nil {
		s.RejectedTaskHandler = &DefaultRejectedTaskHandler{Logger: s.Logger}
	}
	return s
}
