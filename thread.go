package sequencemanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Swind/go-sequence-manager/core"
)

var (
	ErrThreadNotRunning     = errors.New("thread is not running")
	ErrThreadAlreadyStarted = errors.New("thread already started")
	ErrStopTimeout          = errors.New("graceful stop timed out")
)

const idlePollInterval = 5 * time.Millisecond

// Thread runs a SequenceManager on a dedicated goroutine driven by a
// GoroutinePump. Queue control calls are marshalled onto that goroutine.
type Thread struct {
	name     string
	pump     *core.GoroutinePump
	manager  *core.SequenceManager
	logger   core.Logger
	defaultQ *core.TaskQueue

	running   bool
	stopped   bool
	runningMu sync.RWMutex
}

// NewThread creates a stopped Thread. An empty settings.Name is replaced by name.
func NewThread(name string, settings core.Settings) *Thread {
	if settings.Name == "" {
		settings.Name = name
	}
	m := core.NewSequenceManager(settings)
	return &Thread{
		name:    name,
		pump:    core.NewGoroutinePump(),
		manager: m,
		logger:  m.Logger(),
	}
}

// Start binds the manager to a new goroutine and creates the default queue.
// A Thread cannot be restarted once stopped.
func (t *Thread) Start() error {
	t.runningMu.Lock()
	defer t.runningMu.Unlock()

	if t.running || t.stopped {
		return fmt.Errorf("thread %q: %w", t.name, ErrThreadAlreadyStarted)
	}

	ready := make(chan struct{})
	err := t.pump.Start(func() {
		defer close(ready)
		t.manager.BindToMessagePump(t.pump)
		t.defaultQ = t.manager.CreateTaskQueue(core.NewTaskQueueSpec("default"))
	})
	if err != nil {
		return fmt.Errorf("thread %q: start pump: %w", t.name, err)
	}
	<-ready
	t.running = true
	t.logger.Info("thread started", core.F("thread", t.name), core.F("manager", t.manager.ID()))
	return nil
}

func (t *Thread) Name() string { return t.name }

// IsRunning returns whether the thread is running
func (t *Thread) IsRunning() bool {
	t.runningMu.RLock()
	defer t.runningMu.RUnlock()
	return t.running
}

// Manager returns the SequenceManager owned by the thread. Its bound-thread
// methods may only be called from tasks running on the thread.
func (t *Thread) Manager() *core.SequenceManager { return t.manager }

// DefaultQueue is nil until Start returned.
func (t *Thread) DefaultQueue() *core.TaskQueue {
	t.runningMu.RLock()
	defer t.runningMu.RUnlock()
	return t.defaultQ
}

// TaskRunner returns the default TaskRunner of the default queue.
func (t *Thread) TaskRunner() core.TaskRunner {
	q := t.DefaultQueue()
	if q == nil {
		panic(fmt.Sprintf("thread %q not started", t.name))
	}
	return q.DefaultTaskRunner()
}

// RunsTasksInCurrentThread reports whether the caller is a task of this thread.
func (t *Thread) RunsTasksInCurrentThread() bool {
	q := t.DefaultQueue()
	return q != nil && q.DefaultTaskRunner().RunsTasksInCurrentSequence()
}

// call runs fn on the thread and waits for it.
func (t *Thread) call(ctx context.Context, fn func()) error {
	if !t.IsRunning() {
		return fmt.Errorf("thread %q: %w", t.name, ErrThreadNotRunning)
	}
	if t.RunsTasksInCurrentThread() {
		fn()
		return nil
	}
	if err := t.pump.PostAndWait(ctx, fn); err != nil {
		if errors.Is(err, core.ErrPumpNotRunning) {
			return fmt.Errorf("thread %q: %w", t.name, ErrThreadNotRunning)
		}
		return err
	}
	return nil
}

// CreateTaskQueue creates a queue on the thread.
func (t *Thread) CreateTaskQueue(spec core.TaskQueueSpec) (*core.TaskQueue, error) {
	var q *core.TaskQueue
	err := t.call(context.Background(), func() {
		q = t.manager.CreateTaskQueue(spec)
	})
	return q, err
}

// Stats returns a snapshot of the thread's manager.
func (t *Thread) Stats(ctx context.Context) (core.ManagerStats, error) {
	var s core.ManagerStats
	err := t.call(ctx, func() {
		s = t.manager.Stats()
	})
	return s, err
}

// DescribeAllPendingTasks returns the manager's JSON dump of pending tasks.
func (t *Thread) DescribeAllPendingTasks(ctx context.Context) (string, error) {
	var out string
	var descErr error
	err := t.call(ctx, func() {
		out, descErr = t.manager.DescribeAllPendingTasks()
	})
	if err != nil {
		return "", err
	}
	return out, descErr
}

// AddTaskObserver registers o with the thread's manager. It only sees tasks
// of queues created with observer notification.
func (t *Thread) AddTaskObserver(ctx context.Context, o core.TaskObserver) error {
	return t.call(ctx, func() { t.manager.AddTaskObserver(o) })
}

// WaitIdle blocks until no queue of the thread has a task it can run now.
// Delayed tasks that are not yet due do not count.
func (t *Thread) WaitIdle(ctx context.Context) error {
	if t.RunsTasksInCurrentThread() {
		return fmt.Errorf("thread %q: WaitIdle called from its own task", t.name)
	}
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for {
		idle := false
		if err := t.call(ctx, func() { idle = t.manager.IsIdleForTesting() }); err != nil {
			return err
		}
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop shuts the manager down and ends the goroutine. Pending tasks are
// dropped. Called from a task of the thread, the stop completes after the
// task returns.
func (t *Thread) Stop() {
	if t.RunsTasksInCurrentThread() {
		go t.Stop()
		return
	}

	t.runningMu.Lock()
	if !t.running {
		t.stopped = true
		t.runningMu.Unlock()
		t.pump.Stop()
		return
	}
	t.running = false
	t.stopped = true
	t.runningMu.Unlock()

	if err := t.pump.PostAndWait(context.Background(), t.manager.Shutdown); err != nil {
		t.logger.Warn("thread shutdown task did not run", core.F("thread", t.name), core.F("error", err))
	}
	t.pump.Stop()
	t.logger.Info("thread stopped", core.F("thread", t.name))
}

// StopGraceful waits for runnable tasks to finish before stopping. Delayed
// tasks not due yet are dropped. On timeout the thread is stopped anyway
// and an error wrapping ErrStopTimeout is returned.
func (t *Thread) StopGraceful(timeout time.Duration) error {
	if !t.IsRunning() {
		return nil
	}
	if t.RunsTasksInCurrentThread() {
		return fmt.Errorf("thread %q: StopGraceful called from its own task", t.name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := t.WaitIdle(ctx)
	t.Stop()

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("thread %q: %w after %v", t.name, ErrStopTimeout, timeout)
	}
	return err
}

// =============================================================================
// Global Thread Helper (Singleton)
// =============================================================================

var (
	globalThread *Thread
	globalMu     sync.Mutex
)

// InitGlobalThread creates and starts the process-wide thread. Later calls
// are no-ops while it is running.
func InitGlobalThread(settings core.Settings) error {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThread != nil {
		return nil
	}

	t := NewThread("global", settings)
	if err := t.Start(); err != nil {
		return err
	}
	globalThread = t
	return nil
}

// GetGlobalThread returns the global thread instance.
// It panics if InitGlobalThread has not been called.
func GetGlobalThread() *Thread {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThread == nil {
		panic("GlobalThread not initialized. Call InitGlobalThread() first.")
	}
	return globalThread
}

// ShutdownGlobalThread stops the global thread.
func ShutdownGlobalThread() {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalThread != nil {
		globalThread.Stop()
		globalThread = nil
	}
}

// CreateTaskRunner creates a queue on the global thread and returns its
// default TaskRunner.
func CreateTaskRunner(spec core.TaskQueueSpec) core.TaskRunner {
	q, err := GetGlobalThread().CreateTaskQueue(spec)
	if err != nil {
		panic(fmt.Sprintf("CreateTaskRunner: %v", err))
	}
	return q.DefaultTaskRunner()
}
