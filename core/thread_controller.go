package core

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SequencedTaskSource is what the ThreadController pulls tasks from.
type SequencedTaskSource interface {
	// TakeTask returns the next task to run. A second TakeTask at the same
	// nesting level before DidRunTask is fatal.
	TakeTask(lazyNow *LazyNow) (*SelectedTask, bool)

	// DidRunTask is called after the task returned by TakeTask finished.
	DidRunTask(lazyNow *LazyNow)

	// DelayTillNextTask returns 0 when a task is ready, InfiniteDelay when
	// nothing is pending, or the time until the next delayed task.
	DelayTillNextTask(lazyNow *LazyNow) time.Duration

	// OnIdle runs idle-time work and reports whether it made tasks ready.
	OnIdle() bool
}

// InfiniteDelay means there is no pending work at all.
const InfiniteDelay = time.Duration(1<<63 - 1)

// SelectedTask is a task handed out by TakeTask.
type SelectedTask struct {
	Task      Task
	Ctx       context.Context
	QueueName string
	TaskName  string
	Priority  TaskPriority
	// Panicked is set by the controller when Task panicked.
	Panicked bool
}

const defaultWorkBatchSize = 1

type controllerAnySequence struct {
	nestingDepth          int
	immediateDoWorkPosted bool
}

type controllerMainSequence struct {
	workBatchSize     int
	nestingDepth      int
	nextDelayedDoWork time.Time
	quitWhenIdle      bool

	// Only grows, so a loop that began and ended inside one task is seen.
	nestedLoopsEntered uint64
}

// ThreadController decides when DoWork runs on the bound thread and runs
// the tasks it takes from its SequencedTaskSource.
type ThreadController struct {
	bound  *BoundThread
	clock  Clock
	pump   MessagePump
	source SequencedTaskSource
	dedup  WorkDeduplicator

	anyMu  sync.Mutex
	anySeq controllerAnySequence

	main controllerMainSequence

	// Each reset of the delayed continuation bumps delayedGen so older
	// continuations become no-ops.
	delayedGen    uint64
	cancelDelayed func()

	destroyed       atomic.Bool
	nestingObserver NestingObserver

	panicHandler PanicHandler
	metrics      Metrics
}

// NewThreadController creates an unbound controller.
func NewThreadController(clock Clock, panicHandler PanicHandler, metrics Metrics) *ThreadController {
	if clock == nil {
		clock = RealClock{}
	}
	if panicHandler == nil {
		panicHandler = &DefaultPanicHandler{}
	}
	if metrics == nil {
		metrics = &NilMetrics{}
	}
	return &ThreadController{
		bound:        NewBoundThread("ThreadController"),
		clock:        clock,
		panicHandler: panicHandler,
		metrics:      metrics,
		main:         controllerMainSequence{workBatchSize: defaultWorkBatchSize},
	}
}

func (c *ThreadController) SetSequencedTaskSource(source SequencedTaskSource) {
	c.source = source
}

func (c *ThreadController) requireSource(op string) {
	if c.source == nil {
		fatalf(op, "no task source attached")
	}
}

// SetNestingObserver installs the observer told about nested loops.
func (c *ThreadController) SetNestingObserver(o NestingObserver) {
	c.nestingObserver = o
}

// BindToCurrentThread attaches the controller to the calling goroutine and
// pump. One DoWork is always posted so that work queued before binding,
// immediate or delayed, gets scheduled.
func (c *ThreadController) BindToCurrentThread(pump MessagePump) {
	c.requireSource("ThreadController.BindToCurrentThread")
	c.bound.Bind()
	c.pump = pump
	c.dedup.BindToCurrentThread()
	c.dedup.OnWorkRequested()
	c.postImmediateContinuation()
}

func (c *ThreadController) SetWorkBatchSize(n int) {
	c.requireSource("ThreadController.SetWorkBatchSize")
	if n < 1 {
		n = 1
	}
	c.main.workBatchSize = n
}

func (c *ThreadController) SetTimerSlack(slack TimerSlack) {
	c.requireSource("ThreadController.SetTimerSlack")
	if c.pump != nil {
		c.pump.SetTimerSlack(slack)
	}
}

// ScheduleWork asks for a DoWork soon. Safe from any goroutine.
func (c *ThreadController) ScheduleWork() {
	c.requireSource("ThreadController.ScheduleWork")
	if c.dedup.OnWorkRequested() == ScheduleWorkImmediate {
		c.postImmediateContinuation()
	}
}

// SetNextDelayedDoWork makes sure DoWork runs at runTime. A zero runTime
// means no delayed work: any pending delayed continuation is cancelled.
func (c *ThreadController) SetNextDelayedDoWork(lazyNow *LazyNow, runTime time.Time) {
	c.requireSource("ThreadController.SetNextDelayedDoWork")
	c.bound.Assert("ThreadController.SetNextDelayedDoWork")

	if runTime.Equal(c.main.nextDelayedDoWork) {
		return
	}
	if runTime.IsZero() {
		c.cancelDelayedContinuation()
		c.main.nextDelayedDoWork = time.Time{}
		return
	}
	if c.dedup.OnDelayedWorkRequested() == ScheduleWorkNotNeeded {
		return
	}
	delay := max(runTime.Sub(lazyNow.Now()), 0)
	c.main.nextDelayedDoWork = runTime
	c.resetDelayedContinuation(delay)
}

// NextDelayedDoWork returns the run time of the pending delayed continuation,
// or zero when none is pending.
func (c *ThreadController) NextDelayedDoWork() time.Time {
	return c.main.nextDelayedDoWork
}

// DoWork runs up to the batch size of tasks and schedules the next continuation.
func (c *ThreadController) DoWork() {
	c.doWork(false)
}

func (c *ThreadController) doWork(delayed bool) {
	if c.destroyed.Load() {
		return
	}
	c.requireSource("ThreadController.DoWork")
	c.bound.Assert("ThreadController.DoWork")

	c.dedup.OnWorkStarted()
	if delayed {
		c.main.nextDelayedDoWork = time.Time{}
	} else {
		c.anyMu.Lock()
		c.anySeq.immediateDoWorkPosted = false
		c.anyMu.Unlock()
	}

	for i := 0; i < c.main.workBatchSize; i++ {
		lazyNow := NewLazyNow(c.clock)
		selected, ok := c.source.TakeTask(lazyNow)
		if !ok {
			break
		}
		loopsBefore := c.main.nestedLoopsEntered
		c.runTask(selected)
		if c.destroyed.Load() {
			return
		}
		c.source.DidRunTask(NewLazyNow(c.clock))

		// A nested loop may quit at any time, so remaining work must be
		// left for the loop that owns it.
		if c.main.nestingDepth > 0 || c.main.nestedLoopsEntered != loopsBefore {
			break
		}
	}

	c.dedup.WillCheckForMoreWork()

	lazyNow := NewLazyNow(c.clock)
	delay := c.source.DelayTillNextTask(lazyNow)
	if delay > 0 && c.source.OnIdle() {
		delay = 0
	}

	if delay <= 0 {
		if c.dedup.DidCheckForMoreWork(true) == ScheduleWorkImmediate {
			c.postImmediateContinuation()
		}
		return
	}

	if c.dedup.DidCheckForMoreWork(false) == ScheduleWorkImmediate {
		c.postImmediateContinuation()
		return
	}

	if delay == InfiniteDelay {
		c.cancelDelayedContinuation()
		c.main.nextDelayedDoWork = time.Time{}
		return
	}

	runTime := lazyNow.Now().Add(delay)
	if runTime.Equal(c.main.nextDelayedDoWork) {
		return
	}
	c.main.nextDelayedDoWork = runTime
	c.resetDelayedContinuation(delay)
}

func (c *ThreadController) runTask(selected *SelectedTask) {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				panic(fe)
			}
			selected.Panicked = true
			c.metrics.RecordTaskPanic(selected.QueueName, r)
			c.panicHandler.HandlePanic(selected.Ctx, selected.QueueName, selected.TaskName, r, debug.Stack())
		}
	}()
	selected.Task(selected.Ctx)
}

// OnBeginNestedRunLoop is called when a task starts a nested loop. It makes
// sure the nested loop gets a continuation even if one is already in flight
// for the outer loop.
func (c *ThreadController) OnBeginNestedRunLoop() {
	c.requireSource("ThreadController.OnBeginNestedRunLoop")
	c.main.nestingDepth++
	c.main.nestedLoopsEntered++

	post := false
	c.anyMu.Lock()
	c.anySeq.nestingDepth++
	if !c.anySeq.immediateDoWorkPosted {
		c.anySeq.immediateDoWorkPosted = true
		post = true
	}
	c.anyMu.Unlock()

	if post {
		c.pump.PostContinuation(c.immediateContinuation())
	}
	if c.nestingObserver != nil {
		c.nestingObserver.OnBeginNestedRunLoop()
	}
}

func (c *ThreadController) OnExitNestedRunLoop() {
	c.requireSource("ThreadController.OnExitNestedRunLoop")
	c.main.nestingDepth--

	c.anyMu.Lock()
	c.anySeq.nestingDepth--
	c.anyMu.Unlock()

	if c.nestingObserver != nil {
		c.nestingObserver.OnExitNestedRunLoop()
	}
}

// NestingDepth returns the number of nested loops currently running.
func (c *ThreadController) NestingDepth() int {
	return c.main.nestingDepth
}

// RunNestedLoopUntilIdle runs a nested loop from inside a task. It returns
// once no continuation is left in the pump. Non-nestable tasks stay
// deferred until the outer loop regains control.
func (c *ThreadController) RunNestedLoopUntilIdle() {
	c.bound.Assert("ThreadController.RunNestedLoopUntilIdle")
	prevQuit := c.main.quitWhenIdle
	c.main.quitWhenIdle = true
	c.OnBeginNestedRunLoop()
	defer func() {
		c.OnExitNestedRunLoop()
		c.main.quitWhenIdle = prevQuit
	}()
	c.pump.RunUntilIdle()
}

// SetQuitWhenIdle tells idle handling that the current loop is about to quit.
func (c *ThreadController) SetQuitWhenIdle(quit bool) {
	c.main.quitWhenIdle = quit
}

func (c *ThreadController) ShouldQuitWhenIdle() bool {
	return c.main.quitWhenIdle
}

// Destroy makes every pending continuation inert.
func (c *ThreadController) Destroy() {
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	c.cancelDelayedContinuation()
	c.dedup.Unbind()
}

func (c *ThreadController) immediateContinuation() func() {
	return func() { c.doWork(false) }
}

func (c *ThreadController) postImmediateContinuation() {
	if c.pump == nil || c.destroyed.Load() {
		return
	}
	c.anyMu.Lock()
	c.anySeq.immediateDoWorkPosted = true
	c.anyMu.Unlock()
	c.pump.PostContinuation(c.immediateContinuation())
}

func (c *ThreadController) resetDelayedContinuation(delay time.Duration) {
	c.cancelDelayedContinuation()
	if c.pump == nil {
		return
	}
	gen := c.delayedGen
	c.cancelDelayed = c.pump.PostDelayedContinuation(func() {
		if c.delayedGen != gen {
			return
		}
		c.doWork(true)
	}, delay)
}

func (c *ThreadController) cancelDelayedContinuation() {
	c.delayedGen++
	if c.cancelDelayed != nil {
		c.cancelDelayed()
		c.cancelDelayed = nil
	}
}
