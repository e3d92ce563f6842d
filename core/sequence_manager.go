package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type executingTask struct {
	queue     *taskQueueImpl
	task      *PendingTask
	selected  *SelectedTask
	startedAt time.Time
}

type deferredTask struct {
	task  *PendingTask
	queue *taskQueueImpl
	kind  workQueueKind
}

type managerMainState struct {
	activeQueues     []*taskQueueImpl
	gracefulShutdown map[*taskQueueImpl]struct{}
	pendingDeletion  []*taskQueueImpl

	executionStack []executingTask
	nestingDepth   int
	deferred       []deferredTask

	nextReclaim   time.Time
	onNextIdle    []func()
	taskObservers []TaskObserver
	timeDomains   []TimeDomain
}

// SequenceManager owns a set of TaskQueues and hands their tasks to a
// ThreadController, one at a time, on a single bound goroutine.
//
// Queues are created and controlled on the bound thread. Posting to them is
// safe from any goroutine.
type SequenceManager struct {
	id       string
	sentinel uint64
	settings Settings

	bound      *BoundThread
	controller *ThreadController
	orders     *EnqueueOrderGenerator
	sequence   atomic.Uint64

	queues     queueTable
	flags      atomicFlagSet
	selector   *taskQueueSelector
	realDomain *RealTimeDomain

	ctx    context.Context
	cancel context.CancelFunc

	anyMu           sync.Mutex
	pendingReleases []QueueID
	releasesPending atomic.Bool

	taskRanOnMonitoredQueue atomic.Bool
	tasksRun                atomic.Uint64
	addQueueTime            atomic.Bool

	main managerMainState
}

// NewSequenceManager creates an unbound manager. Call BindToMessagePump on
// the goroutine that will run its tasks.
func NewSequenceManager(settings Settings) *SequenceManager {
	settings = settings.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	m := &SequenceManager{
		id:         uuid.NewString(),
		sentinel:   sentinelAlive,
		settings:   settings,
		bound:      NewBoundThread("SequenceManager " + settings.Name),
		orders:     NewEnqueueOrderGenerator(),
		selector:   newTaskQueueSelector(settings.StarvationLimits),
		realDomain: NewRealTimeDomain(settings.Clock),
		ctx:        ctx,
		cancel:     cancel,
	}
	m.main.gracefulShutdown = make(map[*taskQueueImpl]struct{})
	m.addQueueTime.Store(settings.AddQueueTimeToTasks)
	m.controller = NewThreadController(settings.Clock, settings.PanicHandler, settings.Metrics)
	m.controller.SetSequencedTaskSource(m)
	m.controller.SetNestingObserver(m)
	m.controller.SetWorkBatchSize(settings.WorkBatchSize)
	return m
}

// ID is the unique id of the manager, used as its crash key.
func (m *SequenceManager) ID() string { return m.id }

func (m *SequenceManager) Name() string { return m.settings.Name }

// Logger returns the manager's logger.
func (m *SequenceManager) Logger() Logger { return m.settings.Logger }

// Controller returns the ThreadController driving this manager.
func (m *SequenceManager) Controller() *ThreadController { return m.controller }

// BindToMessagePump binds the manager to the calling goroutine and starts
// asking pump for DoWork continuations.
func (m *SequenceManager) BindToMessagePump(pump MessagePump) {
	m.checkSentinel("SequenceManager.BindToMessagePump")
	m.bound.Bind()
	m.controller.BindToCurrentThread(pump)
	m.controller.SetTimerSlack(m.settings.TimerSlack)
	m.settings.Logger.Debug("sequence manager bound",
		F("manager", m.settings.Name), F("id", m.id))
}

func (m *SequenceManager) SetWorkBatchSize(n int) {
	m.controller.SetWorkBatchSize(n)
}

func (m *SequenceManager) SetTimerSlack(slack TimerSlack) {
	m.settings.TimerSlack = slack
	m.controller.SetTimerSlack(slack)
}

// SetAddQueueTimeToTasks turns recording of post times on or off for tasks
// posted after the call.
func (m *SequenceManager) SetAddQueueTimeToTasks(enable bool) {
	m.bound.Assert("SequenceManager.SetAddQueueTimeToTasks")
	// Producers read the flag from any goroutine.
	m.addQueueTime.Store(enable)
}

// ScheduleWork asks the controller for a DoWork. Any goroutine may call it.
func (m *SequenceManager) ScheduleWork() {
	m.controller.ScheduleWork()
}

func (m *SequenceManager) nextSequence() uint64 {
	return m.sequence.Add(1)
}

func (m *SequenceManager) onBoundThread() bool {
	return m.bound.IsBound() && m.bound.IsCurrent()
}

func (m *SequenceManager) rejectTask(queueName, reason string) {
	m.settings.Metrics.RecordTaskRejected(queueName, reason)
	m.settings.RejectedTaskHandler.HandleRejectedTask(queueName, reason)
}

// =============================================================================
// SequencedTaskSource
// =============================================================================

// TakeTask selects the next task. Non-nestable tasks picked while a nested
// loop runs are set aside until the outermost loop regains control.
func (m *SequenceManager) TakeTask(lazyNow *LazyNow) (*SelectedTask, bool) {
	m.checkSentinel("SequenceManager.TakeTask")
	m.bound.Assert("SequenceManager.TakeTask")
	if len(m.main.executionStack) != m.main.nestingDepth {
		fatalf("SequenceManager.TakeTask", "called again before DidRunTask (stack %d, depth %d)",
			len(m.main.executionStack), m.main.nestingDepth)
	}

	m.processPendingReleases()
	m.reloadDirtyQueues()
	m.moveReadyDelayedTasks(lazyNow)

	for {
		c := m.selector.Select(bestPerBand(m.main.activeQueues))
		if c == nil {
			return nil, false
		}
		t := c.queue.takeTask(c.work)
		if m.main.nestingDepth > 0 && t.traits.Nestability == NonNestable {
			c.queue.deferTask()
			m.main.deferred = append(m.main.deferred, deferredTask{task: t, queue: c.queue, kind: c.work.kind})
			continue
		}
		return m.startTask(c.queue, t, lazyNow), true
	}
}

func (m *SequenceManager) startTask(q *taskQueueImpl, t *PendingTask, lazyNow *LazyNow) *SelectedTask {
	selected := &SelectedTask{
		Task:      t.task,
		Ctx:       q.ctx,
		QueueName: q.name,
		TaskName:  t.Name(),
		Priority:  q.main.priority,
	}
	entry := executingTask{queue: q, task: t, selected: selected, startedAt: lazyNow.Now()}
	m.main.executionStack = append(m.main.executionStack, entry)

	if q.spec.ShouldMonitorQuiescence {
		m.taskRanOnMonitoredQueue.Store(true)
	}
	if m.settings.RecordCrashKeys {
		setCrashKey(m.id, CrashKey{
			Manager:   m.settings.Name,
			QueueName: q.name,
			TaskName:  selected.TaskName,
			Depth:     m.main.nestingDepth,
		})
	}
	if q.spec.ShouldNotifyObservers {
		info := m.taskInfo(entry)
		for _, o := range m.main.taskObservers {
			o.WillProcessTask(info)
		}
	}
	return selected
}

func (m *SequenceManager) taskInfo(e executingTask) TaskInfo {
	return TaskInfo{
		QueueName: e.queue.name,
		TaskName:  e.selected.TaskName,
		Priority:  e.selected.Priority,
		TaskType:  e.task.taskType,
		Order:     e.task.order,
		QueueTime: e.task.queueTime,
		StartedAt: e.startedAt,
	}
}

// DidRunTask finishes the task handed out by the matching TakeTask.
func (m *SequenceManager) DidRunTask(lazyNow *LazyNow) {
	m.checkSentinel("SequenceManager.DidRunTask")
	m.bound.Assert("SequenceManager.DidRunTask")
	if len(m.main.executionStack) != m.main.nestingDepth+1 {
		fatalf("SequenceManager.DidRunTask", "no task taken at depth %d (stack %d)",
			m.main.nestingDepth, len(m.main.executionStack))
	}

	last := len(m.main.executionStack) - 1
	entry := m.main.executionStack[last]
	m.main.executionStack[last] = executingTask{}
	m.main.executionStack = m.main.executionStack[:last]

	q := entry.queue
	duration := lazyNow.Now().Sub(entry.startedAt)
	q.tasksRun.Add(1)
	m.tasksRun.Add(1)
	m.settings.Metrics.RecordTaskDuration(q.name, entry.selected.Priority, duration)
	m.settings.Metrics.RecordQueueDepth(q.name, q.numberOfPendingTasks())

	if q.spec.ShouldNotifyObservers {
		info := m.taskInfo(entry)
		info.Duration = duration
		info.Panicked = entry.selected.Panicked
		for _, o := range m.main.taskObservers {
			o.DidProcessTask(info)
		}
	}

	if m.settings.RecordCrashKeys {
		if n := len(m.main.executionStack); n > 0 {
			outer := m.main.executionStack[n-1]
			setCrashKey(m.id, CrashKey{
				Manager:   m.settings.Name,
				QueueName: outer.queue.name,
				TaskName:  outer.selected.TaskName,
				Depth:     n - 1,
			})
		} else {
			clearCrashKey(m.id)
		}
	}

	if m.main.nestingDepth == 0 {
		m.cleanUpQueues()
		m.maybeReclaimMemory(lazyNow)
	}
}

// DelayTillNextTask returns 0 when some enabled queue has a task it can run,
// the time until the earliest pump wake-up otherwise, or InfiniteDelay.
func (m *SequenceManager) DelayTillNextTask(lazyNow *LazyNow) time.Duration {
	m.bound.Assert("SequenceManager.DelayTillNextTask")
	m.processPendingReleases()
	m.reloadDirtyQueues()

	next := InfiniteDelay
	for _, q := range m.main.activeQueues {
		if !q.isEnabledMain() {
			continue
		}
		if q.hasRunnableWork() {
			return 0
		}
		wake := q.main.delayedIncoming.NextRunTime()
		if wake.IsZero() {
			continue
		}
		domain := q.timeDomain()
		now := m.domainNow(q, lazyNow)
		if !wake.After(now) {
			return 0
		}
		at := domain.NextDelayedTaskTime(wake, now)
		if at.IsZero() {
			continue
		}
		if delay := at.Sub(now); delay <= 0 {
			return 0
		} else if delay < next {
			next = delay
		}
	}
	return next
}

// OnIdle runs the idle callbacks and lets virtual time domains fast-forward.
func (m *SequenceManager) OnIdle() bool {
	m.bound.Assert("SequenceManager.OnIdle")

	m.maybeReclaimMemory(NewLazyNow(m.settings.Clock))

	callbacks := m.main.onNextIdle
	m.main.onNextIdle = nil
	for _, cb := range callbacks {
		cb()
	}

	quitWhenIdle := m.controller.ShouldQuitWhenIdle()
	madeWork := m.realDomain.MaybeFastForwardToWakeUp(m.nextWakeUpIn(m.realDomain), quitWhenIdle)
	for _, d := range m.main.timeDomains {
		if d.MaybeFastForwardToWakeUp(m.nextWakeUpIn(d), quitWhenIdle) {
			madeWork = true
		}
	}
	return madeWork
}

// nextWakeUpIn returns the earliest wake-up of enabled queues in domain d.
func (m *SequenceManager) nextWakeUpIn(d TimeDomain) time.Time {
	var next time.Time
	for _, q := range m.main.activeQueues {
		if q.timeDomain() != d || !q.isEnabledMain() {
			continue
		}
		wake := q.main.delayedIncoming.NextRunTime()
		if wake.IsZero() {
			continue
		}
		if next.IsZero() || wake.Before(next) {
			next = wake
		}
	}
	return next
}

func (m *SequenceManager) domainNow(q *taskQueueImpl, lazyNow *LazyNow) time.Time {
	if d := q.timeDomain(); d != TimeDomain(m.realDomain) {
		return d.Now()
	}
	return lazyNow.Now()
}

func (m *SequenceManager) reloadDirtyQueues() {
	m.flags.RunActive(func(q *taskQueueImpl) {
		q.reloadImmediateWorkQueueIfEmpty()
	})
}

// moveReadyDelayedTasks gives every delayed task that became due in this
// pass the same enqueue order, generated only if one is found.
func (m *SequenceManager) moveReadyDelayedTasks(lazyNow *LazyNow) {
	var group EnqueueOrder
	nextOrder := func() EnqueueOrder {
		if !group.IsSet() {
			group = m.orders.GenerateNext()
		}
		return group
	}
	for _, q := range m.main.activeQueues {
		q.moveReadyDelayedTasks(m.domainNow(q, lazyNow), nextOrder)
	}
}

// onQueueWakeUpChanged re-arms the controller's delayed DoWork for the
// earliest pump wake-up across all queues.
func (m *SequenceManager) onQueueWakeUpChanged() {
	if !m.onBoundThread() {
		return
	}
	lazyNow := NewLazyNow(m.settings.Clock)
	var next time.Time
	for _, q := range m.main.activeQueues {
		wake := q.main.scheduledWakeUp
		if wake.IsZero() {
			continue
		}
		domain := q.timeDomain()
		now := m.domainNow(q, lazyNow)
		at := domain.NextDelayedTaskTime(wake, now)
		if at.IsZero() {
			continue
		}
		if domain != TimeDomain(m.realDomain) {
			at = lazyNow.Now().Add(at.Sub(now))
		}
		if next.IsZero() || at.Before(next) {
			next = at
		}
	}
	m.controller.SetNextDelayedDoWork(lazyNow, next)
}

// =============================================================================
// Nesting
// =============================================================================

func (m *SequenceManager) OnBeginNestedRunLoop() {
	m.main.nestingDepth++
	if o := m.settings.NestingObserver; o != nil {
		o.OnBeginNestedRunLoop()
	}
}

// OnExitNestedRunLoop puts deferred non-nestable tasks back at the front of
// their queues once the outermost loop is back in control.
func (m *SequenceManager) OnExitNestedRunLoop() {
	m.main.nestingDepth--
	if m.main.nestingDepth == 0 && len(m.main.deferred) > 0 {
		deferred := m.main.deferred
		m.main.deferred = nil
		for i := len(deferred) - 1; i >= 0; i-- {
			d := deferred[i]
			if d.queue.isUnregistered() {
				continue
			}
			d.queue.requeueDeferred(d.task, d.kind)
		}
		m.ScheduleWork()
	}
	if o := m.settings.NestingObserver; o != nil {
		o.OnExitNestedRunLoop()
	}
}

// RunNestedLoopUntilIdle runs a nested loop from inside a task.
func (m *SequenceManager) RunNestedLoopUntilIdle() {
	m.controller.RunNestedLoopUntilIdle()
}

// =============================================================================
// Observers, idle callbacks, quiescence
// =============================================================================

func (m *SequenceManager) AddTaskObserver(o TaskObserver) {
	m.bound.Assert("SequenceManager.AddTaskObserver")
	m.main.taskObservers = append(m.main.taskObservers, o)
}

func (m *SequenceManager) RemoveTaskObserver(o TaskObserver) {
	m.bound.Assert("SequenceManager.RemoveTaskObserver")
	for i, existing := range m.main.taskObservers {
		if existing == o {
			m.main.taskObservers = append(m.main.taskObservers[:i], m.main.taskObservers[i+1:]...)
			return
		}
	}
}

// RegisterOnNextIdleCallback runs cb the next time the manager goes idle.
func (m *SequenceManager) RegisterOnNextIdleCallback(cb func()) {
	m.bound.Assert("SequenceManager.RegisterOnNextIdleCallback")
	m.main.onNextIdle = append(m.main.onNextIdle, cb)
}

// GetAndClearSystemIsQuiescentBit reports whether no task ran on a queue
// monitored for quiescence since the previous call.
func (m *SequenceManager) GetAndClearSystemIsQuiescentBit() bool {
	return !m.taskRanOnMonitoredQueue.Swap(false)
}

// CurrentlyExecutingTaskQueue returns the queue of the innermost running
// task, or nil outside a task.
func (m *SequenceManager) CurrentlyExecutingTaskQueue() *TaskQueue {
	m.bound.Assert("SequenceManager.CurrentlyExecutingTaskQueue")
	n := len(m.main.executionStack)
	if n == 0 {
		return nil
	}
	return m.main.executionStack[n-1].queue.handle
}

// IsIdleForTesting reports whether no queue has a task it could run now.
func (m *SequenceManager) IsIdleForTesting() bool {
	m.bound.Assert("SequenceManager.IsIdleForTesting")
	m.processPendingReleases()
	m.reloadDirtyQueues()
	return !m.selector.HasRunnableWork(bestPerBand(m.main.activeQueues))
}

// =============================================================================
// Memory reclaim
// =============================================================================

func (m *SequenceManager) maybeReclaimMemory(lazyNow *LazyNow) {
	now := lazyNow.Now()
	if m.main.nextReclaim.IsZero() {
		m.main.nextReclaim = now.Add(m.settings.ReclaimMemoryInterval)
		return
	}
	if now.Before(m.main.nextReclaim) {
		return
	}
	m.ReclaimMemory()
	m.main.nextReclaim = now.Add(m.settings.ReclaimMemoryInterval)
}

// ReclaimMemory drops cancelled tasks from every queue and shrinks their storage.
func (m *SequenceManager) ReclaimMemory() {
	m.bound.Assert("SequenceManager.ReclaimMemory")
	dropped := 0
	for _, q := range m.main.activeQueues {
		dropped += q.reclaimMemory()
	}
	if dropped > 0 {
		m.settings.Logger.Debug("reclaimed cancelled tasks",
			F("manager", m.settings.Name), F("dropped", dropped))
	}
}

// Shutdown unregisters every queue and makes the manager unusable.
// Bound thread only.
func (m *SequenceManager) Shutdown() {
	m.bound.Assert("SequenceManager.Shutdown")
	if m.sentinel != sentinelAlive {
		return
	}
	dropped := 0
	for _, q := range m.main.activeQueues {
		dropped += q.unregister()
		m.flags.Release(q.flag)
		m.queues.Remove(q.id)
	}
	m.main.activeQueues = nil
	m.main.gracefulShutdown = make(map[*taskQueueImpl]struct{})
	m.main.pendingDeletion = nil
	m.main.deferred = nil
	m.main.onNextIdle = nil

	m.controller.Destroy()
	m.cancel()
	clearCrashKey(m.id)
	m.sentinel = sentinelDead
	m.settings.Logger.Info("sequence manager shut down",
		F("manager", m.settings.Name), F("dropped", dropped))
}
