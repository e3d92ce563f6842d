package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueueSpec declares a queue. Build it with NewTaskQueueSpec so the
// defaults (normal priority, observers notified) are set.
type TaskQueueSpec struct {
	Name                    string
	Priority                TaskPriority
	ShouldMonitorQuiescence bool
	ShouldNotifyObservers   bool
	DelayedFencesAllowed    bool
	// TimeDomain must be registered with the manager. Nil means the real domain.
	TimeDomain TimeDomain
}

func NewTaskQueueSpec(name string) TaskQueueSpec {
	return TaskQueueSpec{
		Name:                  name,
		Priority:              DefaultTaskPriority,
		ShouldNotifyObservers: true,
	}
}

func (s TaskQueueSpec) WithPriority(p TaskPriority) TaskQueueSpec {
	s.Priority = p
	return s
}

func (s TaskQueueSpec) WithQuiescenceMonitoring(enabled bool) TaskQueueSpec {
	s.ShouldMonitorQuiescence = enabled
	return s
}

func (s TaskQueueSpec) WithObserverNotification(enabled bool) TaskQueueSpec {
	s.ShouldNotifyObservers = enabled
	return s
}

func (s TaskQueueSpec) WithDelayedFences(allowed bool) TaskQueueSpec {
	s.DelayedFencesAllowed = allowed
	return s
}

func (s TaskQueueSpec) WithTimeDomain(d TimeDomain) TaskQueueSpec {
	s.TimeDomain = d
	return s
}

// FenceKind selects where InsertFence puts the fence.
type FenceKind int

const (
	// FenceNow lets already posted tasks run and blocks later ones.
	FenceNow FenceKind = iota
	// FenceBeginningOfTime blocks every task in the queue.
	FenceBeginningOfTime
)

// WakeUpObserver hears about changes of a queue's next delayed wake-up.
// A zero wake-up means the queue has no delayed work.
type WakeUpObserver interface {
	OnQueueNextWakeUpChanged(queueName string, wakeUp time.Time)
}

type postedTask struct {
	task     Task
	traits   TaskTraits
	taskType TaskType
	delay    time.Duration
	canceled *atomic.Bool
}

type anyThreadQueueState struct {
	incoming                incomingQueue
	immediateWorkQueueEmpty bool
	postShouldScheduleWork  bool
	unregistered            bool
	isEnabled               bool
	priority                TaskPriority
	wakeUpObservers         []WakeUpObserver
}

type mainThreadQueueState struct {
	immediate       *workQueue
	delayed         *workQueue
	delayedIncoming delayedIncomingQueue
	fence           EnqueueOrder
	delayedFence    time.Time
	priority        TaskPriority
	voters          int
	enabledVoters   int
	deferred        int
	scheduledWakeUp time.Time
}

type timeDomainRef struct {
	TimeDomain
}

// taskQueueImpl is the manager-owned state of one queue.
//
// Producers touch only anyMu-protected state. Everything in main belongs to
// the bound thread.
type taskQueueImpl struct {
	name    string
	spec    TaskQueueSpec
	id      QueueID
	manager *SequenceManager
	handle  *TaskQueue
	ctx     context.Context
	flag    atomicFlag
	domain  atomic.Pointer[timeDomainRef]

	anyMu sync.Mutex
	any   anyThreadQueueState

	main mainThreadQueueState

	// Mirrors of main-thread sizes for producers.
	readyCount   atomic.Int64
	delayedCount atomic.Int64
	nextWakeUp   atomic.Int64
	tasksRun     atomic.Uint64
}

func newTaskQueueImpl(m *SequenceManager, spec TaskQueueSpec, domain TimeDomain) *taskQueueImpl {
	q := &taskQueueImpl{
		name:    spec.Name,
		spec:    spec,
		manager: m,
	}
	q.domain.Store(&timeDomainRef{domain})
	q.main.immediate = newWorkQueue(workQueueImmediate)
	q.main.delayed = newWorkQueue(workQueueDelayed)
	q.main.priority = spec.Priority
	q.any.incoming = newIncomingQueue()
	q.any.immediateWorkQueueEmpty = true
	q.any.postShouldScheduleWork = true
	q.any.isEnabled = true
	q.any.priority = spec.Priority
	return q
}

func (q *taskQueueImpl) timeDomain() TimeDomain {
	return q.domain.Load().TimeDomain
}

func (q *taskQueueImpl) setTimeDomain(d TimeDomain) {
	q.domain.Store(&timeDomainRef{d})
}

func (q *taskQueueImpl) recordsQueueTime() bool {
	return q.spec.DelayedFencesAllowed || q.manager.addQueueTime.Load()
}

// =============================================================================
// Posting (any goroutine)
// =============================================================================

func (q *taskQueueImpl) postTask(p postedTask) bool {
	if p.delay > 0 {
		return q.postDelayedTask(p)
	}
	return q.postImmediateTask(p)
}

type postDecision struct {
	accepted bool
	setFlag  bool
	schedule bool
}

func (q *taskQueueImpl) postImmediateTask(p postedTask) bool {
	var queueTime time.Time
	if q.recordsQueueTime() {
		queueTime = q.timeDomain().Now()
	}

	d := lockedValue(&q.anyMu, func() postDecision {
		if q.any.unregistered {
			return postDecision{}
		}
		wasEmpty := q.any.incoming.Empty()
		q.any.incoming.Push(&PendingTask{
			task:     p.task,
			traits:   p.traits,
			taskType: p.taskType,
			order: TaskOrder{
				EnqueueOrder: q.manager.orders.GenerateNext(),
				Sequence:     q.manager.nextSequence(),
			},
			queueTime: queueTime,
			canceled:  p.canceled,
		})
		return postDecision{
			accepted: true,
			setFlag:  wasEmpty && q.any.immediateWorkQueueEmpty,
			schedule: wasEmpty && q.any.postShouldScheduleWork,
		}
	})

	if !d.accepted {
		q.manager.rejectTask(q.name, "unregistered")
		return false
	}
	if d.setFlag {
		q.flag.Set()
	}
	if d.schedule {
		q.manager.ScheduleWork()
	}
	return true
}

func (q *taskQueueImpl) postDelayedTask(p postedTask) bool {
	now := q.timeDomain().Now()
	task := &PendingTask{
		task:     p.task,
		traits:   p.traits,
		taskType: p.taskType,
		order: TaskOrder{
			DelayedRunTime: now.Add(p.delay),
			Sequence:       q.manager.nextSequence(),
		},
		canceled: p.canceled,
	}
	if q.recordsQueueTime() {
		task.queueTime = now
	}

	if q.manager.onBoundThread() {
		if lockedValue(&q.anyMu, func() bool { return q.any.unregistered }) {
			q.manager.rejectTask(q.name, "unregistered")
			return false
		}
		q.pushDelayedFromMainThread(task)
		return true
	}

	// The delayed heap is bound-thread state, so other goroutines hand the
	// task over through a non-nestable immediate task.
	return q.postImmediateTask(postedTask{
		task: func(ctx context.Context) {
			q.pushDelayedFromMainThread(task)
		},
		traits:   TaskTraits{Nestability: NonNestable, Name: "ScheduleDelayedTask"},
		taskType: p.taskType,
	})
}

func (q *taskQueueImpl) pushDelayedFromMainThread(task *PendingTask) {
	if q.isUnregistered() {
		return
	}
	q.main.delayedIncoming.Push(task)
	q.syncCounts()
	q.updateWakeUp()
}

// =============================================================================
// Bound-thread queue maintenance
// =============================================================================

// syncCounts refreshes the producer-visible size mirrors.
func (q *taskQueueImpl) syncCounts() {
	q.readyCount.Store(int64(q.main.immediate.Len() + q.main.delayed.Len() + q.main.deferred))
	q.delayedCount.Store(int64(q.main.delayedIncoming.Len()))
}

// reloadImmediateWorkQueueIfEmpty moves incoming tasks into the immediate
// ready buffer when that buffer is empty. It reports whether tasks moved.
func (q *taskQueueImpl) reloadImmediateWorkQueueIfEmpty() bool {
	if !q.main.immediate.Empty() {
		return false
	}
	fenceAt := EnqueueOrderNone
	moved := lockedValue(&q.anyMu, func() int {
		n := q.any.incoming.TakeAll(func(t *PendingTask) {
			q.main.immediate.Push(t)
			if !fenceAt.IsSet() && q.reachesDelayedFence(t) {
				fenceAt = t.order.EnqueueOrder
			}
		})
		q.any.immediateWorkQueueEmpty = q.main.immediate.Empty()
		q.syncCounts()
		return n
	})
	if fenceAt.IsSet() {
		q.activateDelayedFence(fenceAt)
	}
	return moved > 0
}

// moveReadyDelayedTasks moves due delayed tasks into the delayed ready
// buffer. All tasks moved in one pass share the order returned by nextOrder.
func (q *taskQueueImpl) moveReadyDelayedTasks(now time.Time, nextOrder func() EnqueueOrder) {
	if !q.main.delayedIncoming.HasReadyTask(now) {
		return
	}
	order := nextOrder()
	fenceAt := EnqueueOrderNone
	q.main.delayedIncoming.PopReady(now, func(t *PendingTask) {
		t.order.EnqueueOrder = order
		q.main.delayed.Push(t)
		if !fenceAt.IsSet() && q.reachesDelayedFence(t) {
			fenceAt = order
		}
	})
	q.syncCounts()
	if fenceAt.IsSet() {
		q.activateDelayedFence(fenceAt)
	}
	q.updateWakeUp()
}

// runnableFront returns the ready buffer and task that would run next, or
// nil when everything is empty or fenced.
func (q *taskQueueImpl) runnableFront() (*workQueue, *PendingTask) {
	// Posts made while the buffer held tasks never set the dirty flag, so an
	// empty buffer is always refilled here.
	for {
		q.main.immediate.RemoveCanceledFromFront()
		if !q.main.immediate.Empty() || !q.reloadImmediateWorkQueueIfEmpty() {
			break
		}
	}
	q.main.delayed.RemoveCanceledFromFront()
	q.syncCounts()

	imm := q.main.immediate.EligibleFront()
	del := q.main.delayed.EligibleFront()
	switch {
	case imm == nil && del == nil:
		return nil, nil
	case imm == nil:
		return q.main.delayed, del
	case del == nil:
		return q.main.immediate, imm
	case del.order.Less(imm.order):
		return q.main.delayed, del
	default:
		return q.main.immediate, imm
	}
}

// takeTask pops the front of wq.
func (q *taskQueueImpl) takeTask(wq *workQueue) *PendingTask {
	t := wq.TakeTask()
	if wq == q.main.immediate && wq.Empty() {
		q.reloadImmediateWorkQueueIfEmpty()
	}
	q.syncCounts()
	return t
}

// deferTask keeps a task taken for deferral counted as pending.
func (q *taskQueueImpl) deferTask() {
	q.main.deferred++
	q.syncCounts()
}

// requeueDeferred puts a deferred task back at the front of the buffer it came from.
func (q *taskQueueImpl) requeueDeferred(t *PendingTask, kind workQueueKind) {
	q.main.deferred--
	if kind == workQueueDelayed {
		q.main.delayed.PushFront(t)
	} else {
		q.main.immediate.PushFront(t)
		withLock(&q.anyMu, func() {
			q.any.immediateWorkQueueEmpty = false
		})
	}
	q.syncCounts()
}

func (q *taskQueueImpl) hasRunnableWork() bool {
	if !q.isEnabledMain() {
		return false
	}
	_, t := q.runnableFront()
	return t != nil
}

func (q *taskQueueImpl) isUnregistered() bool {
	return lockedValue(&q.anyMu, func() bool { return q.any.unregistered })
}

// updateWakeUp recomputes the queue's next delayed wake-up, tells the wake-up
// observers and the manager when it changed.
func (q *taskQueueImpl) updateWakeUp() {
	var wake time.Time
	if q.isEnabledMain() {
		wake = q.main.delayedIncoming.NextRunTime()
	}
	q.syncCounts()
	if wake.Equal(q.main.scheduledWakeUp) {
		return
	}
	q.main.scheduledWakeUp = wake
	if wake.IsZero() {
		q.nextWakeUp.Store(0)
	} else {
		q.nextWakeUp.Store(wake.UnixNano())
	}

	observers := lockedValue(&q.anyMu, func() []WakeUpObserver {
		return append([]WakeUpObserver(nil), q.any.wakeUpObservers...)
	})
	for _, o := range observers {
		o.OnQueueNextWakeUpChanged(q.name, wake)
	}
	q.manager.onQueueWakeUpChanged()
}

// reclaimMemory drops cancelled tasks and shrinks buffers. It returns the
// number of dropped tasks.
func (q *taskQueueImpl) reclaimMemory() int {
	dropped := q.main.immediate.SweepCanceled()
	dropped += q.main.delayed.SweepCanceled()
	dropped += q.main.delayedIncoming.SweepCanceled()
	dropped += lockedValue(&q.anyMu, func() int {
		n := q.any.incoming.SweepCanceled()
		q.any.immediateWorkQueueEmpty = q.main.immediate.Empty()
		q.syncCounts()
		return n
	})
	if q.reloadImmediateWorkQueueIfEmpty() && q.isEnabledMain() {
		q.manager.ScheduleWork()
	}
	q.updateWakeUp()
	return dropped
}

// unregister drops every pending task and refuses new posts.
func (q *taskQueueImpl) unregister() int {
	dropped := lockedValue(&q.anyMu, func() int {
		if q.any.unregistered {
			return 0
		}
		q.any.unregistered = true
		n := q.any.incoming.Len()
		q.any.incoming.Clear()
		q.any.wakeUpObservers = nil
		return n
	})
	dropped += q.main.immediate.Len() + q.main.delayed.Len() + q.main.delayedIncoming.Len()
	q.main.immediate.Clear()
	q.main.delayed.Clear()
	q.main.delayedIncoming.Clear()
	q.main.deferred = 0
	q.main.scheduledWakeUp = time.Time{}
	q.nextWakeUp.Store(0)
	q.syncCounts()
	return dropped
}

// =============================================================================
// Queries (any goroutine)
// =============================================================================

func (q *taskQueueImpl) isEmpty() bool {
	if q.readyCount.Load() != 0 || q.delayedCount.Load() != 0 {
		return false
	}
	return lockedValue(&q.anyMu, func() bool { return q.any.incoming.Empty() })
}

func (q *taskQueueImpl) numberOfPendingTasks() int {
	n := int(q.readyCount.Load() + q.delayedCount.Load())
	return n + lockedValue(&q.anyMu, func() int { return q.any.incoming.Len() })
}

func (q *taskQueueImpl) hasTaskToRunImmediately() bool {
	if q.readyCount.Load() != 0 {
		return true
	}
	if !lockedValue(&q.anyMu, func() bool { return q.any.incoming.Empty() }) {
		return true
	}
	// The goroutine lookup is only paid when delayed tasks are waiting.
	if q.delayedCount.Load() != 0 && q.manager.onBoundThread() {
		return q.main.delayedIncoming.HasReadyTask(q.timeDomain().Now())
	}
	return false
}

func (q *taskQueueImpl) nextScheduledWakeUp() time.Time {
	ns := q.nextWakeUp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (q *taskQueueImpl) isEnabledAnyThread() bool {
	return lockedValue(&q.anyMu, func() bool { return q.any.isEnabled })
}

func (q *taskQueueImpl) priorityAnyThread() TaskPriority {
	return lockedValue(&q.anyMu, func() TaskPriority { return q.any.priority })
}

func (q *taskQueueImpl) addWakeUpObserver(o WakeUpObserver) {
	withLock(&q.anyMu, func() {
		if !q.any.unregistered {
			q.any.wakeUpObservers = append(q.any.wakeUpObservers, o)
		}
	})
}

// =============================================================================
// Fences (bound thread)
// =============================================================================

func (q *taskQueueImpl) insertFence(kind FenceKind) {
	order := EnqueueOrderBlockingFence
	if kind == FenceNow {
		order = q.manager.orders.GenerateNext()
	}
	q.main.delayedFence = time.Time{}
	q.setFence(order)
}

func (q *taskQueueImpl) insertFenceAt(t time.Time) {
	if !q.spec.DelayedFencesAllowed {
		fatalf("TaskQueue.InsertFenceAt", "queue %q was not created with delayed fences allowed", q.name)
	}
	q.removeFence()
	q.main.delayedFence = t
}

func (q *taskQueueImpl) reachesDelayedFence(t *PendingTask) bool {
	if q.main.delayedFence.IsZero() {
		return false
	}
	ft := t.fenceTime()
	return !ft.IsZero() && !ft.Before(q.main.delayedFence)
}

func (q *taskQueueImpl) activateDelayedFence(order EnqueueOrder) {
	q.main.delayedFence = time.Time{}
	q.setFence(order)
}

func (q *taskQueueImpl) setFence(fence EnqueueOrder) {
	prev := q.main.fence
	q.main.fence = fence
	unblocked := q.main.immediate.InsertFence(fence)
	unblocked = q.main.delayed.InsertFence(fence) || unblocked

	withLock(&q.anyMu, func() {
		if !unblocked && prev.IsSet() && prev < fence {
			if front := q.any.incoming.Front(); front != nil &&
				front.order.EnqueueOrder > prev && front.order.EnqueueOrder < fence {
				unblocked = true
			}
		}
		q.updateCrossThreadStateLocked()
	})

	if unblocked && q.isEnabledMain() {
		q.manager.ScheduleWork()
	}
}

func (q *taskQueueImpl) removeFence() {
	prev := q.main.fence
	q.main.fence = EnqueueOrderNone
	q.main.delayedFence = time.Time{}
	unblocked := q.main.immediate.RemoveFence()
	unblocked = q.main.delayed.RemoveFence() || unblocked

	withLock(&q.anyMu, func() {
		if !unblocked && prev.IsSet() {
			if front := q.any.incoming.Front(); front != nil && front.order.EnqueueOrder >= prev {
				unblocked = true
			}
		}
		q.updateCrossThreadStateLocked()
	})

	if unblocked && q.isEnabledMain() {
		q.manager.ScheduleWork()
	}
}

func (q *taskQueueImpl) hasActiveFence() bool {
	if q.main.fence.IsSet() {
		return true
	}
	return !q.main.delayedFence.IsZero() && q.timeDomain().Now().After(q.main.delayedFence)
}

// blockedByFence is true when a fence is set and no buffer has a task that
// can pass it. An empty fenced queue counts as blocked.
func (q *taskQueueImpl) blockedByFence() bool {
	if !q.main.fence.IsSet() {
		return false
	}
	if !q.main.immediate.BlockedByFence() || !q.main.delayed.BlockedByFence() {
		return false
	}
	return lockedValue(&q.anyMu, func() bool {
		front := q.any.incoming.Front()
		return front == nil || front.order.EnqueueOrder >= q.main.fence
	})
}

// updateCrossThreadStateLocked copies main-thread state producers need.
// Caller holds anyMu.
func (q *taskQueueImpl) updateCrossThreadStateLocked() {
	q.any.immediateWorkQueueEmpty = q.main.immediate.Empty()
	q.any.isEnabled = q.isEnabledMain()
	q.any.postShouldScheduleWork = q.any.isEnabled && !q.main.fence.IsSet()
	q.any.priority = q.main.priority
}

// =============================================================================
// Priority and enable voting (bound thread)
// =============================================================================

func (q *taskQueueImpl) setPriority(p TaskPriority) {
	if !p.IsValid() {
		fatalf("TaskQueue.SetPriority", "invalid priority %d", p)
	}
	if p == q.main.priority {
		return
	}
	q.main.priority = p
	withLock(&q.anyMu, q.updateCrossThreadStateLocked)
}

func (q *taskQueueImpl) isEnabledMain() bool {
	return q.main.enabledVoters == q.main.voters
}

func (q *taskQueueImpl) addVoter() {
	q.main.voters++
	q.main.enabledVoters++
}

func (q *taskQueueImpl) removeVoter(votedEnabled bool) {
	wasEnabled := q.isEnabledMain()
	q.main.voters--
	if votedEnabled {
		q.main.enabledVoters--
	}
	q.onEnabledStateMaybeChanged(wasEnabled)
}

func (q *taskQueueImpl) changeVote(enable bool) {
	wasEnabled := q.isEnabledMain()
	if enable {
		q.main.enabledVoters++
	} else {
		q.main.enabledVoters--
	}
	q.onEnabledStateMaybeChanged(wasEnabled)
}

func (q *taskQueueImpl) onEnabledStateMaybeChanged(wasEnabled bool) {
	enabled := q.isEnabledMain()
	if enabled == wasEnabled {
		return
	}
	withLock(&q.anyMu, q.updateCrossThreadStateLocked)
	q.updateWakeUp()
	q.manager.settings.Logger.Debug("queue enabled state changed",
		F("queue", q.name), F("enabled", enabled))
	if enabled {
		q.manager.ScheduleWork()
	}
}

// =============================================================================
// Diagnostics
// =============================================================================

// PendingTaskDescription is one entry of SequenceManager.DescribeAllPendingTasks.
type PendingTaskDescription struct {
	Name           string    `json:"name"`
	Buffer         string    `json:"buffer"`
	EnqueueOrder   uint64    `json:"enqueue_order,omitempty"`
	Sequence       uint64    `json:"sequence"`
	DelayedRunTime time.Time `json:"delayed_run_time,omitempty"`
	QueueTime      time.Time `json:"queue_time,omitempty"`
	Nestable       bool      `json:"nestable"`
	Canceled       bool      `json:"canceled,omitempty"`
}

// QueueDescription is the state of one queue in DescribeAllPendingTasks.
type QueueDescription struct {
	Name           string                   `json:"name"`
	ID             string                   `json:"id"`
	Priority       string                   `json:"priority"`
	Enabled        bool                     `json:"enabled"`
	Fence          string                   `json:"fence,omitempty"`
	DelayedFence   time.Time                `json:"delayed_fence,omitempty"`
	TimeDomain     string                   `json:"time_domain"`
	NextWakeUp     time.Time                `json:"next_wake_up,omitempty"`
	Tasks          []PendingTaskDescription `json:"tasks"`
	ShuttingDown   bool                     `json:"shutting_down,omitempty"`
	TasksRunTotal  uint64                   `json:"tasks_run_total"`
	PendingCount   int                      `json:"pending_count"`
	BlockedByFence bool                     `json:"blocked_by_fence,omitempty"`
}

func describeTask(t *PendingTask, buffer string) PendingTaskDescription {
	return PendingTaskDescription{
		Name:           t.Name(),
		Buffer:         buffer,
		EnqueueOrder:   uint64(t.order.EnqueueOrder),
		Sequence:       t.order.Sequence,
		DelayedRunTime: t.order.DelayedRunTime,
		QueueTime:      t.queueTime,
		Nestable:       t.traits.Nestability == Nestable,
		Canceled:       t.IsCanceled(),
	}
}

func (q *taskQueueImpl) describe() QueueDescription {
	d := QueueDescription{
		Name:           q.name,
		ID:             q.id.String(),
		Priority:       q.main.priority.String(),
		Enabled:        q.isEnabledMain(),
		DelayedFence:   q.main.delayedFence,
		TimeDomain:     q.timeDomain().Name(),
		NextWakeUp:     q.main.scheduledWakeUp,
		TasksRunTotal:  q.tasksRun.Load(),
		PendingCount:   q.numberOfPendingTasks(),
		BlockedByFence: q.blockedByFence(),
	}
	if q.main.fence.IsSet() {
		d.Fence = q.main.fence.String()
	}
	q.main.immediate.forEach(func(t *PendingTask) {
		d.Tasks = append(d.Tasks, describeTask(t, "immediate"))
	})
	q.main.delayed.forEach(func(t *PendingTask) {
		d.Tasks = append(d.Tasks, describeTask(t, "delayed"))
	})
	q.main.delayedIncoming.forEach(func(t *PendingTask) {
		d.Tasks = append(d.Tasks, describeTask(t, "delayed_incoming"))
	})
	withLock(&q.anyMu, func() {
		q.any.incoming.forEach(func(t *PendingTask) {
			d.Tasks = append(d.Tasks, describeTask(t, "incoming"))
		})
	})
	return d
}
