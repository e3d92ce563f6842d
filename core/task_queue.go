package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// TaskQueue is the external handle of a queue owned by a SequenceManager.
//
// Posting and the size queries work from any goroutine. Priority, fences
// and enable voters belong to the bound thread.
//
// Releasing the handle (ShutdownGracefully) hands the queue back to the
// manager, which keeps running its tasks until it is empty. TaskRunners
// created from the handle keep posting until the queue is unregistered.
type TaskQueue struct {
	manager  *SequenceManager
	id       QueueID
	name     string
	released atomic.Bool

	runnersMu sync.Mutex
	runners   map[TaskType]*queueTaskRunner
}

func (h *TaskQueue) Name() string { return h.name }

func (h *TaskQueue) ID() QueueID { return h.id }

func (h *TaskQueue) impl() *taskQueueImpl {
	return h.manager.queues.Lookup(h.id)
}

// owned returns the implementation for bound-thread control calls, or nil
// once the handle was released or the queue is gone.
func (h *TaskQueue) owned(op string) *taskQueueImpl {
	h.manager.bound.Assert(op)
	if h.released.Load() {
		return nil
	}
	return h.impl()
}

// TaskRunner returns a runner tagging its tasks with taskType.
func (h *TaskQueue) TaskRunner(taskType TaskType) TaskRunner {
	h.runnersMu.Lock()
	defer h.runnersMu.Unlock()
	if h.runners == nil {
		h.runners = make(map[TaskType]*queueTaskRunner)
	}
	r, ok := h.runners[taskType]
	if !ok {
		r = &queueTaskRunner{queue: h, taskType: taskType}
		h.runners[taskType] = r
	}
	return r
}

func (h *TaskQueue) DefaultTaskRunner() TaskRunner {
	return h.TaskRunner(DefaultTaskType)
}

func (h *TaskQueue) IsEmpty() bool {
	if q := h.impl(); q != nil {
		return q.isEmpty()
	}
	return true
}

func (h *TaskQueue) NumberOfPendingTasks() int {
	if q := h.impl(); q != nil {
		return q.numberOfPendingTasks()
	}
	return 0
}

func (h *TaskQueue) HasTaskToRunImmediately() bool {
	if q := h.impl(); q != nil {
		return q.hasTaskToRunImmediately()
	}
	return false
}

// NextScheduledWakeUp returns the run time of the earliest delayed task, or
// zero when there is none or the queue is disabled.
func (h *TaskQueue) NextScheduledWakeUp() time.Time {
	if q := h.impl(); q != nil {
		return q.nextScheduledWakeUp()
	}
	return time.Time{}
}

// IsUnregistered reports whether the queue no longer accepts tasks.
func (h *TaskQueue) IsUnregistered() bool {
	q := h.impl()
	return q == nil || q.isUnregistered()
}

func (h *TaskQueue) Priority() TaskPriority {
	if q := h.impl(); q != nil {
		return q.priorityAnyThread()
	}
	return DefaultTaskPriority
}

func (h *TaskQueue) SetPriority(p TaskPriority) {
	if q := h.owned("TaskQueue.SetPriority"); q != nil {
		q.setPriority(p)
	}
}

func (h *TaskQueue) IsQueueEnabled() bool {
	if q := h.impl(); q != nil {
		return q.isEnabledAnyThread()
	}
	return false
}

// CreateQueueEnabledVoter adds a voter that starts out voting to enable.
// The queue is enabled iff every live voter votes to enable.
func (h *TaskQueue) CreateQueueEnabledVoter() *QueueEnabledVoter {
	q := h.owned("TaskQueue.CreateQueueEnabledVoter")
	if q == nil {
		return &QueueEnabledVoter{released: true}
	}
	q.addVoter()
	return &QueueEnabledVoter{queue: h, enabled: true}
}

func (h *TaskQueue) InsertFence(kind FenceKind) {
	if q := h.owned("TaskQueue.InsertFence"); q != nil {
		q.insertFence(kind)
	}
}

// InsertFenceAt arms a fence that activates on the first task queued at or
// after t. The queue must allow delayed fences.
func (h *TaskQueue) InsertFenceAt(t time.Time) {
	if q := h.owned("TaskQueue.InsertFenceAt"); q != nil {
		q.insertFenceAt(t)
	}
}

func (h *TaskQueue) RemoveFence() {
	if q := h.owned("TaskQueue.RemoveFence"); q != nil {
		q.removeFence()
	}
}

// HasActiveFence is true while a fence is set, whether or not it blocks anything.
func (h *TaskQueue) HasActiveFence() bool {
	if q := h.owned("TaskQueue.HasActiveFence"); q != nil {
		return q.hasActiveFence()
	}
	return false
}

// BlockedByFence is true while a fence keeps every pending task from running.
func (h *TaskQueue) BlockedByFence() bool {
	if q := h.owned("TaskQueue.BlockedByFence"); q != nil {
		return q.blockedByFence()
	}
	return false
}

// AddWakeUpObserver may be called from any goroutine. Notifications arrive
// on the bound thread.
func (h *TaskQueue) AddWakeUpObserver(o WakeUpObserver) {
	if q := h.impl(); q != nil {
		q.addWakeUpObserver(o)
	}
}

// ShutdownGracefully releases the handle. The queue keeps running the tasks
// it has and any that are still posted, and is unregistered once empty.
// Only the first call has an effect. Any goroutine may call it.
func (h *TaskQueue) ShutdownGracefully() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.manager.releaseQueue(h.id)
}

// Unregister drops every pending task and unregisters the queue now.
// Bound thread only.
func (h *TaskQueue) Unregister() {
	h.manager.bound.Assert("TaskQueue.Unregister")
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if q := h.impl(); q != nil {
		h.manager.unregisterQueue(q)
	}
}

// =============================================================================
// QueueEnabledVoter
// =============================================================================

// QueueEnabledVoter is one vote on whether a queue may run. Bound thread only.
type QueueEnabledVoter struct {
	queue    *TaskQueue
	enabled  bool
	released bool
}

func (v *QueueEnabledVoter) SetVoteToEnable(enable bool) {
	if v.released || v.enabled == enable {
		return
	}
	q := v.queue.implForVoter("QueueEnabledVoter.SetVoteToEnable")
	v.enabled = enable
	if q != nil {
		q.changeVote(enable)
	}
}

func (v *QueueEnabledVoter) IsVotingToEnable() bool {
	return v.enabled
}

// Release withdraws the vote.
func (v *QueueEnabledVoter) Release() {
	if v.released {
		return
	}
	v.released = true
	if q := v.queue.implForVoter("QueueEnabledVoter.Release"); q != nil {
		q.removeVoter(v.enabled)
	}
}

// Voters stay usable after the handle is released, as long as the queue lives.
func (h *TaskQueue) implForVoter(op string) *taskQueueImpl {
	h.manager.bound.Assert(op)
	q := h.impl()
	if q == nil || q.isUnregistered() {
		return nil
	}
	return q
}

// =============================================================================
// queueTaskRunner
// =============================================================================

type queueTaskRunner struct {
	queue    *TaskQueue
	taskType TaskType
}

func (r *queueTaskRunner) post(task Task, traits TaskTraits, delay time.Duration, canceled *atomic.Bool) bool {
	q := r.queue.impl()
	if q == nil {
		r.queue.manager.rejectTask(r.queue.name, "unregistered")
		return false
	}
	return q.postTask(postedTask{
		task:     task,
		traits:   traits,
		taskType: r.taskType,
		delay:    delay,
		canceled: canceled,
	})
}

func (r *queueTaskRunner) PostTask(task Task) {
	r.post(task, DefaultTaskTraits(), 0, nil)
}

func (r *queueTaskRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	r.post(task, traits, 0, nil)
}

func (r *queueTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	r.post(task, DefaultTaskTraits(), delay, nil)
}

func (r *queueTaskRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) {
	r.post(task, traits, delay, nil)
}

func (r *queueTaskRunner) PostNonNestableTask(task Task) {
	r.post(task, TraitsNonNestable(), 0, nil)
}

func (r *queueTaskRunner) PostCancelableDelayedTask(task Task, delay time.Duration) *DelayedTaskHandle {
	handle := newDelayedTaskHandle()
	name := resolveTaskName(task, "")
	wrapped := func(ctx context.Context) {
		handle.ran.Store(true)
		task(ctx)
	}
	if !r.post(wrapped, TraitsNamed(name), delay, handle.canceled) {
		handle.Cancel()
	}
	return handle
}

func (r *queueTaskRunner) RunsTasksInCurrentSequence() bool {
	return r.queue.manager.onBoundThread()
}

func (r *queueTaskRunner) TaskType() TaskType { return r.taskType }

func (r *queueTaskRunner) PostTaskAndReply(task Task, reply Task, replyRunner TaskRunner) {
	postWithReply(r, task, DefaultTaskTraits(), reply, DefaultTaskTraits(), replyRunner)
}

func (r *queueTaskRunner) PostTaskAndReplyWithTraits(
	task Task,
	taskTraits TaskTraits,
	reply Task,
	replyTraits TaskTraits,
	replyRunner TaskRunner,
) {
	postWithReply(r, task, taskTraits, reply, replyTraits, replyRunner)
}
