package core

import "github.com/eapache/queue"

type workQueueKind int

const (
	workQueueImmediate workQueueKind = iota
	workQueueDelayed
)

func (k workQueueKind) String() string {
	if k == workQueueDelayed {
		return "delayed"
	}
	return "immediate"
}

// workQueue is a bound-thread ready buffer. Tasks are kept in increasing
// TaskOrder; the queue's fence hides every task at or after it.
type workQueue struct {
	kind  workQueueKind
	tasks *queue.Queue
	fence EnqueueOrder
}

func newWorkQueue(kind workQueueKind) *workQueue {
	return &workQueue{kind: kind, tasks: queue.New()}
}

func (w *workQueue) Len() int { return w.tasks.Length() }

func (w *workQueue) Empty() bool { return w.tasks.Length() == 0 }

func (w *workQueue) Front() *PendingTask {
	if w.tasks.Length() == 0 {
		return nil
	}
	return w.tasks.Peek().(*PendingTask)
}

func (w *workQueue) Push(task *PendingTask) {
	w.tasks.Add(task)
}

// PushFront puts a deferred non-nestable task back at the head.
func (w *workQueue) PushFront(task *PendingTask) {
	rebuilt := queue.New()
	rebuilt.Add(task)
	for w.tasks.Length() > 0 {
		rebuilt.Add(w.tasks.Remove())
	}
	w.tasks = rebuilt
}

func (w *workQueue) TakeTask() *PendingTask {
	if w.tasks.Length() == 0 {
		return nil
	}
	return w.tasks.Remove().(*PendingTask)
}

// EligibleFront returns the front task unless the queue is empty or blocked.
func (w *workQueue) EligibleFront() *PendingTask {
	front := w.Front()
	if front == nil || w.blocks(front) {
		return nil
	}
	return front
}

func (w *workQueue) blocks(task *PendingTask) bool {
	return w.fence.IsSet() && task.order.EnqueueOrder >= w.fence
}

// BlockedByFence is true when a fence is set and no task can pass it,
// including when the queue is empty.
func (w *workQueue) BlockedByFence() bool {
	if !w.fence.IsSet() {
		return false
	}
	front := w.Front()
	return front == nil || w.blocks(front)
}

// InsertFence sets the fence and reports whether a front task that was
// blocked became runnable.
func (w *workQueue) InsertFence(fence EnqueueOrder) bool {
	wasBlocked := w.BlockedByFence()
	w.fence = fence
	return !w.Empty() && wasBlocked && !w.BlockedByFence()
}

// RemoveFence clears the fence and reports whether a blocked front became runnable.
func (w *workQueue) RemoveFence() bool {
	wasBlocked := w.BlockedByFence()
	w.fence = EnqueueOrderNone
	return !w.Empty() && wasBlocked
}

// RemoveCanceledFromFront drops cancelled tasks at the head and reports
// whether any were removed.
func (w *workQueue) RemoveCanceledFromFront() bool {
	removed := false
	for w.tasks.Length() > 0 && w.tasks.Peek().(*PendingTask).IsCanceled() {
		w.tasks.Remove()
		removed = true
	}
	return removed
}

// SweepCanceled rebuilds the buffer without cancelled tasks and returns how
// many were dropped. The rebuilt queue is sized to its contents.
func (w *workQueue) SweepCanceled() int {
	n := w.tasks.Length()
	if n == 0 {
		w.tasks = queue.New()
		return 0
	}
	kept := queue.New()
	dropped := 0
	for w.tasks.Length() > 0 {
		t := w.tasks.Remove().(*PendingTask)
		if t.IsCanceled() {
			dropped++
			continue
		}
		kept.Add(t)
	}
	w.tasks = kept
	return dropped
}

func (w *workQueue) Clear() {
	w.tasks = queue.New()
}

func (w *workQueue) forEach(fn func(*PendingTask)) {
	for i := 0; i < w.tasks.Length(); i++ {
		fn(w.tasks.Get(i).(*PendingTask))
	}
}
