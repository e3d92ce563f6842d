package core

import (
	"container/heap"
	"time"
)

// delayedTaskHeap implements heap.Interface ordered by run time, then sequence.
type delayedTaskHeap []*PendingTask

func (h delayedTaskHeap) Len() int { return len(h) }
func (h delayedTaskHeap) Less(i, j int) bool {
	a, b := h[i].order, h[j].order
	if !a.DelayedRunTime.Equal(b.DelayedRunTime) {
		return a.DelayedRunTime.Before(b.DelayedRunTime)
	}
	return a.Sequence < b.Sequence
}
func (h delayedTaskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedTaskHeap) Push(x any) {
	*h = append(*h, x.(*PendingTask))
}

func (h *delayedTaskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// delayedIncomingQueue holds delayed tasks on the bound thread until their
// run time passes.
type delayedIncomingQueue struct {
	pq delayedTaskHeap
}

func (q *delayedIncomingQueue) Push(t *PendingTask) {
	heap.Push(&q.pq, t)
}

func (q *delayedIncomingQueue) Len() int { return len(q.pq) }

func (q *delayedIncomingQueue) Empty() bool { return len(q.pq) == 0 }

func (q *delayedIncomingQueue) Top() *PendingTask {
	if len(q.pq) == 0 {
		return nil
	}
	return q.pq[0]
}

func (q *delayedIncomingQueue) Pop() *PendingTask {
	if len(q.pq) == 0 {
		return nil
	}
	return heap.Pop(&q.pq).(*PendingTask)
}

// NextRunTime skips cancelled tasks at the top and returns the earliest run
// time, or zero when nothing is left.
func (q *delayedIncomingQueue) NextRunTime() time.Time {
	for len(q.pq) > 0 && q.pq[0].IsCanceled() {
		heap.Pop(&q.pq)
	}
	if len(q.pq) == 0 {
		return time.Time{}
	}
	return q.pq[0].order.DelayedRunTime
}

// HasReadyTask reports whether a live task is due at now.
func (q *delayedIncomingQueue) HasReadyTask(now time.Time) bool {
	next := q.NextRunTime()
	return !next.IsZero() && !next.After(now)
}

// PopReady removes every task whose run time is at or before now, in run
// time order. Cancelled tasks are dropped on the way.
func (q *delayedIncomingQueue) PopReady(now time.Time, fn func(*PendingTask)) {
	for len(q.pq) > 0 {
		top := q.pq[0]
		if top.IsCanceled() {
			heap.Pop(&q.pq)
			continue
		}
		if top.order.DelayedRunTime.After(now) {
			return
		}
		heap.Pop(&q.pq)
		fn(top)
	}
}

// SweepCanceled removes cancelled tasks anywhere in the heap and shrinks
// the backing array when it is mostly empty.
func (q *delayedIncomingQueue) SweepCanceled() int {
	kept := q.pq[:0]
	for _, t := range q.pq {
		if !t.IsCanceled() {
			kept = append(kept, t)
		}
	}
	dropped := len(q.pq) - len(kept)
	for i := len(kept); i < len(q.pq); i++ {
		q.pq[i] = nil
	}
	q.pq = kept
	if dropped > 0 {
		heap.Init(&q.pq)
	}
	if c := cap(q.pq); c >= compactMinCap && len(q.pq)*compactShrinkFactor < c {
		shrunk := make(delayedTaskHeap, len(q.pq), max(len(q.pq), defaultQueueCap))
		copy(shrunk, q.pq)
		q.pq = shrunk
	}
	return dropped
}

func (q *delayedIncomingQueue) Clear() {
	q.pq = nil
}

func (q *delayedIncomingQueue) forEach(fn func(*PendingTask)) {
	for _, t := range q.pq {
		fn(t)
	}
}
