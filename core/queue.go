package core

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // Don't compact if capacity is less than this
	compactShrinkFactor = 4  // Trigger compaction when len < cap/4
)

// =============================================================================
// incomingQueue: cross-goroutine FIFO of immediate tasks
// =============================================================================

// incomingQueue buffers tasks posted from any goroutine until the bound
// thread moves them into a ready buffer. It carries no lock of its own;
// every call happens under the owning queue's anyMu.
type incomingQueue struct {
	tasks []*PendingTask
}

func newIncomingQueue() incomingQueue {
	return incomingQueue{tasks: make([]*PendingTask, 0, defaultQueueCap)}
}

func (q *incomingQueue) Push(t *PendingTask) {
	q.tasks = append(q.tasks, t)
}

func (q *incomingQueue) Len() int { return len(q.tasks) }

func (q *incomingQueue) Empty() bool { return len(q.tasks) == 0 }

func (q *incomingQueue) Front() *PendingTask {
	if len(q.tasks) == 0 {
		return nil
	}
	return q.tasks[0]
}

// TakeAll hands every buffered task to fn in post order and empties the buffer.
func (q *incomingQueue) TakeAll(fn func(*PendingTask)) int {
	n := len(q.tasks)
	for i, t := range q.tasks {
		fn(t)
		// Zero out the element in the underlying array to prevent memory leak
		q.tasks[i] = nil
	}
	q.tasks = q.tasks[:0]
	q.maybeCompact()
	return n
}

// SweepCanceled drops cancelled tasks in place and returns how many went.
func (q *incomingQueue) SweepCanceled() int {
	kept := q.tasks[:0]
	for _, t := range q.tasks {
		if !t.IsCanceled() {
			kept = append(kept, t)
		}
	}
	dropped := len(q.tasks) - len(kept)
	for i := len(kept); i < len(q.tasks); i++ {
		q.tasks[i] = nil
	}
	q.tasks = kept
	q.maybeCompact()
	return dropped
}

func (q *incomingQueue) Clear() {
	q.tasks = make([]*PendingTask, 0, defaultQueueCap)
}

func (q *incomingQueue) maybeCompact() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap {
		return
	}
	if n == 0 {
		q.tasks = make([]*PendingTask, 0, defaultQueueCap)
		return
	}
	if n*compactShrinkFactor >= c {
		return
	}

	newCap := max(max(c/2, defaultQueueCap), n)

	newSlice := make([]*PendingTask, n, newCap)
	copy(newSlice, q.tasks)
	q.tasks = newSlice
}

func (q *incomingQueue) forEach(fn func(*PendingTask)) {
	for _, t := range q.tasks {
		fn(t)
	}
}
