package core

import (
	"path"
	"reflect"
	"runtime"
	"sync"
)

const defaultTaskHistoryCapacity = 100

// ExecutionHistory is a TaskObserver keeping the last finished tasks of the
// observed queues. Register it with SequenceManager.AddTaskObserver; readers
// may call it from any goroutine.
type ExecutionHistory struct {
	mu      sync.Mutex
	ring    []TaskExecutionRecord
	next    int
	wrapped bool
}

func NewExecutionHistory(capacity int) *ExecutionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &ExecutionHistory{ring: make([]TaskExecutionRecord, capacity)}
}

func (h *ExecutionHistory) WillProcessTask(TaskInfo) {}

// DidProcessTask records the finished task.
func (h *ExecutionHistory) DidProcessTask(info TaskInfo) {
	h.Add(TaskExecutionRecord{
		Sequence:   info.Order.Sequence,
		Name:       info.TaskName,
		QueueName:  info.QueueName,
		Priority:   info.Priority,
		TaskType:   info.TaskType,
		QueueTime:  info.QueueTime,
		StartedAt:  info.StartedAt,
		FinishedAt: info.StartedAt.Add(info.Duration),
		Duration:   info.Duration,
		Panicked:   info.Panicked,
	})
}

// Add overwrites the oldest record once the ring is full.
func (h *ExecutionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = record
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.wrapped = true
	}
}

func (h *ExecutionHistory) size() int {
	if h.wrapped {
		return len(h.ring)
	}
	return h.next
}

// newestFirst calls fn from the newest record back until it returns false.
func (h *ExecutionHistory) newestFirst(fn func(TaskExecutionRecord) bool) {
	n := h.size()
	for i := 1; i <= n; i++ {
		idx := h.next - i
		if idx < 0 {
			idx += len(h.ring)
		}
		if !fn(h.ring[idx]) {
			return
		}
	}
}

// Recent returns up to limit records, newest first. limit <= 0 returns all.
func (h *ExecutionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.size()
	if n == 0 {
		return nil
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]TaskExecutionRecord, 0, limit)
	h.newestFirst(func(r TaskExecutionRecord) bool {
		out = append(out, r)
		return len(out) < limit
	})
	return out
}

// Last returns the newest record.
func (h *ExecutionHistory) Last() (TaskExecutionRecord, bool) {
	recent := h.Recent(1)
	if len(recent) == 0 {
		return TaskExecutionRecord{}, false
	}
	return recent[0], true
}

// Panicked returns the recorded tasks that panicked, newest first.
func (h *ExecutionHistory) Panicked() []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []TaskExecutionRecord
	h.newestFirst(func(r TaskExecutionRecord) bool {
		if r.Panicked {
			out = append(out, r)
		}
		return true
	})
	return out
}

// resolveTaskName returns explicit, or the short symbol name of fn
// ("pkg.Func.func1"), or "anonymous".
func resolveTaskName(fn any, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if fn == nil {
		return "anonymous"
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.Pointer() == 0 {
		return "anonymous"
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil || f.Name() == "" {
		return "anonymous"
	}
	return path.Base(f.Name())
}
