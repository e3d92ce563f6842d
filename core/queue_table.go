package core

import (
	"fmt"
	"sync"
)

// QueueID refers to a queue owned by a SequenceManager. The generation makes
// an id stale once its slot is reused.
type QueueID struct {
	Index      uint32
	Generation uint32
}

func (id QueueID) String() string {
	return fmt.Sprintf("%d.%d", id.Index, id.Generation)
}

type queueSlot struct {
	impl       *taskQueueImpl
	generation uint32
}

// queueTable is the manager's indexed collection of queue implementations.
// Handles resolve through it from any goroutine.
type queueTable struct {
	mu    sync.RWMutex
	slots []queueSlot
	free  []uint32
}

func (t *queueTable) Insert(impl *taskQueueImpl) QueueID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		slot := &t.slots[idx]
		slot.generation++
		slot.impl = impl
		return QueueID{Index: idx, Generation: slot.generation}
	}
	t.slots = append(t.slots, queueSlot{impl: impl, generation: 1})
	return QueueID{Index: uint32(len(t.slots) - 1), Generation: 1}
}

// Lookup returns nil for stale or unknown ids.
func (t *queueTable) Lookup(id QueueID) *taskQueueImpl {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if int(id.Index) >= len(t.slots) {
		return nil
	}
	slot := t.slots[id.Index]
	if slot.generation != id.Generation {
		return nil
	}
	return slot.impl
}

func (t *queueTable) Remove(id QueueID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if int(id.Index) >= len(t.slots) {
		return
	}
	slot := &t.slots[id.Index]
	if slot.generation != id.Generation || slot.impl == nil {
		return
	}
	slot.impl = nil
	t.free = append(t.free, id.Index)
}

func (t *queueTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots) - len(t.free)
}
