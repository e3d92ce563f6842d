package core

import (
	"math/bits"
	"sync/atomic"
)

const flagsPerGroup = 64

type flagGroup struct {
	active atomic.Uint64

	// Bound-thread only.
	allocated uint64
	owners    [flagsPerGroup]*taskQueueImpl
}

// atomicFlag is one dirty bit. Set may be called from any goroutine.
type atomicFlag struct {
	group *flagGroup
	mask  uint64
}

func (f atomicFlag) Set() {
	if f.group != nil {
		f.group.active.Or(f.mask)
	}
}

func (f atomicFlag) Clear() {
	if f.group != nil {
		f.group.active.And(^f.mask)
	}
}

// atomicFlagSet tracks which queues received incoming work so the bound
// thread only reloads those. Groups never move once allocated, so flags
// handed to producers stay valid.
type atomicFlagSet struct {
	groups []*flagGroup
}

// Add allocates a flag owned by q. Bound thread only.
func (s *atomicFlagSet) Add(q *taskQueueImpl) atomicFlag {
	for _, g := range s.groups {
		if g.allocated != ^uint64(0) {
			return s.allocate(g, q)
		}
	}
	g := &flagGroup{}
	s.groups = append(s.groups, g)
	return s.allocate(g, q)
}

func (s *atomicFlagSet) allocate(g *flagGroup, q *taskQueueImpl) atomicFlag {
	bit := bits.TrailingZeros64(^g.allocated)
	mask := uint64(1) << bit
	g.allocated |= mask
	g.owners[bit] = q
	return atomicFlag{group: g, mask: mask}
}

// Release frees f. Bound thread only.
func (s *atomicFlagSet) Release(f atomicFlag) {
	if f.group == nil {
		return
	}
	f.Clear()
	f.group.allocated &^= f.mask
	f.group.owners[bits.TrailingZeros64(f.mask)] = nil
}

// RunActive clears every set flag and calls fn with its owner.
func (s *atomicFlagSet) RunActive(fn func(q *taskQueueImpl)) {
	for _, g := range s.groups {
		active := g.active.Swap(0) & g.allocated
		for active != 0 {
			bit := bits.TrailingZeros64(active)
			active &^= uint64(1) << bit
			if q := g.owners[bit]; q != nil {
				fn(q)
			}
		}
	}
}
