package core

import (
	"math"
	"strconv"
	"sync/atomic"
)

// EnqueueOrder is a strictly increasing stamp assigned when a task becomes
// eligible to run. Immediate tasks get one at post time, delayed tasks when
// their delay expires.
type EnqueueOrder uint64

const (
	// EnqueueOrderNone marks a task or fence that has no order yet.
	EnqueueOrderNone EnqueueOrder = 0

	// EnqueueOrderBlockingFence is lower than any real order, so a fence at
	// this value blocks every task.
	EnqueueOrderBlockingFence EnqueueOrder = 1

	// FirstEnqueueOrder is the first value handed out by a generator.
	FirstEnqueueOrder EnqueueOrder = 2

	// MaxEnqueueOrder is where a generator saturates.
	MaxEnqueueOrder EnqueueOrder = math.MaxUint64
)

func (o EnqueueOrder) IsSet() bool {
	return o != EnqueueOrderNone
}

func (o EnqueueOrder) String() string {
	switch o {
	case EnqueueOrderNone:
		return "none"
	case EnqueueOrderBlockingFence:
		return "blocking"
	}
	return strconv.FormatUint(uint64(o), 10)
}

// EnqueueOrderGenerator hands out enqueue orders to any goroutine.
type EnqueueOrderGenerator struct {
	next atomic.Uint64
}

func NewEnqueueOrderGenerator() *EnqueueOrderGenerator {
	g := &EnqueueOrderGenerator{}
	g.next.Store(uint64(FirstEnqueueOrder))
	return g
}

// GenerateNext returns the next order. Once MaxEnqueueOrder is reached every
// later call returns MaxEnqueueOrder instead of wrapping around.
func (g *EnqueueOrderGenerator) GenerateNext() EnqueueOrder {
	for {
		cur := g.next.Load()
		if cur == uint64(MaxEnqueueOrder) {
			return MaxEnqueueOrder
		}
		if g.next.CompareAndSwap(cur, cur+1) {
			return EnqueueOrder(cur)
		}
	}
}
