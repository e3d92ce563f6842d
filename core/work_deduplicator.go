package core

import "sync/atomic"

// ShouldScheduleWork is the answer of the WorkDeduplicator to a request.
type ShouldScheduleWork int

const (
	ScheduleWorkNotNeeded ShouldScheduleWork = iota
	ScheduleWorkImmediate
)

const (
	dedupInDoWorkFlag  uint32 = 1 << 0
	dedupPendingFlag   uint32 = 1 << 1
	dedupBoundFlag     uint32 = 1 << 2
	dedupStateUnbound         = 0
	dedupStateIdle            = dedupBoundFlag
	dedupStatePending         = dedupBoundFlag | dedupPendingFlag
	dedupStateInDoWork        = dedupBoundFlag | dedupInDoWorkFlag
)

// WorkDeduplicator collapses concurrent work requests so that at most one
// immediate continuation is in flight.
//
// Producers call OnWorkRequested from any goroutine. The consumer brackets
// each DoWork with OnWorkStarted, WillCheckForMoreWork and DidCheckForMoreWork.
type WorkDeduplicator struct {
	state atomic.Uint32
}

// BindToCurrentThread marks the consumer ready. It reports whether work was
// requested while unbound.
func (d *WorkDeduplicator) BindToCurrentThread() ShouldScheduleWork {
	prev := d.state.Or(dedupBoundFlag)
	if prev&dedupBoundFlag != 0 {
		fatalf("WorkDeduplicator.BindToCurrentThread", "already bound")
	}
	if prev&dedupPendingFlag != 0 {
		return ScheduleWorkImmediate
	}
	return ScheduleWorkNotNeeded
}

func (d *WorkDeduplicator) Unbind() {
	d.state.Store(dedupStateUnbound)
}

// OnWorkRequested only asks for a continuation on the idle to pending edge.
func (d *WorkDeduplicator) OnWorkRequested() ShouldScheduleWork {
	if d.state.Or(dedupPendingFlag) == dedupStateIdle {
		return ScheduleWorkImmediate
	}
	return ScheduleWorkNotNeeded
}

// OnDelayedWorkRequested asks for a delayed wake-up only when no DoWork is
// pending or running; a running DoWork schedules its own wake-up.
func (d *WorkDeduplicator) OnDelayedWorkRequested() ShouldScheduleWork {
	if d.state.Load() == dedupStateIdle {
		return ScheduleWorkImmediate
	}
	return ScheduleWorkNotNeeded
}

func (d *WorkDeduplicator) OnWorkStarted() {
	if d.state.Load()&dedupBoundFlag == 0 {
		fatalf("WorkDeduplicator.OnWorkStarted", "not bound")
	}
	d.state.Store(dedupStateInDoWork)
}

// WillCheckForMoreWork returns to idle. From here until DidCheckForMoreWork
// any producer that finds the state idle schedules its own continuation.
func (d *WorkDeduplicator) WillCheckForMoreWork() {
	d.state.Store(dedupStateIdle)
}

// DidCheckForMoreWork is called with the outcome of the consumer's check.
func (d *WorkDeduplicator) DidCheckForMoreWork(nextTaskImmediate bool) ShouldScheduleWork {
	if !nextTaskImmediate {
		return ScheduleWorkNotNeeded
	}
	// A producer that got here first already posted the continuation.
	if d.state.CompareAndSwap(dedupStateIdle, dedupStatePending) {
		return ScheduleWorkImmediate
	}
	return ScheduleWorkNotNeeded
}

func (d *WorkDeduplicator) isIdle() bool {
	return d.state.Load() == dedupStateIdle
}
