package core

import "time"

// TimeDomain decides how the delayed tasks of its queues map onto pump
// wake-ups. Queues are attached to a domain through TaskQueueSpec.
type TimeDomain interface {
	Name() string

	// Now is the clock delayed run times of the domain's queues are measured in.
	Now() time.Time

	// NextDelayedTaskTime converts the earliest wake-up of the domain's queues
	// into the time the pump should wake. Zero means no pump wake-up is needed.
	NextDelayedTaskTime(wakeUp time.Time, now time.Time) time.Time

	// MaybeFastForwardToWakeUp is called when the bound thread is idle. It
	// returns true if it made more work ready. nextWakeUp is zero when the
	// domain has no delayed work.
	MaybeFastForwardToWakeUp(nextWakeUp time.Time, quitWhenIdle bool) bool
}

// RealTimeDomain follows its clock and never fast-forwards.
type RealTimeDomain struct {
	clock Clock
}

func NewRealTimeDomain(clock Clock) *RealTimeDomain {
	if clock == nil {
		clock = RealClock{}
	}
	return &RealTimeDomain{clock: clock}
}

func (d *RealTimeDomain) Name() string { return "real" }

func (d *RealTimeDomain) Now() time.Time { return d.clock.Now() }

func (d *RealTimeDomain) NextDelayedTaskTime(wakeUp time.Time, now time.Time) time.Time {
	return wakeUp
}

func (d *RealTimeDomain) MaybeFastForwardToWakeUp(nextWakeUp time.Time, quitWhenIdle bool) bool {
	return false
}

// VirtualTimeDomain runs on a MockClock. It never asks the pump for a
// wake-up; when the thread goes idle it jumps the clock to the next
// wake-up instead, unless the running loop is about to quit.
type VirtualTimeDomain struct {
	name  string
	clock *MockClock
}

func NewVirtualTimeDomain(name string, clock *MockClock) *VirtualTimeDomain {
	if clock == nil {
		clock = NewMockClock(time.Time{})
	}
	return &VirtualTimeDomain{name: name, clock: clock}
}

func (d *VirtualTimeDomain) Name() string { return d.name }

func (d *VirtualTimeDomain) Now() time.Time { return d.clock.Now() }

func (d *VirtualTimeDomain) Clock() *MockClock { return d.clock }

func (d *VirtualTimeDomain) NextDelayedTaskTime(wakeUp time.Time, now time.Time) time.Time {
	return time.Time{}
}

func (d *VirtualTimeDomain) MaybeFastForwardToWakeUp(nextWakeUp time.Time, quitWhenIdle bool) bool {
	if quitWhenIdle || nextWakeUp.IsZero() {
		return false
	}
	if nextWakeUp.After(d.clock.Now()) {
		d.clock.SetNow(nextWakeUp)
	}
	return true
}
