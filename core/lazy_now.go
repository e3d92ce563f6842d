package core

import (
	"sync"
	"time"
)

// Clock is the time source used by the scheduler.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// MockClock is a manually driven clock for tests and virtual time.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a MockClock starting at start. A zero start becomes
// a fixed, non-zero instant so that zero time can keep meaning "unset".
func NewMockClock(start time.Time) *MockClock {
	if start.IsZero() {
		start = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetNow moves the clock to t. Moving backwards is ignored.
func (c *MockClock) SetNow(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// LazyNow reads its clock at most once.
type LazyNow struct {
	clock Clock
	now   time.Time
	set   bool
}

func NewLazyNow(clock Clock) *LazyNow {
	return &LazyNow{clock: clock}
}

// NewLazyNowAt returns a LazyNow already holding t.
func NewLazyNowAt(t time.Time) *LazyNow {
	return &LazyNow{now: t, set: true}
}

func (l *LazyNow) Now() time.Time {
	if !l.set {
		l.now = l.clock.Now()
		l.set = true
	}
	return l.now
}

func (l *LazyNow) HasValue() bool {
	return l.set
}
