package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// manualPump is a MessagePump driven by the test goroutine. Delayed
// continuations fire only when the test advances the clock.
type manualPump struct {
	mu      sync.Mutex
	clock   Clock
	pending []func()
	delayed []*manualDelayed
	slack   TimerSlack
	posts   int
}

type manualDelayed struct {
	fn       func()
	at       time.Time
	canceled bool
}

func newManualPump(clock Clock) *manualPump {
	return &manualPump{clock: clock}
}

func (p *manualPump) PostContinuation(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, fn)
	p.posts++
}

func (p *manualPump) PostDelayedContinuation(fn func(), d time.Duration) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	dc := &manualDelayed{fn: fn, at: p.clock.Now().Add(d)}
	p.delayed = append(p.delayed, dc)
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		dc.canceled = true
	}
}

func (p *manualPump) SetTimerSlack(slack TimerSlack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slack = slack
}

func (p *manualPump) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil, false
	}
	fn := p.pending[0]
	p.pending = p.pending[1:]
	return fn, true
}

func (p *manualPump) RunUntilIdle() {
	for {
		fn, ok := p.next()
		if !ok {
			return
		}
		fn()
	}
}

// pendingCount is the number of immediate continuations waiting to run.
func (p *manualPump) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// liveDelayed returns the run times of delayed continuations not cancelled yet.
func (p *manualPump) liveDelayed() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []time.Time
	for _, dc := range p.delayed {
		if !dc.canceled {
			out = append(out, dc.at)
		}
	}
	return out
}

// releaseDue moves due delayed continuations into the immediate list.
func (p *manualPump) releaseDue() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	kept := p.delayed[:0]
	for _, dc := range p.delayed {
		switch {
		case dc.canceled:
		case !dc.at.After(now):
			p.pending = append(p.pending, dc.fn)
		default:
			kept = append(kept, dc)
		}
	}
	p.delayed = kept
}

// harness runs a SequenceManager on the test goroutine.
type harness struct {
	t     *testing.T
	clock *MockClock
	pump  *manualPump
	m     *SequenceManager
}

func newHarness(t *testing.T, configure ...func(*Settings)) *harness {
	t.Helper()
	clock := NewMockClock(time.Time{})
	s := Settings{
		Name:   t.Name(),
		Clock:  clock,
		Logger: NewNoOpLogger(),
	}
	for _, fn := range configure {
		fn(&s)
	}
	m := NewSequenceManager(s)
	pump := newManualPump(clock)
	m.BindToMessagePump(pump)
	return &harness{t: t, clock: clock, pump: pump, m: m}
}

func (h *harness) queue(name string, priority TaskPriority) *TaskQueue {
	return h.m.CreateTaskQueue(NewTaskQueueSpec(name).WithPriority(priority))
}

// run drains every immediate continuation.
func (h *harness) run() {
	h.pump.RunUntilIdle()
}

// advance moves the clock and runs everything that became due.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.pump.releaseDue()
	h.pump.RunUntilIdle()
}

// recorder collects task labels in run order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) task(label string) Task {
	return func(ctx context.Context) {
		r.add(label)
	}
}

func (r *recorder) add(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, label)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// countingMetrics records what the manager reports.
type countingMetrics struct {
	mu        sync.Mutex
	durations map[string]int
	panics    map[string]int
	depths    map[string]int
	rejected  map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		durations: make(map[string]int),
		panics:    make(map[string]int),
		depths:    make(map[string]int),
		rejected:  make(map[string]int),
	}
}

func (m *countingMetrics) RecordTaskDuration(queueName string, priority TaskPriority, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations[queueName]++
}

func (m *countingMetrics) RecordTaskPanic(queueName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics[queueName]++
}

func (m *countingMetrics) RecordQueueDepth(queueName string, depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depths[queueName] = depth
}

func (m *countingMetrics) RecordTaskRejected(queueName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[queueName+"/"+reason]++
}

type capturingPanicHandler struct {
	mu     sync.Mutex
	panics []any
	names  []string
}

func (h *capturingPanicHandler) HandlePanic(ctx context.Context, queueName string, taskName string, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panics = append(h.panics, panicInfo)
	h.names = append(h.names, queueName+"/"+taskName)
}

type capturingRejectedHandler struct {
	mu      sync.Mutex
	reasons []string
}

func (h *capturingRejectedHandler) HandleRejectedTask(queueName string, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, queueName+"/"+reason)
}
