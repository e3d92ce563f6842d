package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// TimerSlack controls how precisely delayed continuations fire.
type TimerSlack int

const (
	TimerSlackNone TimerSlack = iota
	// TimerSlackMaximum rounds delays up to the next timerSlackGranularity
	// boundary so nearby wake-ups coalesce.
	TimerSlackMaximum
)

const timerSlackGranularity = 10 * time.Millisecond

func (s TimerSlack) apply(d time.Duration) time.Duration {
	if s != TimerSlackMaximum || d <= 0 {
		return d
	}
	if rem := d % timerSlackGranularity; rem != 0 {
		d += timerSlackGranularity - rem
	}
	return d
}

// MessagePump delivers the controller's continuations on the bound thread.
type MessagePump interface {
	// PostContinuation queues fn to run on the bound thread. Any goroutine may call it.
	PostContinuation(fn func())

	// PostDelayedContinuation queues fn after d. The returned func cancels it.
	PostDelayedContinuation(fn func(), d time.Duration) (cancel func())

	// RunUntilIdle runs already queued continuations on the calling goroutine
	// until none are left. It backs nested run loops and must be called on
	// the bound thread.
	RunUntilIdle()

	SetTimerSlack(slack TimerSlack)
}

var (
	ErrPumpNotRunning     = errors.New("message pump is not running")
	ErrPumpAlreadyStarted = errors.New("message pump already started")
)

// GoroutinePump runs continuations on one dedicated goroutine.
//
// Continuations are kept in an unbounded FIFO so producers never block.
// Delayed continuations use time.AfterFunc and re-enter the FIFO when they fire.
type GoroutinePump struct {
	mu      sync.Mutex
	pending *queue.Queue
	wake    chan struct{}

	slack atomic.Int32

	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	stopped chan struct{}
	once    sync.Once
}

func NewGoroutinePump() *GoroutinePump {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutinePump{
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
}

// Start spawns the pump goroutine. onStart runs first on that goroutine,
// which is where callers bind their thread-affine objects.
func (p *GoroutinePump) Start(onStart func()) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrPumpAlreadyStarted
	}
	go p.runLoop(onStart)
	return nil
}

// Stop ends the loop after the continuation currently running returns.
// Continuations still queued are dropped.
func (p *GoroutinePump) Stop() {
	p.once.Do(func() {
		p.cancel()
		if p.started.Load() {
			<-p.stopped
		}
	})
}

// Done is closed once the pump goroutine has exited.
func (p *GoroutinePump) Done() <-chan struct{} {
	return p.stopped
}

func (p *GoroutinePump) PostContinuation(fn func()) {
	if p.ctx.Err() != nil {
		return
	}
	p.mu.Lock()
	p.pending.Add(fn)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *GoroutinePump) PostDelayedContinuation(fn func(), d time.Duration) func() {
	d = TimerSlack(p.slack.Load()).apply(d)
	if d <= 0 {
		p.PostContinuation(fn)
		return func() {}
	}
	var canceled atomic.Bool
	timer := time.AfterFunc(d, func() {
		p.PostContinuation(func() {
			if !canceled.Load() {
				fn()
			}
		})
	})
	return func() {
		canceled.Store(true)
		timer.Stop()
	}
}

func (p *GoroutinePump) SetTimerSlack(slack TimerSlack) {
	p.slack.Store(int32(slack))
}

// PostAndWait runs fn on the pump goroutine and waits for it to finish.
func (p *GoroutinePump) PostAndWait(ctx context.Context, fn func()) error {
	if !p.started.Load() || p.ctx.Err() != nil {
		return ErrPumpNotRunning
	}
	done := make(chan struct{})
	p.PostContinuation(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-p.stopped:
		return ErrPumpNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *GoroutinePump) RunUntilIdle() {
	for p.ctx.Err() == nil {
		fn, ok := p.next()
		if !ok {
			return
		}
		fn()
	}
}

func (p *GoroutinePump) next() (func(), bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Length() == 0 {
		return nil, false
	}
	return p.pending.Remove().(func()), true
}

// runLoop occupies the dedicated goroutine
func (p *GoroutinePump) runLoop(onStart func()) {
	defer close(p.stopped)

	if onStart != nil {
		onStart()
	}

	for {
		p.RunUntilIdle()

		select {
		case <-p.wake:
		case <-p.ctx.Done():
			return
		}
	}
}
