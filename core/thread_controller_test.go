package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSource hands out a fixed list of tasks.
type scriptedSource struct {
	tasks   []*SelectedTask
	taken   int
	ran     int
	idle    int
	delay   time.Duration
	lastRun *SelectedTask
}

func newScriptedSource(tasks ...Task) *scriptedSource {
	s := &scriptedSource{delay: InfiniteDelay}
	for _, t := range tasks {
		s.tasks = append(s.tasks, &SelectedTask{Task: t, Ctx: context.Background(), QueueName: "scripted"})
	}
	return s
}

func (s *scriptedSource) TakeTask(lazyNow *LazyNow) (*SelectedTask, bool) {
	if s.taken == len(s.tasks) {
		return nil, false
	}
	t := s.tasks[s.taken]
	s.taken++
	return t, true
}

func (s *scriptedSource) DidRunTask(lazyNow *LazyNow) {
	s.lastRun = s.tasks[s.ran]
	s.ran++
}

func (s *scriptedSource) DelayTillNextTask(lazyNow *LazyNow) time.Duration {
	if s.taken < len(s.tasks) {
		return 0
	}
	return s.delay
}

func (s *scriptedSource) OnIdle() bool {
	s.idle++
	return false
}

func newBoundController(t *testing.T, source *scriptedSource, handler PanicHandler) (*ThreadController, *manualPump, *MockClock) {
	t.Helper()
	clock := NewMockClock(time.Time{})
	c := NewThreadController(clock, handler, nil)
	c.SetSequencedTaskSource(source)
	pump := newManualPump(clock)
	c.BindToCurrentThread(pump)
	return c, pump, clock
}

// TestThreadController_SetNextDelayedDoWorkIsIdempotent verifies one live delayed continuation
// Main test items:
// 1. Repeating the same run time does not post again
// 2. A new run time replaces the pending continuation
// 3. A zero run time cancels it
func TestThreadController_SetNextDelayedDoWorkIsIdempotent(t *testing.T) {
	// Arrange
	c, pump, clock := newBoundController(t, newScriptedSource(), nil)
	pump.RunUntilIdle()
	at := clock.Now().Add(10 * time.Millisecond)

	// Act
	c.SetNextDelayedDoWork(NewLazyNow(clock), at)
	c.SetNextDelayedDoWork(NewLazyNow(clock), at)

	// Assert
	require.Len(t, pump.liveDelayed(), 1)
	assert.True(t, pump.liveDelayed()[0].Equal(at))
	assert.True(t, c.NextDelayedDoWork().Equal(at))

	// Act - move the wake-up
	later := at.Add(5 * time.Millisecond)
	c.SetNextDelayedDoWork(NewLazyNow(clock), later)

	// Assert
	require.Len(t, pump.liveDelayed(), 1)
	assert.True(t, pump.liveDelayed()[0].Equal(later))

	// Act - cancel
	c.SetNextDelayedDoWork(NewLazyNow(clock), time.Time{})

	// Assert
	assert.Empty(t, pump.liveDelayed())
	assert.True(t, c.NextDelayedDoWork().IsZero())
}

// TestThreadController_DelayedRequestWhileWorkPending verifies a pending DoWork absorbs delayed requests
func TestThreadController_DelayedRequestWhileWorkPending(t *testing.T) {
	c, pump, clock := newBoundController(t, newScriptedSource(), nil)

	c.SetNextDelayedDoWork(NewLazyNow(clock), clock.Now().Add(time.Second))

	assert.Empty(t, pump.liveDelayed())
	assert.Equal(t, 1, pump.pendingCount())
}

// TestThreadController_ScheduleWorkIsDeduplicated verifies repeated requests post one continuation
func TestThreadController_ScheduleWorkIsDeduplicated(t *testing.T) {
	c, pump, _ := newBoundController(t, newScriptedSource(), nil)
	pump.RunUntilIdle()
	posts := pump.posts

	for range 5 {
		c.ScheduleWork()
	}

	assert.Equal(t, posts+1, pump.posts)
	assert.Equal(t, 1, pump.pendingCount())
}

// TestThreadController_BatchSize verifies DoWork runs at most the batch size of tasks
func TestThreadController_BatchSize(t *testing.T) {
	var ran []int
	mk := func(i int) Task { return func(ctx context.Context) { ran = append(ran, i) } }
	source := newScriptedSource(mk(1), mk(2), mk(3))
	c, pump, _ := newBoundController(t, source, nil)
	c.SetWorkBatchSize(2)

	fn, ok := pump.next()
	require.True(t, ok)
	fn()

	assert.Equal(t, []int{1, 2}, ran)
	assert.Equal(t, 1, pump.pendingCount())

	pump.RunUntilIdle()
	assert.Equal(t, []int{1, 2, 3}, ran)
	assert.Equal(t, 3, source.ran)
}

// TestThreadController_DelayedWorkArmsContinuation verifies the DoWork epilogue arms a wake-up
func TestThreadController_DelayedWorkArmsContinuation(t *testing.T) {
	source := newScriptedSource()
	source.delay = 25 * time.Millisecond
	c, pump, clock := newBoundController(t, source, nil)
	start := clock.Now()

	pump.RunUntilIdle()

	require.Len(t, pump.liveDelayed(), 1)
	assert.True(t, pump.liveDelayed()[0].Equal(start.Add(25*time.Millisecond)))
	assert.True(t, c.NextDelayedDoWork().Equal(start.Add(25*time.Millisecond)))
	assert.Equal(t, 1, source.idle)

	// The delayed continuation clears the wake-up before running.
	source.delay = InfiniteDelay
	clock.Advance(25 * time.Millisecond)
	pump.releaseDue()
	pump.RunUntilIdle()
	assert.True(t, c.NextDelayedDoWork().IsZero())
	assert.Empty(t, pump.liveDelayed())
}

// TestThreadController_PanicRecovery verifies task panics are routed to the handler
func TestThreadController_PanicRecovery(t *testing.T) {
	handler := &capturingPanicHandler{}
	source := newScriptedSource(
		func(ctx context.Context) { panic("kaboom") },
		func(ctx context.Context) {},
	)
	source.tasks[0].TaskName = "bad"
	_, pump, _ := newBoundController(t, source, handler)

	pump.RunUntilIdle()

	assert.Equal(t, 2, source.ran)
	assert.True(t, source.tasks[0].Panicked)
	assert.False(t, source.tasks[1].Panicked)
	assert.Equal(t, []any{"kaboom"}, handler.panics)
	assert.Equal(t, []string{"scripted/bad"}, handler.names)
}

// TestThreadController_FatalErrorPropagates verifies contract violations are not recovered
func TestThreadController_FatalErrorPropagates(t *testing.T) {
	source := newScriptedSource(func(ctx context.Context) {
		fatalf("test", "broken invariant")
	})
	_, pump, _ := newBoundController(t, source, &capturingPanicHandler{})

	assert.PanicsWithError(t, "sequence manager: test: broken invariant", pump.RunUntilIdle)
}

// TestThreadController_RequiresSource verifies use without a task source is fatal
func TestThreadController_RequiresSource(t *testing.T) {
	c := NewThreadController(nil, nil, nil)

	assert.Panics(t, c.ScheduleWork)
	assert.Panics(t, func() { c.BindToCurrentThread(newManualPump(RealClock{})) })
}

// TestThreadController_Destroy verifies continuations become inert
func TestThreadController_Destroy(t *testing.T) {
	ran := false
	source := newScriptedSource(func(ctx context.Context) { ran = true })
	c, pump, _ := newBoundController(t, source, nil)

	c.Destroy()
	pump.RunUntilIdle()
	c.ScheduleWork()

	assert.False(t, ran)
	assert.Equal(t, 0, pump.pendingCount())
}

// TestThreadController_TimerSlackReachesPump verifies the slack setting is forwarded
func TestThreadController_TimerSlackReachesPump(t *testing.T) {
	c, pump, _ := newBoundController(t, newScriptedSource(), nil)

	c.SetTimerSlack(TimerSlackMaximum)

	assert.Equal(t, TimerSlackMaximum, pump.slack)
}

func TestTimerSlack_Apply(t *testing.T) {
	assert.Equal(t, 3*time.Millisecond, TimerSlackNone.apply(3*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, TimerSlackMaximum.apply(3*time.Millisecond))
	assert.Equal(t, 20*time.Millisecond, TimerSlackMaximum.apply(10*time.Millisecond+time.Nanosecond))
	assert.Equal(t, 30*time.Millisecond, TimerSlackMaximum.apply(30*time.Millisecond))
	assert.Equal(t, time.Duration(0), TimerSlackMaximum.apply(0))
}
