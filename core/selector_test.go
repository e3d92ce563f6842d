package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bands builds a Select input with a candidate in every listed band.
func bands(priorities ...TaskPriority) [TaskPriorityCount]*candidate {
	var best [TaskPriorityCount]*candidate
	for _, p := range priorities {
		best[p] = &candidate{task: orderedTask(EnqueueOrder(p) + FirstEnqueueOrder)}
	}
	return best
}

func selectedBand(best [TaskPriorityCount]*candidate, c *candidate) TaskPriority {
	for p, b := range best {
		if b != nil && b == c {
			return TaskPriority(p)
		}
	}
	return TaskPriorityCount
}

// TestSelector_ControlAlwaysWins verifies control work is picked over every band
func TestSelector_ControlAlwaysWins(t *testing.T) {
	s := newTaskQueueSelector(DefaultStarvationLimits())

	for range 50 {
		best := bands(TaskPriorityControl, TaskPriorityHighest, TaskPriorityLow)
		assert.Equal(t, TaskPriorityControl, selectedBand(best, s.Select(best)))
	}
}

// TestSelector_StarvationLimits verifies each lower band is served after its limit
// Main test items:
// 1. A band skipped limit times is served next
// 2. Serving a band resets its counter
func TestSelector_StarvationLimits(t *testing.T) {
	tests := []struct {
		name  string
		band  TaskPriority
		limit int
	}{
		{"high", TaskPriorityHigh, 3},
		{"normal", TaskPriorityNormal, 5},
		{"low", TaskPriorityLow, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTaskQueueSelector(DefaultStarvationLimits())

			var picks []TaskPriority
			for range 2 * (tt.limit + 1) {
				best := bands(TaskPriorityHighest, tt.band)
				picks = append(picks, selectedBand(best, s.Select(best)))
			}

			require.Len(t, picks, 2*(tt.limit+1))
			for i, p := range picks {
				if (i+1)%(tt.limit+1) == 0 {
					assert.Equal(t, tt.band, p, "pick %d", i)
				} else {
					assert.Equal(t, TaskPriorityHighest, p, "pick %d", i)
				}
			}
		})
	}
}

func TestSelector_CustomLimitsAreClamped(t *testing.T) {
	s := newTaskQueueSelector(StarvationLimits{High: 0, Normal: -3, Low: 2})

	assert.Equal(t, 1, s.limits[TaskPriorityHigh])
	assert.Equal(t, 1, s.limits[TaskPriorityNormal])
	assert.Equal(t, 2, s.limits[TaskPriorityLow])
}

// TestSelector_BestEffort verifies best-effort only runs when nothing else can
func TestSelector_BestEffort(t *testing.T) {
	s := newTaskQueueSelector(DefaultStarvationLimits())

	best := bands(TaskPriorityLow, TaskPriorityBestEffort)
	assert.Equal(t, TaskPriorityLow, selectedBand(best, s.Select(best)))

	best = bands(TaskPriorityBestEffort)
	assert.Equal(t, TaskPriorityBestEffort, selectedBand(best, s.Select(best)))

	best = bands()
	assert.Nil(t, s.Select(best))
	assert.False(t, s.HasRunnableWork(best))
	assert.True(t, s.HasRunnableWork(bands(TaskPriorityBestEffort)))
}

func TestSelector_EmptyBandResetsCounter(t *testing.T) {
	s := newTaskQueueSelector(DefaultStarvationLimits())

	for range 2 {
		best := bands(TaskPriorityHighest, TaskPriorityHigh)
		s.Select(best)
	}
	require.Equal(t, 2, s.starvation[TaskPriorityHigh])

	best := bands(TaskPriorityHighest)
	s.Select(best)
	assert.Equal(t, 0, s.starvation[TaskPriorityHigh])
}

// =============================================================================
// atomicFlagSet and queueTable
// =============================================================================

func TestAtomicFlagSet_RunActive(t *testing.T) {
	var s atomicFlagSet
	queues := make([]*taskQueueImpl, 70)
	flags := make([]atomicFlag, len(queues))
	for i := range queues {
		queues[i] = &taskQueueImpl{name: string(rune('a' + i%26))}
		flags[i] = s.Add(queues[i])
	}
	require.Len(t, s.groups, 2)

	flags[3].Set()
	flags[65].Set()
	flags[10].Set()
	flags[10].Clear()

	var got []*taskQueueImpl
	s.RunActive(func(q *taskQueueImpl) { got = append(got, q) })
	assert.Equal(t, []*taskQueueImpl{queues[3], queues[65]}, got)

	got = nil
	s.RunActive(func(q *taskQueueImpl) { got = append(got, q) })
	assert.Empty(t, got, "flags are cleared by RunActive")

	// A released bit is reused and never reports its old owner.
	flags[3].Set()
	s.Release(flags[3])
	s.RunActive(func(q *taskQueueImpl) { got = append(got, q) })
	assert.Empty(t, got)

	replacement := &taskQueueImpl{name: "replacement"}
	f := s.Add(replacement)
	assert.Equal(t, flags[3], f)
}

func TestQueueTable_StaleIDs(t *testing.T) {
	var table queueTable
	a := &taskQueueImpl{name: "a"}
	b := &taskQueueImpl{name: "b"}

	idA := table.Insert(a)
	assert.Same(t, a, table.Lookup(idA))
	assert.Equal(t, 1, table.Len())

	table.Remove(idA)
	assert.Nil(t, table.Lookup(idA))

	idB := table.Insert(b)
	assert.Equal(t, idA.Index, idB.Index, "slot is reused")
	assert.NotEqual(t, idA.Generation, idB.Generation)
	assert.Nil(t, table.Lookup(idA), "old id stays stale")
	assert.Same(t, b, table.Lookup(idB))

	table.Remove(idA)
	assert.Same(t, b, table.Lookup(idB), "removing a stale id is a no-op")
	assert.Nil(t, table.Lookup(QueueID{Index: 99, Generation: 1}))
	assert.Equal(t, "0.2", idB.String())
}
