package core

// StarvationLimits bounds how many passes a band in High..Low may be skipped
// in favor of a higher band while it has runnable work.
type StarvationLimits struct {
	High   int
	Normal int
	Low    int
}

func DefaultStarvationLimits() StarvationLimits {
	return StarvationLimits{High: 3, Normal: 5, Low: 10}
}

// candidate is the runnable front of one queue.
type candidate struct {
	queue *taskQueueImpl
	work  *workQueue
	task  *PendingTask
}

// taskQueueSelector picks the next queue to run from.
//
// Control always wins. Highest..Low are served strictly by band except
// that a lower band skipped too often is served next. BestEffort only runs
// when nothing else can.
type taskQueueSelector struct {
	limits     [TaskPriorityCount]int
	starvation [TaskPriorityCount]int
}

func newTaskQueueSelector(limits StarvationLimits) *taskQueueSelector {
	s := &taskQueueSelector{}
	s.limits[TaskPriorityHigh] = max(limits.High, 1)
	s.limits[TaskPriorityNormal] = max(limits.Normal, 1)
	s.limits[TaskPriorityLow] = max(limits.Low, 1)
	return s
}

// bestPerBand returns, per band, the enabled queue whose runnable front has
// the smallest TaskOrder.
func bestPerBand(queues []*taskQueueImpl) [TaskPriorityCount]*candidate {
	var best [TaskPriorityCount]*candidate
	for _, q := range queues {
		if !q.isEnabledMain() {
			continue
		}
		wq, task := q.runnableFront()
		if task == nil {
			continue
		}
		p := q.main.priority
		if best[p] == nil || task.order.Less(best[p].task.order) {
			best[p] = &candidate{queue: q, work: wq, task: task}
		}
	}
	return best
}

// Select picks from best and updates the starvation counters.
func (s *taskQueueSelector) Select(best [TaskPriorityCount]*candidate) *candidate {
	if c := best[TaskPriorityControl]; c != nil {
		return c
	}

	chosen := TaskPriorityCount
	for p := TaskPriorityLow; p >= TaskPriorityHigh; p-- {
		if best[p] != nil && s.starvation[p] >= s.limits[p] {
			chosen = p
			break
		}
	}
	if chosen == TaskPriorityCount {
		for p := TaskPriorityHighest; p <= TaskPriorityLow; p++ {
			if best[p] != nil {
				chosen = p
				break
			}
		}
	}

	if chosen == TaskPriorityCount {
		s.resetStarvation()
		return best[TaskPriorityBestEffort]
	}

	for p := TaskPriorityHighest; p <= TaskPriorityLow; p++ {
		switch {
		case p == chosen || best[p] == nil:
			s.starvation[p] = 0
		case p > chosen:
			s.starvation[p]++
		}
	}
	return best[chosen]
}

// HasRunnableWork reports whether Select would return something.
func (s *taskQueueSelector) HasRunnableWork(best [TaskPriorityCount]*candidate) bool {
	for _, c := range best {
		if c != nil {
			return true
		}
	}
	return false
}

func (s *taskQueueSelector) resetStarvation() {
	for p := range s.starvation {
		s.starvation[p] = 0
	}
}
