package core

import (
	"context"
	"encoding/json"
	"slices"
)

// =============================================================================
// Queue lifecycle
// =============================================================================

// CreateTaskQueue registers a new queue. Bound thread only.
func (m *SequenceManager) CreateTaskQueue(spec TaskQueueSpec) *TaskQueue {
	m.checkSentinel("SequenceManager.CreateTaskQueue")
	m.bound.Assert("SequenceManager.CreateTaskQueue")
	if spec.Name == "" {
		spec.Name = "task_queue"
	}
	if !spec.Priority.IsValid() {
		fatalf("SequenceManager.CreateTaskQueue", "queue %q has invalid priority %d", spec.Name, spec.Priority)
	}
	domain := spec.TimeDomain
	if domain == nil {
		domain = m.realDomain
	} else if domain != TimeDomain(m.realDomain) && !slices.Contains(m.main.timeDomains, domain) {
		fatalf("SequenceManager.CreateTaskQueue", "time domain %q is not registered", domain.Name())
	}

	q := newTaskQueueImpl(m, spec, domain)
	q.id = m.queues.Insert(q)
	q.flag = m.flags.Add(q)
	handle := &TaskQueue{manager: m, id: q.id, name: q.name}
	q.handle = handle
	q.ctx = context.WithValue(m.ctx, currentQueueKey, handle)
	m.main.activeQueues = append(m.main.activeQueues, q)

	m.settings.Logger.Debug("task queue registered",
		F("manager", m.settings.Name),
		F("queue", q.name),
		F("id", q.id.String()),
		F("priority", spec.Priority.String()),
		F("time_domain", domain.Name()),
	)
	return handle
}

// releaseQueue starts the graceful shutdown of a released handle. Other
// goroutines forward the request to the bound thread.
func (m *SequenceManager) releaseQueue(id QueueID) {
	if m.onBoundThread() {
		m.shutdownQueueGracefully(id)
		return
	}
	withLock(&m.anyMu, func() {
		m.pendingReleases = append(m.pendingReleases, id)
	})
	m.releasesPending.Store(true)
	m.ScheduleWork()
}

func (m *SequenceManager) processPendingReleases() {
	if !m.releasesPending.Swap(false) {
		return
	}
	ids := lockedValue(&m.anyMu, func() []QueueID {
		ids := m.pendingReleases
		m.pendingReleases = nil
		return ids
	})
	for _, id := range ids {
		m.shutdownQueueGracefully(id)
	}
}

func (m *SequenceManager) shutdownQueueGracefully(id QueueID) {
	q := m.queues.Lookup(id)
	if q == nil || q.isUnregistered() {
		return
	}
	if q.isEmpty() {
		m.unregisterQueue(q)
		return
	}
	m.main.gracefulShutdown[q] = struct{}{}
	m.settings.Logger.Info("task queue shutting down gracefully",
		F("queue", q.name), F("pending", q.numberOfPendingTasks()))
}

// unregisterQueue drops the queue's tasks and removes it from selection.
func (m *SequenceManager) unregisterQueue(q *taskQueueImpl) {
	dropped := q.unregister()
	if i := slices.Index(m.main.activeQueues, q); i >= 0 {
		m.main.activeQueues = slices.Delete(m.main.activeQueues, i, i+1)
	}
	delete(m.main.gracefulShutdown, q)
	m.main.deferred = slices.DeleteFunc(m.main.deferred, func(d deferredTask) bool {
		return d.queue == q
	})
	m.flags.Release(q.flag)
	m.queues.Remove(q.id)
	m.main.pendingDeletion = append(m.main.pendingDeletion, q)

	m.settings.Logger.Info("task queue unregistered",
		F("queue", q.name), F("id", q.id.String()), F("dropped", dropped))
	m.onQueueWakeUpChanged()
}

// cleanUpQueues unregisters drained queues and forgets unregistered ones.
// Runs at nesting depth 0 only, when no task of theirs can be on the stack.
func (m *SequenceManager) cleanUpQueues() {
	for q := range m.main.gracefulShutdown {
		if q.isEmpty() {
			m.unregisterQueue(q)
		}
	}
	clear(m.main.pendingDeletion)
	m.main.pendingDeletion = m.main.pendingDeletion[:0]
}

// PendingTaskCount counts tasks in every queue, including delayed and
// deferred ones.
func (m *SequenceManager) PendingTaskCount() int {
	m.bound.Assert("SequenceManager.PendingTaskCount")
	n := 0
	for _, q := range m.main.activeQueues {
		n += q.numberOfPendingTasks()
	}
	return n
}

// EnableCrashKeys turns the crash-key records of this manager on or off.
func (m *SequenceManager) EnableCrashKeys(enable bool) {
	m.bound.Assert("SequenceManager.EnableCrashKeys")
	m.settings.RecordCrashKeys = enable
	if !enable {
		clearCrashKey(m.id)
	}
}

// =============================================================================
// Time domains
// =============================================================================

func (m *SequenceManager) RealTimeDomain() TimeDomain { return m.realDomain }

// RegisterTimeDomain makes d usable in TaskQueueSpec.TimeDomain.
func (m *SequenceManager) RegisterTimeDomain(d TimeDomain) {
	m.bound.Assert("SequenceManager.RegisterTimeDomain")
	if d == nil || d == TimeDomain(m.realDomain) || slices.Contains(m.main.timeDomains, d) {
		return
	}
	m.main.timeDomains = append(m.main.timeDomains, d)
	m.settings.Logger.Info("time domain registered", F("domain", d.Name()))
}

// UnregisterTimeDomain moves the queues of d back to the real domain.
func (m *SequenceManager) UnregisterTimeDomain(d TimeDomain) {
	m.bound.Assert("SequenceManager.UnregisterTimeDomain")
	i := slices.Index(m.main.timeDomains, d)
	if i < 0 {
		return
	}
	m.main.timeDomains = slices.Delete(m.main.timeDomains, i, i+1)
	moved := 0
	for _, q := range m.main.activeQueues {
		if q.timeDomain() == d {
			q.setTimeDomain(m.realDomain)
			q.updateWakeUp()
			moved++
		}
	}
	m.settings.Logger.Info("time domain unregistered", F("domain", d.Name()), F("queues", moved))
	m.onQueueWakeUpChanged()
}

// =============================================================================
// Diagnostics
// =============================================================================

type pendingTasksDescription struct {
	Manager      string             `json:"manager"`
	ID           string             `json:"id"`
	NestingDepth int                `json:"nesting_depth"`
	Deferred     int                `json:"deferred"`
	Queues       []QueueDescription `json:"queues"`
}

// DescribeAllPendingTasks returns a JSON dump of every queue and its
// pending tasks. Bound thread only.
func (m *SequenceManager) DescribeAllPendingTasks() (string, error) {
	m.bound.Assert("SequenceManager.DescribeAllPendingTasks")
	d := pendingTasksDescription{
		Manager:      m.settings.Name,
		ID:           m.id,
		NestingDepth: m.main.nestingDepth,
		Deferred:     len(m.main.deferred),
	}
	for _, q := range m.main.activeQueues {
		qd := q.describe()
		_, qd.ShuttingDown = m.main.gracefulShutdown[q]
		d.Queues = append(d.Queues, qd)
	}
	out, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Stats returns a snapshot of the manager and its queues. Bound thread only.
func (m *SequenceManager) Stats() ManagerStats {
	m.bound.Assert("SequenceManager.Stats")
	s := ManagerStats{
		ID:           m.id,
		Name:         m.settings.Name,
		Bound:        m.bound.IsBound(),
		Deferred:     len(m.main.deferred),
		NestingDepth: m.main.nestingDepth,
		TasksRun:     m.tasksRun.Load(),
		NextDoWork:   m.controller.NextDelayedDoWork(),
	}
	for _, q := range m.main.activeQueues {
		_, draining := m.main.gracefulShutdown[q]
		qs := QueueStats{
			Name:         q.name,
			ID:           q.id.String(),
			Priority:     q.main.priority,
			TimeDomain:   q.timeDomain().Name(),
			Pending:      q.numberOfPendingTasks(),
			Ready:        int(q.readyCount.Load()),
			Delayed:      int(q.delayedCount.Load()),
			TasksRun:     q.tasksRun.Load(),
			Enabled:      q.isEnabledMain(),
			HasFence:     q.main.fence.IsSet(),
			ShuttingDown: draining,
			NextWakeUp:   q.main.scheduledWakeUp,
		}
		s.Pending += qs.Pending
		s.Queues = append(s.Queues, qs)
	}
	return s
}
