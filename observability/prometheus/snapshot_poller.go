package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-sequence-manager/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// StatsProvider provides manager stats snapshots. *sequencemanager.Thread
// implements it.
type StatsProvider interface {
	Stats(ctx context.Context) (core.ManagerStats, error)
}

// SnapshotPoller periodically exports manager Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration
	logger   core.Logger

	providersMu sync.RWMutex
	providers   map[string]StatsProvider

	managerPending      *prom.GaugeVec
	managerDeferred     *prom.GaugeVec
	managerNestingDepth *prom.GaugeVec
	managerTasksRun     *prom.GaugeVec

	queuePending  *prom.GaugeVec
	queueReady    *prom.GaugeVec
	queueDelayed  *prom.GaugeVec
	queueTasksRun *prom.GaugeVec
	queueEnabled  *prom.GaugeVec
	queueFenced   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
// A nil logger discards poll errors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration, logger core.Logger) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = core.NewNoOpLogger()
	}

	managerGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: DefaultNamespace,
			Name:      name,
			Help:      help,
		}, []string{"manager"})
	}
	queueGauge := func(name, help string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: DefaultNamespace,
			Name:      name,
			Help:      help,
		}, []string{"manager", "queue", "priority"})
	}

	p := &SnapshotPoller{
		interval:            interval,
		logger:              logger,
		providers:           make(map[string]StatsProvider),
		managerPending:      managerGauge("manager_pending", "Pending tasks across all queues of a manager."),
		managerDeferred:     managerGauge("manager_deferred", "Non-nestable tasks waiting for the outer loop."),
		managerNestingDepth: managerGauge("manager_nesting_depth", "Current nested loop depth."),
		managerTasksRun:     managerGauge("manager_tasks_run", "Tasks run by a manager snapshot."),
		queuePending:        queueGauge("queue_pending", "Pending tasks per queue."),
		queueReady:          queueGauge("queue_ready", "Tasks in the ready buffers per queue."),
		queueDelayed:        queueGauge("queue_delayed", "Delayed tasks not yet due per queue."),
		queueTasksRun:       queueGauge("queue_tasks_run", "Tasks run per queue snapshot."),
		queueEnabled:        queueGauge("queue_enabled", "Queue enabled state (1=enabled, 0=disabled)."),
		queueFenced:         queueGauge("queue_fenced", "Queue fence state (1=fence set, 0=none)."),
	}

	var err error
	for _, g := range []**prom.GaugeVec{
		&p.managerPending, &p.managerDeferred, &p.managerNestingDepth, &p.managerTasksRun,
		&p.queuePending, &p.queueReady, &p.queueDelayed, &p.queueTasksRun, &p.queueEnabled, &p.queueFenced,
	} {
		if *g, err = registerCollector(reg, *g); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddManager adds or replaces a stats provider by name.
func (p *SnapshotPoller) AddManager(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "manager")
	p.providersMu.Lock()
	p.providers[name] = provider
	p.providersMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce(ctx)
		}
	}
}

// CollectOnce polls every provider once. A provider that does not answer
// within the poll interval is skipped.
func (p *SnapshotPoller) CollectOnce(ctx context.Context) {
	p.providersMu.RLock()
	defer p.providersMu.RUnlock()

	for name, provider := range p.providers {
		pollCtx, cancel := context.WithTimeout(ctx, p.interval)
		stats, err := provider.Stats(pollCtx)
		cancel()
		if err != nil {
			p.logger.Debug("stats poll failed", core.F("manager", name), core.F("error", err))
			continue
		}

		p.managerPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.managerDeferred.WithLabelValues(name).Set(float64(stats.Deferred))
		p.managerNestingDepth.WithLabelValues(name).Set(float64(stats.NestingDepth))
		p.managerTasksRun.WithLabelValues(name).Set(float64(stats.TasksRun))

		for _, q := range stats.Queues {
			labels := []string{name, normalizeLabel(q.Name, "unknown"), priorityLabel(q.Priority)}
			p.queuePending.WithLabelValues(labels...).Set(float64(q.Pending))
			p.queueReady.WithLabelValues(labels...).Set(float64(q.Ready))
			p.queueDelayed.WithLabelValues(labels...).Set(float64(q.Delayed))
			p.queueTasksRun.WithLabelValues(labels...).Set(float64(q.TasksRun))
			p.queueEnabled.WithLabelValues(labels...).Set(boolGauge(q.Enabled))
			p.queueFenced.WithLabelValues(labels...).Set(boolGauge(q.HasFence))
		}
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
