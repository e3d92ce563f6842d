package prometheus

import (
	"errors"
	"fmt"
	"time"

	"github.com/Swind/go-sequence-manager/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every collector of this package.
const DefaultNamespace = "seqmgr"

const unknownLabel = "unknown"

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	// DurationBuckets is used for both the run time and the queueing delay
	// histograms. Defaults to prom.DefBuckets.
	DurationBuckets []float64
}

// MetricsExporter publishes a SequenceManager's activity as Prometheus
// collectors. It implements core.Metrics; registered as a core.TaskObserver
// it also measures queueing delay, and as a core.NestingObserver it counts
// nested run loops.
type MetricsExporter struct {
	runSeconds   *prom.HistogramVec
	delaySeconds *prom.HistogramVec
	panics       *prom.CounterVec
	rejected     *prom.CounterVec
	depth        *prom.GaugeVec
	nestedLoops  prom.Counter
}

var (
	_ core.Metrics         = (*MetricsExporter)(nil)
	_ core.TaskObserver    = (*MetricsExporter)(nil)
	_ core.NestingObserver = (*MetricsExporter)(nil)
)

// NewMetricsExporter creates the collectors and registers them with reg
// (prom.DefaultRegisterer when nil). Collectors that reg already holds are
// reused, so two exporters on one registry share their series.
func NewMetricsExporter(namespace string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}

	histogram := func(name, help string) *prom.HistogramVec {
		return prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace, Name: name, Help: help, Buckets: buckets,
		}, []string{"queue", "priority"})
	}

	m := &MetricsExporter{
		runSeconds:   histogram("task_duration_seconds", "Task run time in seconds."),
		delaySeconds: histogram("task_queue_delay_seconds", "Time from posting (or delay expiry) to the task starting."),
		panics: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "task_panic_total", Help: "Tasks that panicked.",
		}, []string{"queue"}),
		rejected: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace, Name: "task_rejected_total", Help: "Posts dropped because their queue was gone.",
		}, []string{"queue", "reason"}),
		depth: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Pending tasks of a queue after its last task ran.",
		}, []string{"queue"}),
		nestedLoops: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace, Name: "nested_loops_total", Help: "Nested run loops entered.",
		}),
	}

	var err error
	if m.runSeconds, err = registerCollector(reg, m.runSeconds); err != nil {
		return nil, err
	}
	if m.delaySeconds, err = registerCollector(reg, m.delaySeconds); err != nil {
		return nil, err
	}
	if m.panics, err = registerCollector(reg, m.panics); err != nil {
		return nil, err
	}
	if m.rejected, err = registerCollector(reg, m.rejected); err != nil {
		return nil, err
	}
	if m.depth, err = registerCollector(reg, m.depth); err != nil {
		return nil, err
	}
	if m.nestedLoops, err = registerCollector(reg, m.nestedLoops); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MetricsExporter) RecordTaskDuration(queueName string, priority core.TaskPriority, duration time.Duration) {
	if m == nil {
		return
	}
	m.runSeconds.WithLabelValues(label(queueName), priorityLabel(priority)).Observe(duration.Seconds())
}

func (m *MetricsExporter) RecordTaskPanic(queueName string, panicInfo any) {
	if m == nil {
		return
	}
	m.panics.WithLabelValues(label(queueName)).Inc()
}

func (m *MetricsExporter) RecordQueueDepth(queueName string, depth int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(label(queueName)).Set(float64(depth))
}

func (m *MetricsExporter) RecordTaskRejected(queueName string, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(label(queueName), label(reason)).Inc()
}

// WillProcessTask observes the queueing delay. Tasks without a queue time
// (AddQueueTimeToTasks off, or an immediate task posted before it was
// turned on) are skipped.
func (m *MetricsExporter) WillProcessTask(info core.TaskInfo) {
	if m == nil || info.QueueTime.IsZero() || info.StartedAt.Before(info.QueueTime) {
		return
	}
	m.delaySeconds.WithLabelValues(label(info.QueueName), priorityLabel(info.Priority)).
		Observe(info.StartedAt.Sub(info.QueueTime).Seconds())
}

func (m *MetricsExporter) DidProcessTask(core.TaskInfo) {}

func (m *MetricsExporter) OnBeginNestedRunLoop() {
	if m == nil {
		return
	}
	m.nestedLoops.Inc()
}

func (m *MetricsExporter) OnExitNestedRunLoop() {}

func label(v string) string {
	if v == "" {
		return unknownLabel
	}
	return v
}

func priorityLabel(priority core.TaskPriority) string {
	if !priority.IsValid() {
		return unknownLabel
	}
	return priority.String()
}

func registerCollector[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	err := reg.Register(collector)
	if err == nil {
		return collector, nil
	}

	var are prom.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return collector, err
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return collector, fmt.Errorf("collector %T already registered with another type", collector)
	}
	return existing, nil
}
