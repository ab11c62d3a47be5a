package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the engine's operational counters
type Metrics struct {
	instancesCreated  *prometheus.CounterVec
	tasksExecuted     *prometheus.CounterVec
	eventsDispatched  *prometheus.CounterVec
	hookDepthExceeded prometheus.Counter
	queueDepth        prometheus.Gauge
}

// NewMetrics registers the engine metrics with the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		instancesCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_instances_created_total",
			Help: "Workflow instances created, by workflow id.",
		}, []string{"workflow_id"}),
		tasksExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_tasks_executed_total",
			Help: "Task attempts executed, by workflow id and result kind.",
		}, []string{"workflow_id", "result"}),
		eventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_events_dispatched_total",
			Help: "Events dispatched through the bus, by event type.",
		}, []string{"event_type"}),
		hookDepthExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "cascade_hook_depth_exceeded_total",
			Help: "Events whose hook expansion was dropped at the depth limit.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cascade_queue_depth",
			Help: "Instances currently in the ready queue.",
		}),
	}
}

// NopMetrics returns metrics backed by a private registry, for tests and
// embedded use
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// InstanceCreated counts one created instance
func (m *Metrics) InstanceCreated(workflowID string) {
	m.instancesCreated.WithLabelValues(workflowID).Inc()
}

// TaskExecuted counts one task attempt by result kind
func (m *Metrics) TaskExecuted(workflowID, result string) {
	m.tasksExecuted.WithLabelValues(workflowID, result).Inc()
}

// EventDispatched counts one dispatched event
func (m *Metrics) EventDispatched(eventType string) {
	m.eventsDispatched.WithLabelValues(eventType).Inc()
}

// HookDepthExceeded counts one dropped hook expansion
func (m *Metrics) HookDepthExceeded() {
	m.hookDepthExceeded.Inc()
}

// QueueDepth records the current ready-queue depth
func (m *Metrics) QueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}
