// Package metrics provides the Prometheus instrumentation (A3) and
// OpenTelemetry tracing helpers (A4) shared across the orchestration
// engine: pool utilization, quality-gate duration, conversation
// iterations, and container lifecycle events.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder bundles every Prometheus collector the engine emits to. A
// single process-wide instance is constructed at startup and threaded
// into the components that need it, mirroring the teacher's
// PrometheusRecorder shape.
//
//nolint:govet // fieldalignment: logical grouping preferred
type Recorder struct {
	Registry               *prometheus.Registry
	PhaseTransitions       *prometheus.CounterVec
	WorkerPoolUtilization  *prometheus.GaugeVec
	QualityGateDuration    *prometheus.HistogramVec
	ConversationIterations *prometheus.HistogramVec
	ContainerLifecycle     *prometheus.CounterVec
	PendingQueueLength     prometheus.Gauge
}

// NewRecorder builds a fresh Prometheus registry and registers every
// collector against it via promauto.With, rather than the global default
// registry, so constructing more than one Recorder in the same process
// (tests, or multiple Orchestrator instances) never hits promauto's
// duplicate-registration panic.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		Registry: reg,
		PhaseTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentco_workflow_phase_transitions_total",
				Help: "Total number of WorkflowEngine phase transitions",
			},
			[]string{"from_phase", "to_phase"},
		),
		WorkerPoolUtilization: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agentco_worker_pool_workers",
				Help: "Current worker count by status",
			},
			[]string{"status"},
		),
		QualityGateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentco_quality_gate_duration_seconds",
				Help:    "Duration of QualityGate runs by check",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"check"},
		),
		ConversationIterations: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentco_worker_conversation_iterations",
				Help:    "Number of conversation-loop iterations per worker run",
				Buckets: prometheus.LinearBuckets(1, 2, 16),
			},
			[]string{"terminal_status"},
		),
		ContainerLifecycle: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentco_container_lifecycle_events_total",
				Help: "Total WorkerContainer lifecycle transitions by event",
			},
			[]string{"event"},
		),
		PendingQueueLength: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentco_pending_queue_length",
				Help: "Current length of the WorkerPool pending-task queue",
			},
		),
	}
}

// ObservePhaseTransition records a WorkflowEngine phase transition.
func (r *Recorder) ObservePhaseTransition(fromPhase, toPhase string) {
	if r == nil {
		return
	}
	r.PhaseTransitions.WithLabelValues(fromPhase, toPhase).Inc()
}

// ObserveQualityGateCheck records one lint/test check's duration.
func (r *Recorder) ObserveQualityGateCheck(check string, duration time.Duration) {
	if r == nil {
		return
	}
	r.QualityGateDuration.WithLabelValues(check).Observe(duration.Seconds())
}

// ObserveConversationIterations records how many loop iterations a worker
// run took before reaching terminalStatus.
func (r *Recorder) ObserveConversationIterations(terminalStatus string, iterations int) {
	if r == nil {
		return
	}
	r.ConversationIterations.WithLabelValues(terminalStatus).Observe(float64(iterations))
}

// ObserveContainerEvent records a WorkerContainer lifecycle transition
// (created, started, stopped, destroyed).
func (r *Recorder) ObserveContainerEvent(event string) {
	if r == nil {
		return
	}
	r.ContainerLifecycle.WithLabelValues(event).Inc()
}

// SetPoolUtilization reports the current idle/working worker counts.
func (r *Recorder) SetPoolUtilization(idle, working int) {
	if r == nil {
		return
	}
	r.WorkerPoolUtilization.WithLabelValues("idle").Set(float64(idle))
	r.WorkerPoolUtilization.WithLabelValues("working").Set(float64(working))
}

// SetPendingQueueLength reports the current pending-task queue length.
func (r *Recorder) SetPendingQueueLength(n int) {
	if r == nil {
		return
	}
	r.PendingQueueLength.Set(float64(n))
}
