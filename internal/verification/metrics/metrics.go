package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks verification progress: transitions, retry rejections,
// admin decisions and engine latency.
type Metrics struct {
	Initializations      *prometheus.CounterVec
	Transitions          *prometheus.CounterVec
	RetryRejections      *prometheus.CounterVec
	AdminReviews         *prometheus.CounterVec
	EvidenceUploaded     prometheus.Counter
	CentersVerified      prometheus.Counter
	EventPublishFailures *prometheus.CounterVec
	OperationDuration    *prometheus.HistogramVec
}

// New registers the verification metrics on the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Initializations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentverify_centers_initialized_total",
			Help: "Verification centers created, by whether the email fast path applied",
		}, []string{"email_fast_path"}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentverify_step_transitions_total",
			Help: "Committed step status changes by pillar, target status and path",
		}, []string{"pillar", "status", "via"}),
		RetryRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentverify_retry_rejections_total",
			Help: "Retries refused by the step budget, by pillar",
		}, []string{"pillar"}),
		AdminReviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentverify_admin_reviews_total",
			Help: "Administrator decisions by outcome",
		}, []string{"decision"}),
		EvidenceUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "studentverify_evidence_uploaded_total",
			Help: "Evidence records attached to steps",
		}),
		CentersVerified: factory.NewCounter(prometheus.CounterOpts{
			Name: "studentverify_centers_fully_verified_total",
			Help: "Users whose four pillars all reached verified",
		}),
		EventPublishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "studentverify_event_publish_failures_total",
			Help: "Domain events that could not be delivered, by event type",
		}, []string{"type"}),
		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "studentverify_engine_operation_duration_seconds",
			Help:    "Latency of verification engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

// Each recorder tolerates a nil receiver so the engine runs without metrics.

func (m *Metrics) IncInitialized(fastPath bool) {
	if m == nil {
		return
	}
	label := "false"
	if fastPath {
		label = "true"
	}
	m.Initializations.WithLabelValues(label).Inc()
}

func (m *Metrics) IncTransition(pillar, status, via string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(pillar, status, via).Inc()
}

func (m *Metrics) IncRetryRejected(pillar string) {
	if m == nil {
		return
	}
	m.RetryRejections.WithLabelValues(pillar).Inc()
}

func (m *Metrics) IncAdminReview(decision string) {
	if m == nil {
		return
	}
	m.AdminReviews.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncEvidenceUploaded() {
	if m == nil {
		return
	}
	m.EvidenceUploaded.Inc()
}

func (m *Metrics) IncCenterVerified() {
	if m == nil {
		return
	}
	m.CentersVerified.Inc()
}

func (m *Metrics) IncEventPublishFailure(eventType string) {
	if m == nil {
		return
	}
	m.EventPublishFailures.WithLabelValues(eventType).Inc()
}

// ObserveOperation records time since start under operation.
// Call with time.Now() captured at the start of the operation.
func (m *Metrics) ObserveOperation(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
