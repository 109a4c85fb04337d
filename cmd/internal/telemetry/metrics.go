// Package telemetry owns the Prometheus collectors for the order approval workflow.
//
// Every method is nil-safe so components can run without metrics in tests.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace = "orderdesk"

// Metrics groups the workflow collectors.
type Metrics struct {
	linkValidations    *prometheus.CounterVec
	linksIssued        *prometheus.CounterVec
	orderTransitions   *prometheus.CounterVec
	changeReviews      *prometheus.CounterVec
	auditAppends       *prometheus.CounterVec
	auditFailures      prometheus.Counter
	auditFeedListeners prometheus.Gauge
}

// NewMetrics constructs and registers the collectors on reg.
// A nil reg registers nothing, which keeps parallel tests isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		linkValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "link_validations_total",
			Help:      "Magic link validations by resulting status.",
		}, []string{"status"}),
		linksIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_issued_total",
			Help:      "Magic link issue calls by outcome.",
		}, []string{"kind"}),
		orderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_transitions_total",
			Help:      "Order approval transitions by transition and result.",
		}, []string{"transition", "result"}),
		changeReviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "change_request_reviews_total",
			Help:      "Change request reviews by decision and result.",
		}, []string{"decision", "result"}),
		auditAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Audit entries appended by action.",
		}, []string{"action"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_append_failures_total",
			Help:      "Audit appends that failed and were swallowed.",
		}),
		auditFeedListeners: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audit_feed_subscribers",
			Help:      "Connected audit live feed subscribers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.linkValidations,
			m.linksIssued,
			m.orderTransitions,
			m.changeReviews,
			m.auditAppends,
			m.auditFailures,
			m.auditFeedListeners,
		)
	}
	return m
}

// LinkValidated counts one validation outcome.
func (m *Metrics) LinkValidated(status string) {
	if m == nil {
		return
	}
	m.linkValidations.WithLabelValues(status).Inc()
}

// LinkIssued counts one issue outcome: created, existing or regenerated.
func (m *Metrics) LinkIssued(kind string) {
	if m == nil {
		return
	}
	m.linksIssued.WithLabelValues(kind).Inc()
}

// OrderTransition counts one approve/reject attempt.
func (m *Metrics) OrderTransition(transition, result string) {
	if m == nil {
		return
	}
	m.orderTransitions.WithLabelValues(transition, result).Inc()
}

// ChangeRequestReviewed counts one review attempt.
func (m *Metrics) ChangeRequestReviewed(decision, result string) {
	if m == nil {
		return
	}
	m.changeReviews.WithLabelValues(decision, result).Inc()
}

// AuditAppended counts one successful append.
func (m *Metrics) AuditAppended(action string) {
	if m == nil {
		return
	}
	m.auditAppends.WithLabelValues(action).Inc()
}

// AuditFailed counts one swallowed append failure.
func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// FeedSubscribers sets the live feed subscriber gauge.
func (m *Metrics) FeedSubscribers(n int) {
	if m == nil {
		return
	}
	m.auditFeedListeners.Set(float64(n))
}
