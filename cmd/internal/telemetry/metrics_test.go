package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.LinkValidated("VALID")
	m.LinkValidated("VALID")
	m.LinkValidated("EXPIRED")
	m.AuditFailed()
	m.FeedSubscribers(3)

	if got := testutil.ToFloat64(m.linkValidations.WithLabelValues("VALID")); got != 2 {
		t.Fatalf("VALID validations=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.auditFailures); got != 1 {
		t.Fatalf("audit failures=%v want=1", got)
	}
	if got := testutil.ToFloat64(m.auditFeedListeners); got != 3 {
		t.Fatalf("subscribers=%v want=3", got)
	}

	n, err := testutil.GatherAndCount(reg, "orderdesk_link_validations_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("series=%d want=2", n)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.LinkValidated("VALID")
	m.LinkIssued("created")
	m.OrderTransition("approve", "ok")
	m.ChangeRequestReviewed("APPROVE", "ok")
	m.AuditAppended("LINK_CREATED")
	m.AuditFailed()
	m.FeedSubscribers(1)
}
