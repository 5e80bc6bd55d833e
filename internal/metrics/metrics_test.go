package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"shuttle-tracker/internal/fusion"
	"shuttle-tracker/internal/publisher"
	"shuttle-tracker/internal/tracking"
)

var (
	_ fusion.Metrics             = (*Collector)(nil)
	_ publisher.PublisherMetrics = (*Collector)(nil)
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(2, 30*time.Second, 50)

	c.ReportAccepted(tracking.RoleDriver, true)
	c.ReportAccepted(tracking.RoleStudent, false)
	c.ReportAccepted(tracking.RoleStudent, false)
	c.ReportRejected("rate_limited")
	c.Transition(tracking.EventArrived)
	c.ConfirmationRecorded(true)
	c.ResetPerformed("scheduled")
	c.ClustersObserved("S1/A", 3)
	c.NATSSetConnected(true)

	if got := testutil.ToFloat64(c.ReportsAccepted.WithLabelValues("student", "false")); got != 2 {
		t.Errorf("student reports = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.ReportsRejected.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(c.Transitions.WithLabelValues("arrived")); got != 1 {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(c.Resets.WithLabelValues("scheduled")); got != 1 {
		t.Errorf("resets = %v", got)
	}
	if got := testutil.ToFloat64(c.Clusters.WithLabelValues("S1/A")); got != 3 {
		t.Errorf("clusters = %v", got)
	}
	if got := testutil.ToFloat64(c.NATSConnected); got != 1 {
		t.Errorf("nats connected = %v", got)
	}
	if got := testutil.ToFloat64(c.Quorum); got != 2 {
		t.Errorf("quorum gauge = %v", got)
	}
	if got := testutil.ToFloat64(c.StalenessWindow); got != 30 {
		t.Errorf("staleness gauge = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(1, 30*time.Second, 50)
	c.ObserveHTTP("GET", "/api/stops", 200, 3*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `tracker_http_request_duration_seconds_count{method="GET",route="/api/stops",status="200"} 1`) {
		t.Fatalf("missing http histogram in:\n%s", body)
	}
}
