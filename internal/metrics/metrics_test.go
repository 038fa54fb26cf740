package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New("")

	m.RecordCall("answered")
	m.RecordCall("answered")
	m.RecordCall("escalated")
	m.RecordResolved()
	m.RecordExpired(3)
	m.RecordExpired(0)
	m.RecordSweep(nil)
	m.RecordSweep(errors.New("boom"))
	m.RecordStoreError("search")

	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("answered")); got != 2 {
		t.Errorf("answered = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CallsTotal.WithLabelValues("escalated")); got != 1 {
		t.Errorf("escalated = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ResolvedTotal); got != 1 {
		t.Errorf("resolved = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ExpiredTotal); got != 3 {
		t.Errorf("expired = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SweepsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("failed sweeps = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("search")); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("frontdesk")
	m.RecordRequest("/health", 200, 3*time.Millisecond)
	if err := m.RegisterPendingGauge("frontdesk", func() float64 { return 4 }); err != nil {
		t.Fatalf("RegisterPendingGauge: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`frontdesk_http_requests_total{route="/health",status="200"} 1`,
		`frontdesk_help_requests_pending 4`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(""), New("")
	a.RecordResolved()
	if got := testutil.ToFloat64(b.ResolvedTotal); got != 0 {
		t.Errorf("second instance saw %v resolutions", got)
	}
}
