package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AuthOutcome("success")
	m.AuditAppend(true, time.Millisecond)
	m.Violation("HashMismatch")
	m.ForensicEnabled(true)
	m.ClockJump()
	if m.Registry() != nil {
		t.Fatalf("nil metrics must not expose a registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.AuthOutcome("success")
	m.AuthOutcome("success")
	m.AuthOutcome("BadSecret")
	if got := testutil.ToFloat64(m.authAttempts.WithLabelValues("success")); got != 2 {
		t.Fatalf("success attempts = %v", got)
	}
	m.AuditAppend(false, time.Second)
	if got := testutil.ToFloat64(m.auditAppends.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed appends = %v", got)
	}
	m.ForensicEnabled(true)
	if got := testutil.ToFloat64(m.forensic); got != 1 {
		t.Fatalf("forensic gauge = %v", got)
	}
	m.ForensicEnabled(false)
	if got := testutil.ToFloat64(m.forensic); got != 0 {
		t.Fatalf("forensic gauge = %v", got)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ClockJump()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "bandward_nonce_clock_jumps_total 1") {
		t.Fatalf("clock jump counter missing from exposition")
	}
}
