package monitor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitorRecordsMetrics(t *testing.T) {
	m := NewMonitor("fingergun")

	m.IncSubmission("accepted")
	m.IncSubmission("accepted")
	m.IncSubmission("rejected")
	m.IncRateLimited("submit")
	m.IncAuthOutcome("platform", "ok")
	m.SetWSClients(3)
	m.ObserveRequest("GET", "/api/leaderboard", 200, 5*time.Millisecond)

	if got := testutil.ToFloat64(m.metrics.Submissions.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("accepted submissions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.metrics.RateLimited.WithLabelValues("submit")); got != 1 {
		t.Fatalf("rate limited = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.metrics.WebSocketClients); got != 3 {
		t.Fatalf("ws clients = %v, want 3", got)
	}
	if n := testutil.CollectAndCount(m.metrics.RequestLatency); n != 1 {
		t.Fatalf("latency series = %d, want 1", n)
	}
}

func TestMonitorHandlerServesRegistry(t *testing.T) {
	m := NewMonitor("fingergun")
	m.IncAuthOutcome("session", "SESSION_AUTH_DISABLED")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`fingergun_auth_outcomes_total{method="session",outcome="SESSION_AUTH_DISABLED"} 1`,
		"fingergun_uptime_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMonitorIsNoop(t *testing.T) {
	var m *Monitor
	m.IncSubmission("accepted")
	m.IncRateLimited("api")
	m.IncAuthOutcome("platform", "ok")
	m.SetWSClients(1)
	m.ObserveRequest("GET", "/", 200, time.Millisecond)
}
