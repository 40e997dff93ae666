package metrics

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prommodel "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jbrannan/flowgate/pkg/queue"
)

func TestJSON_ReflectsIncrements(t *testing.T) {
	m := New()
	m.JobsAdded.Inc()
	m.JobsAdded.Inc()
	m.JobsCompleted.Inc()
	m.BytesWritten.Add(1024)

	snap := m.JSON()
	if snap.JobsTotal != 2 {
		t.Errorf("expected jobs_total 2, got %v", snap.JobsTotal)
	}
	if snap.JobsCompleted != 1 {
		t.Errorf("expected jobs_completed 1, got %v", snap.JobsCompleted)
	}
	if snap.BytesDownloadedTotal != 1024 {
		t.Errorf("expected bytes_downloaded_total 1024, got %v", snap.BytesDownloadedTotal)
	}
}

func TestJSON_SumsLabeledCounters(t *testing.T) {
	m := New()
	m.JobsErrored.WithLabelValues("disk_full").Inc()
	m.JobsErrored.WithLabelValues("network_transient").Inc()
	m.JobsErrored.WithLabelValues("network_transient").Inc()

	m.ObserveGatewayCall("submit", "ok", 10*time.Millisecond)
	m.ObserveGatewayCall("submit", "error", 10*time.Millisecond)
	m.ObserveGatewayCall("status", "error", 10*time.Millisecond)

	snap := m.JSON()
	if snap.JobsErrored != 3 {
		t.Errorf("expected jobs_errored 3, got %v", snap.JobsErrored)
	}
	if snap.DebridRequestsTotal != 3 {
		t.Errorf("expected debrid_requests_total 3, got %v", snap.DebridRequestsTotal)
	}
	if snap.DebridRequestsFailed != 2 {
		t.Errorf("expected debrid_requests_failed 2, got %v", snap.DebridRequestsFailed)
	}
}

func TestObserveScheduler(t *testing.T) {
	m := New()
	m.ObserveScheduler(queue.Stats{
		ReadyLarge:         1,
		ReadySmall:         3,
		PendingSubmissions: 2,
		RunningLarge:       1,
		RunningSmall:       1,
	})
	snap := m.JSON()
	if snap.JobsActive != 2 {
		t.Errorf("expected jobs_active 2, got %+v", snap)
	}
}

func TestObserveGatewayCall_RecordsOutcome(t *testing.T) {
	m := New()
	m.ObserveGatewayCall("submit", "ok", 50*time.Millisecond)
	m.ObserveGatewayCall("submit", "error", 10*time.Millisecond)

	ok, err := m.GatewayCalls.GetMetricWithLabelValues("submit", "ok")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	if got := prommodel.ToFloat64(ok); got != 1 {
		t.Errorf("expected 1 ok submit call, got %v", got)
	}
}

func TestHandler_ServesPrometheusText(t *testing.T) {
	m := New()
	m.JobsAdded.Inc()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics/prom", nil)
	m.Handler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flowgate_jobs_added_total") {
		t.Errorf("expected exposition text to contain the counter name")
	}
}

func TestJSONHandler_ServesJSONCounters(t *testing.T) {
	m := New()
	m.JobsAdded.Inc()
	m.BytesWritten.Add(512)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.JSONHandler().ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}

	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding JSON body: %v", err)
	}
	if snap.JobsTotal != 1 || snap.BytesDownloadedTotal != 512 {
		t.Errorf("unexpected snapshot from JSON handler: %+v", snap)
	}
}
