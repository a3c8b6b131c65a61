package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegistryObserveAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Observe("GET /healthz", 200, 15*time.Millisecond)
	r.Observe("GET /healthz", 503, 35*time.Millisecond)
	r.IncDecision("proceed")
	r.IncDecision("proceed")
	r.IncDecision("blocked")
	r.IncAxiomTrigger("integrity.destruction")
	r.IncConflict("open")
	r.IncApproval("pending")
	r.IncCycle("completed")
	r.IncViolation("critical")
	r.IncLockdown()
	r.SetGauge("approvals_pending", 3)

	snap := r.Snapshot()
	ep, ok := snap.Endpoints["GET /healthz"]
	if !ok {
		t.Fatal("missing endpoint metric")
	}
	if ep.Count != 2 {
		t.Fatalf("expected count=2 got=%d", ep.Count)
	}
	if ep.ErrorCount != 1 {
		t.Fatalf("expected error_count=1 got=%d", ep.ErrorCount)
	}
	if ep.MaxMillis != 35 {
		t.Fatalf("expected max_millis=35 got=%d", ep.MaxMillis)
	}
	if snap.Decisions["proceed"] != 2 || snap.Decisions["blocked"] != 1 {
		t.Fatalf("unexpected decision counters: %#v", snap.Decisions)
	}
	if snap.AxiomTriggers["integrity.destruction"] != 1 {
		t.Fatalf("expected axiom trigger counted, got %#v", snap.AxiomTriggers)
	}
	if snap.ConflictStatus["open"] != 1 || snap.ApprovalStatus["pending"] != 1 {
		t.Fatalf("unexpected status counters: %#v %#v", snap.ConflictStatus, snap.ApprovalStatus)
	}
	if snap.CycleStatus["completed"] != 1 || snap.ViolationSeverity["critical"] != 1 {
		t.Fatalf("unexpected cycle/violation counters: %#v %#v", snap.CycleStatus, snap.ViolationSeverity)
	}
	if snap.Lockdowns != 1 {
		t.Fatalf("expected lockdowns=1 got=%d", snap.Lockdowns)
	}
	if snap.Gauges["approvals_pending"] != 3 {
		t.Fatalf("expected gauge approvals_pending=3 got=%v", snap.Gauges["approvals_pending"])
	}
}

func TestEvaluateLatencyStat(t *testing.T) {
	r := NewRegistry()
	r.ObserveEvaluateLatency(10 * time.Millisecond)
	r.ObserveEvaluateLatency(30 * time.Millisecond)
	snap := r.Snapshot()
	if snap.EvaluateLatencyMS.Count != 2 {
		t.Fatalf("expected count=2 got=%d", snap.EvaluateLatencyMS.Count)
	}
	if snap.EvaluateLatencyMS.MaxMS != 30 || snap.EvaluateLatencyMS.LastMS != 30 {
		t.Fatalf("unexpected max/last: %+v", snap.EvaluateLatencyMS)
	}
	if snap.EvaluateLatencyMS.AvgMS != 20 {
		t.Fatalf("expected avg=20 got=%v", snap.EvaluateLatencyMS.AvgMS)
	}
}

func TestSortedKeys(t *testing.T) {
	keys := SortedKeys(map[string]int{"b": 2, "a": 1, "c": 3})
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys got=%d", len(keys))
	}
	if keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected order: %#v", keys)
	}
}

func TestPrometheusHandler(t *testing.T) {
	r := NewRegistry()
	r.Observe("POST /v1/arbitration/evaluate", 200, 12*time.Millisecond)
	r.Observe("POST /v1/arbitration/evaluate", 500, 20*time.Millisecond)
	r.IncDecision("blocked")
	r.IncAxiomTrigger("finance.irreversible")
	r.IncViolation("high")
	r.IncLockdown()
	r.SetGauge("approvals_pending", 7)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics/prometheus", nil)
	r.PrometheusHandler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "aegis_endpoint_count") {
		t.Fatalf("missing endpoint metric: %s", body)
	}
	if !strings.Contains(body, "aegis_decision_total{outcome=\"blocked\"} 1") {
		t.Fatalf("missing decision metric: %s", body)
	}
	if !strings.Contains(body, "aegis_axiom_trigger_total{axiom=\"finance.irreversible\"} 1") {
		t.Fatalf("missing axiom trigger metric: %s", body)
	}
	if !strings.Contains(body, "aegis_violation_total{severity=\"high\"} 1") {
		t.Fatalf("missing violation metric: %s", body)
	}
	if !strings.Contains(body, "aegis_lockdown_total 1") {
		t.Fatalf("missing lockdown metric: %s", body)
	}
	if !strings.Contains(body, "aegis_gauge{name=\"approvals_pending\"} 7.000") {
		t.Fatalf("missing gauge metric: %s", body)
	}
}

func TestJSONHandlerAndEmptyInputs(t *testing.T) {
	r := NewRegistry()
	r.IncDecision("")
	r.IncAxiomTrigger("")
	r.IncConflict("")
	r.SetGauge("", 5)
	r.Observe("GET /healthz", 204, 5*time.Millisecond)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected json content type, got %q", got)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"generated_at\"") {
		t.Fatalf("expected generated timestamp in body: %s", body)
	}
	if strings.Contains(body, "\"\"") {
		t.Fatalf("did not expect empty-key counters in body: %s", body)
	}
}
