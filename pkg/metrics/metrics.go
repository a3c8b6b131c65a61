package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

type Registry struct {
	mu                sync.RWMutex
	endpoint          map[string]*EndpointStat
	decision          map[string]int64
	axiomTrigger      map[string]int64
	conflictStatus    map[string]int64
	approvalStatus    map[string]int64
	cycleStatus       map[string]int64
	violationSeverity map[string]int64
	gauges            map[string]float64
	lockdowns         int64
	evaluateLatency   EvaluateLatencyStat
	Histograms        *HistogramRegistry
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type EvaluateLatencyStat struct {
	Count   int64   `json:"count"`
	TotalMS int64   `json:"total_ms"`
	MaxMS   int64   `json:"max_ms"`
	LastMS  int64   `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
}

type Snapshot struct {
	GeneratedAt       string                  `json:"generated_at"`
	Endpoints         map[string]EndpointStat `json:"endpoints"`
	Decisions         map[string]int64        `json:"decisions"`
	AxiomTriggers     map[string]int64        `json:"axiom_triggers"`
	ConflictStatus    map[string]int64        `json:"conflict_status"`
	ApprovalStatus    map[string]int64        `json:"approval_status"`
	CycleStatus       map[string]int64        `json:"cycle_status"`
	ViolationSeverity map[string]int64        `json:"violation_severity"`
	Gauges            map[string]float64      `json:"gauges"`
	Lockdowns         int64                   `json:"lockdowns_total"`
	EvaluateLatencyMS EvaluateLatencyStat     `json:"evaluate_latency_ms"`
	Histograms        []HistogramSnapshot     `json:"histograms,omitempty"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:          map[string]*EndpointStat{},
		decision:          map[string]int64{},
		axiomTrigger:      map[string]int64{},
		conflictStatus:    map[string]int64{},
		approvalStatus:    map[string]int64{},
		cycleStatus:       map[string]int64{},
		violationSeverity: map[string]int64{},
		gauges:            map[string]float64{},
		Histograms:        NewHistogramRegistry(),
	}
}

func (r *Registry) ObserveLatency(endpoint string, d time.Duration) {
	r.Histograms.ObserveDuration(endpoint, d)
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncDecision counts arbitration outcomes: "proceed" or "blocked".
func (r *Registry) IncDecision(outcome string) {
	outcome = strings.TrimSpace(strings.ToLower(outcome))
	if outcome == "" {
		return
	}
	r.mu.Lock()
	r.decision[outcome]++
	r.mu.Unlock()
}

func (r *Registry) IncAxiomTrigger(axiomID string) {
	axiomID = strings.TrimSpace(axiomID)
	if axiomID == "" {
		return
	}
	r.mu.Lock()
	r.axiomTrigger[axiomID]++
	r.mu.Unlock()
}

func (r *Registry) IncConflict(status string) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return
	}
	r.mu.Lock()
	r.conflictStatus[status]++
	r.mu.Unlock()
}

func (r *Registry) IncApproval(status string) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return
	}
	r.mu.Lock()
	r.approvalStatus[status]++
	r.mu.Unlock()
}

func (r *Registry) IncCycle(status string) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status == "" {
		return
	}
	r.mu.Lock()
	r.cycleStatus[status]++
	r.mu.Unlock()
}

func (r *Registry) IncViolation(severity string) {
	severity = strings.TrimSpace(strings.ToLower(severity))
	if severity == "" {
		severity = "medium"
	}
	r.mu.Lock()
	r.violationSeverity[severity]++
	r.mu.Unlock()
}

func (r *Registry) IncLockdown() {
	r.mu.Lock()
	r.lockdowns++
	r.mu.Unlock()
}

func (r *Registry) ObserveEvaluateLatency(d time.Duration) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluateLatency.Count++
	r.evaluateLatency.TotalMS += ms
	r.evaluateLatency.LastMS = ms
	if ms > r.evaluateLatency.MaxMS {
		r.evaluateLatency.MaxMS = ms
	}
	r.evaluateLatency.AvgMS = float64(r.evaluateLatency.TotalMS) / float64(r.evaluateLatency.Count)
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:       time.Now().UTC().Format(time.RFC3339),
		Endpoints:         make(map[string]EndpointStat, len(r.endpoint)),
		Decisions:         make(map[string]int64, len(r.decision)),
		AxiomTriggers:     make(map[string]int64, len(r.axiomTrigger)),
		ConflictStatus:    make(map[string]int64, len(r.conflictStatus)),
		ApprovalStatus:    make(map[string]int64, len(r.approvalStatus)),
		CycleStatus:       make(map[string]int64, len(r.cycleStatus)),
		ViolationSeverity: make(map[string]int64, len(r.violationSeverity)),
		Gauges:            make(map[string]float64, len(r.gauges)),
		Lockdowns:         r.lockdowns,
		EvaluateLatencyMS: EvaluateLatencyStat{
			Count:   r.evaluateLatency.Count,
			TotalMS: r.evaluateLatency.TotalMS,
			MaxMS:   r.evaluateLatency.MaxMS,
			LastMS:  r.evaluateLatency.LastMS,
			AvgMS:   r.evaluateLatency.AvgMS,
		},
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.decision {
		out.Decisions[k] = v
	}
	for k, v := range r.axiomTrigger {
		out.AxiomTriggers[k] = v
	}
	for k, v := range r.conflictStatus {
		out.ConflictStatus[k] = v
	}
	for k, v := range r.approvalStatus {
		out.ApprovalStatus[k] = v
	}
	for k, v := range r.cycleStatus {
		out.CycleStatus[k] = v
	}
	for k, v := range r.violationSeverity {
		out.ViolationSeverity[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	out.Histograms = r.Histograms.Snapshots()
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP aegis_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE aegis_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "aegis_endpoint_count{endpoint=%q} %d\n", ep, stat.Count)
		}
		b.WriteString("# HELP aegis_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE aegis_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "aegis_endpoint_error_count{endpoint=%q} %d\n", ep, stat.ErrorCount)
		}
		b.WriteString("# HELP aegis_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE aegis_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "aegis_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, stat.AverageMillis)
		}
		b.WriteString("# HELP aegis_endpoint_max_millis endpoint max latency in milliseconds\n")
		b.WriteString("# TYPE aegis_endpoint_max_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			stat := snap.Endpoints[ep]
			fmt.Fprintf(b, "aegis_endpoint_max_millis{endpoint=%q} %d\n", ep, stat.MaxMillis)
		}
		b.WriteString("# HELP aegis_decision_total arbitration outcomes\n")
		b.WriteString("# TYPE aegis_decision_total counter\n")
		for _, outcome := range SortedKeys(snap.Decisions) {
			fmt.Fprintf(b, "aegis_decision_total{outcome=%q} %d\n", outcome, snap.Decisions[outcome])
		}
		b.WriteString("# HELP aegis_axiom_trigger_total axiom matches by axiom id\n")
		b.WriteString("# TYPE aegis_axiom_trigger_total counter\n")
		for _, id := range SortedKeys(snap.AxiomTriggers) {
			fmt.Fprintf(b, "aegis_axiom_trigger_total{axiom=%q} %d\n", id, snap.AxiomTriggers[id])
		}
		b.WriteString("# HELP aegis_conflict_total conflicts by status\n")
		b.WriteString("# TYPE aegis_conflict_total counter\n")
		for _, status := range SortedKeys(snap.ConflictStatus) {
			fmt.Fprintf(b, "aegis_conflict_total{status=%q} %d\n", status, snap.ConflictStatus[status])
		}
		b.WriteString("# HELP aegis_approval_total approval requests by status\n")
		b.WriteString("# TYPE aegis_approval_total counter\n")
		for _, status := range SortedKeys(snap.ApprovalStatus) {
			fmt.Fprintf(b, "aegis_approval_total{status=%q} %d\n", status, snap.ApprovalStatus[status])
		}
		b.WriteString("# HELP aegis_renaissance_cycle_total recovery cycles by status\n")
		b.WriteString("# TYPE aegis_renaissance_cycle_total counter\n")
		for _, status := range SortedKeys(snap.CycleStatus) {
			fmt.Fprintf(b, "aegis_renaissance_cycle_total{status=%q} %d\n", status, snap.CycleStatus[status])
		}
		b.WriteString("# HELP aegis_violation_total security violations by severity\n")
		b.WriteString("# TYPE aegis_violation_total counter\n")
		for _, sev := range SortedKeys(snap.ViolationSeverity) {
			fmt.Fprintf(b, "aegis_violation_total{severity=%q} %d\n", sev, snap.ViolationSeverity[sev])
		}
		b.WriteString("# HELP aegis_lockdown_total lockdowns tripped\n")
		b.WriteString("# TYPE aegis_lockdown_total counter\n")
		fmt.Fprintf(b, "aegis_lockdown_total %d\n", snap.Lockdowns)
		b.WriteString("# HELP aegis_gauge operational gauge metrics\n")
		b.WriteString("# TYPE aegis_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "aegis_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		for _, h := range snap.Histograms {
			b.WriteString("# HELP aegis_latency_seconds latency histogram\n")
			b.WriteString("# TYPE aegis_latency_seconds histogram\n")
			for _, bucket := range h.Buckets {
				fmt.Fprintf(b, "aegis_latency_seconds_bucket{endpoint=%q,le=\"%.3f\"} %d\n", h.Name, bucket.Le, bucket.Count)
			}
			fmt.Fprintf(b, "aegis_latency_seconds_bucket{endpoint=%q,le=\"+Inf\"} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aegis_latency_seconds_sum{endpoint=%q} %.6f\n", h.Name, h.Sum)
			fmt.Fprintf(b, "aegis_latency_seconds_count{endpoint=%q} %d\n", h.Name, h.Count)
			fmt.Fprintf(b, "aegis_latency_p50_seconds{endpoint=%q} %.6f\n", h.Name, h.P50)
			fmt.Fprintf(b, "aegis_latency_p95_seconds{endpoint=%q} %.6f\n", h.Name, h.P95)
			fmt.Fprintf(b, "aegis_latency_p99_seconds{endpoint=%q} %.6f\n", h.Name, h.P99)
		}

		b.WriteString("# HELP aegis_evaluate_latency_ms arbitration evaluate latency in ms\n")
		b.WriteString("# TYPE aegis_evaluate_latency_ms gauge\n")
		fmt.Fprintf(b, "aegis_evaluate_latency_ms{stat=%q} %d\n", "last", snap.EvaluateLatencyMS.LastMS)
		fmt.Fprintf(b, "aegis_evaluate_latency_ms{stat=%q} %.3f\n", "avg", snap.EvaluateLatencyMS.AvgMS)
		fmt.Fprintf(b, "aegis_evaluate_latency_ms{stat=%q} %d\n", "max", snap.EvaluateLatencyMS.MaxMS)

		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
