package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

// DefaultLockdownThreshold is how many recorded violations trip the
// lockdown.
const DefaultLockdownThreshold = 5

// MetricsStore is the singleton-per-scope security counter row.
type MetricsStore interface {
	Metrics(ctx context.Context, scope string) (models.SecurityMetrics, error)
	Save(ctx context.Context, scope string, m models.SecurityMetrics) error
}

// Status is the externally visible lock summary.
type Status struct {
	Locked         bool `json:"locked"`
	ViolationCount int  `json:"violation_count"`
	Remaining      int  `json:"remaining_before_lockdown"`
}

// Guard is the security escalation path. It shares the audit chain with
// the health state machine but nothing else: a flood of health errors
// never trips a lockdown, and a lockdown never looks like a health blip.
type Guard struct {
	store MetricsStore
	chain *auditchain.Chain
	now   func() time.Time
	logf  func(format string, args ...any)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Guard)

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(g *Guard) { g.logf = logf }
}

func New(store MetricsStore, chain *auditchain.Chain, opts ...Option) *Guard {
	g := &Guard{
		store: store,
		chain: chain,
		now:   func() time.Time { return time.Now().UTC() },
		logf:  log.Printf,
		locks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) scopeLock(scope string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.locks[scope]; ok {
		return l
	}
	l := &sync.Mutex{}
	g.locks[scope] = l
	return l
}

// RecordViolation bumps the violation counter and trips the lockdown at
// the threshold. The counter increment and the threshold check run
// under the scope lock so concurrent violations trip exactly one
// lockdown.
func (g *Guard) RecordViolation(ctx context.Context, scope, action, detail, actorID string) (models.SecurityMetrics, error) {
	if strings.TrimSpace(action) == "" {
		return models.SecurityMetrics{}, fmt.Errorf("action required: %w", models.ErrInvalidArgument)
	}
	lock := g.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	metrics, err := g.store.Metrics(ctx, scope)
	if err != nil {
		return models.SecurityMetrics{}, err
	}
	metrics.ViolationCount++

	details, _ := json.Marshal(map[string]interface{}{
		"action":          action,
		"detail":          detail,
		"severity":        Classify(action),
		"violation_count": metrics.ViolationCount,
	})
	if _, err := g.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "security.violation",
		EntityType: "security_metrics",
		EntityID:   scope,
		Details:    details,
		Blocked:    true,
	}); err != nil {
		return models.SecurityMetrics{}, err
	}

	tripped := !metrics.IsLocked && metrics.ViolationCount >= metrics.LockdownThreshold
	if tripped {
		metrics.IsLocked = true
	}
	if err := g.store.Save(ctx, scope, metrics); err != nil {
		return models.SecurityMetrics{}, err
	}
	if tripped {
		lockDetails, _ := json.Marshal(map[string]interface{}{
			"violation_count": metrics.ViolationCount,
			"threshold":       metrics.LockdownThreshold,
		})
		if _, err := g.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "security.lockdown",
			EntityType: "security_metrics",
			EntityID:   scope,
			Details:    lockDetails,
			Blocked:    true,
		}); err != nil {
			return models.SecurityMetrics{}, err
		}
	}
	return metrics, nil
}

// Unlock clears the lock but keeps the violation count: history
// persists for trend analysis. Unlocking an unlocked scope is a no-op.
func (g *Guard) Unlock(ctx context.Context, scope, actorID string) (models.SecurityMetrics, error) {
	lock := g.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	metrics, err := g.store.Metrics(ctx, scope)
	if err != nil {
		return models.SecurityMetrics{}, err
	}
	if !metrics.IsLocked {
		return metrics, nil
	}
	metrics.IsLocked = false
	if err := g.store.Save(ctx, scope, metrics); err != nil {
		return models.SecurityMetrics{}, err
	}
	details, _ := json.Marshal(map[string]interface{}{
		"violation_count": metrics.ViolationCount,
	})
	if _, err := g.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "security.unlock",
		EntityType: "security_metrics",
		EntityID:   scope,
		Details:    details,
	}); err != nil {
		return models.SecurityMetrics{}, err
	}
	return metrics, nil
}

// SetEncryption toggles at-rest encryption for the scope.
func (g *Guard) SetEncryption(ctx context.Context, scope string, enabled bool, actorID string) (models.SecurityMetrics, error) {
	return g.setToggle(ctx, scope, "security.encryption", enabled, actorID, func(m *models.SecurityMetrics) {
		m.EncryptionEnabled = enabled
	})
}

// SetFilter toggles output filtering for the scope.
func (g *Guard) SetFilter(ctx context.Context, scope string, enabled bool, actorID string) (models.SecurityMetrics, error) {
	return g.setToggle(ctx, scope, "security.filter", enabled, actorID, func(m *models.SecurityMetrics) {
		m.FilterEnabled = enabled
	})
}

func (g *Guard) setToggle(ctx context.Context, scope, eventType string, enabled bool, actorID string, apply func(*models.SecurityMetrics)) (models.SecurityMetrics, error) {
	lock := g.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	metrics, err := g.store.Metrics(ctx, scope)
	if err != nil {
		return models.SecurityMetrics{}, err
	}
	apply(&metrics)
	if err := g.store.Save(ctx, scope, metrics); err != nil {
		return models.SecurityMetrics{}, err
	}
	details, _ := json.Marshal(map[string]interface{}{"enabled": enabled})
	if _, err := g.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  eventType,
		EntityType: "security_metrics",
		EntityID:   scope,
		Details:    details,
	}); err != nil {
		return models.SecurityMetrics{}, err
	}
	return metrics, nil
}

// VerifyIntegrity walks the scope's audit chain from the genesis hash.
// A broken chain is surfaced, never repaired.
func (g *Guard) VerifyIntegrity(ctx context.Context, scope string) (models.VerificationResult, error) {
	return g.chain.Verify(ctx, scope, 0)
}

func (g *Guard) Status(ctx context.Context, scope string) (Status, error) {
	metrics, err := g.store.Metrics(ctx, scope)
	if err != nil {
		return Status{}, err
	}
	remaining := metrics.LockdownThreshold - metrics.ViolationCount
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Locked:         metrics.IsLocked,
		ViolationCount: metrics.ViolationCount,
		Remaining:      remaining,
	}, nil
}

func (g *Guard) Metrics(ctx context.Context, scope string) (models.SecurityMetrics, error) {
	return g.store.Metrics(ctx, scope)
}

// AuditLog exposes the scope's chain for security review.
func (g *Guard) AuditLog(ctx context.Context, scope string, filter auditchain.Filter) ([]models.AuditEntry, error) {
	return g.chain.List(ctx, scope, filter)
}

// Violations lists only the recorded violation entries.
func (g *Guard) Violations(ctx context.Context, scope string, limit int) ([]models.AuditEntry, error) {
	return g.chain.List(ctx, scope, auditchain.Filter{EventType: "security.violation", Limit: limit})
}

// Classify buckets a violation for the audit record. Coarse on purpose;
// the counter, not the class, drives the lockdown.
func Classify(action string) string {
	action = strings.ToLower(action)
	switch {
	case strings.Contains(action, "tamper"), strings.Contains(action, "injection"), strings.Contains(action, "privilege"):
		return "critical"
	case strings.Contains(action, "auth"), strings.Contains(action, "token"), strings.Contains(action, "credential"):
		return "high"
	default:
		return "medium"
	}
}
