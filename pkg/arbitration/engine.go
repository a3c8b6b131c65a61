package arbitration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/auditchain"
	"aegis/pkg/axioms"
	"aegis/pkg/models"
)

const DefaultBlockThreshold = 0.5

// ConflictStore is the durable conflict table. The engine is the sole
// writer of conflict status transitions.
type ConflictStore interface {
	Insert(ctx context.Context, c models.Conflict) error
	Get(ctx context.Context, scope, id string) (models.Conflict, error)
	Update(ctx context.Context, c models.Conflict) error
	Delete(ctx context.Context, scope, id string) error
	List(ctx context.Context, scope, status string, limit int) ([]models.Conflict, error)
	Counts(ctx context.Context, scope string) (ConflictCounts, error)
}

type ConflictCounts struct {
	Total      int
	Resolved   int
	Blocked    int
	RolledBack int
}

// Restorer is the health state machine's stable-snapshot restore,
// invoked by the conflict-level rollback ("Renaissance protocol").
type Restorer interface {
	RestoreStable(ctx context.Context, scope, reason, actorID string) error
}

// ApprovalOpener opens a time-boxed approval request for a blocked
// conflict whose triggered axioms demand one.
type ApprovalOpener interface {
	Request(ctx context.Context, scope, subjectID, requestedBy string, tier models.Tier) (models.ApprovalRequest, error)
}

// PendingCounter feeds the pending-approvals figure into Stats.
type PendingCounter interface {
	CountPending(ctx context.Context, scope string) (int, error)
}

type Engine struct {
	registry       *axioms.Registry
	chain          *auditchain.Chain
	store          ConflictStore
	approvals      ApprovalOpener
	pending        PendingCounter
	restorer       Restorer
	blockThreshold float64
	now            func() time.Time
	logf           func(format string, args ...any)
}

type Option func(*Engine)

func WithApprovals(a ApprovalOpener, p PendingCounter) Option {
	return func(e *Engine) {
		e.approvals = a
		e.pending = p
	}
}

func WithRestorer(r Restorer) Option {
	return func(e *Engine) { e.restorer = r }
}

func WithBlockThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.blockThreshold = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Engine) { e.logf = logf }
}

func New(registry *axioms.Registry, chain *auditchain.Chain, store ConflictStore, opts ...Option) *Engine {
	e := &Engine{
		registry:       registry,
		chain:          chain,
		store:          store,
		blockThreshold: DefaultBlockThreshold,
		now:            func() time.Time { return time.Now().UTC() },
		logf:           log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores an action description against the axiom catalog.
// Unmatched actions default to allowed with risk zero; that fail-open
// default is deliberate and covered by tests. An H0 violation blocks
// unconditionally regardless of aggregate score.
func (e *Engine) Evaluate(ctx context.Context, scope, actorID, actionDescription string) (models.EvaluateResult, error) {
	action := strings.TrimSpace(actionDescription)
	if action == "" {
		return models.EvaluateResult{}, fmt.Errorf("action description required: %w", models.ErrInvalidArgument)
	}

	triggered := e.registry.Triggered(action)
	result := models.EvaluateResult{CanProceed: true}
	if len(triggered) == 0 {
		return result, nil
	}

	accumulated := 0
	hasH0 := false
	requiresApproval := false
	highestTier := models.TierH3
	axiomIDs := make([]string, 0, len(triggered))
	for _, ax := range triggered {
		accumulated += e.registry.WeightOf(ax.Tier)
		if ax.Tier == models.TierH0 {
			hasH0 = true
		}
		if ax.RequiresApproval {
			requiresApproval = true
		}
		if tierRank(ax.Tier) < tierRank(highestTier) {
			highestTier = ax.Tier
		}
		axiomIDs = append(axiomIDs, ax.ID)
		result.Violations = append(result.Violations, models.Violation{
			AxiomID:     ax.ID,
			Tier:        ax.Tier,
			Description: ax.Description,
		})
	}
	max := e.registry.MaxWeight()
	if max > 0 {
		result.RiskScore = float64(accumulated) / float64(max)
	}
	if result.RiskScore > 1 {
		result.RiskScore = 1
	}
	// Ties break toward blocking.
	result.CanProceed = result.RiskScore < e.blockThreshold && !hasH0
	if result.CanProceed {
		return result, nil
	}

	conflict := models.Conflict{
		ID:                uuid.New().String(),
		Scope:             scope,
		ActionDescription: action,
		TriggeredAxioms:   axiomIDs,
		RiskScore:         result.RiskScore,
		Status:            StatusOpen,
		CreatedAt:         e.now(),
	}
	if err := e.store.Insert(ctx, conflict); err != nil {
		return models.EvaluateResult{}, fmt.Errorf("record conflict: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{
		"action":           action,
		"risk_score":       result.RiskScore,
		"triggered_axioms": axiomIDs,
	})
	err := executeWithCompensation(ctx, func(ctx context.Context) error {
		_, appendErr := e.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "arbitration.block",
			EntityType: "conflict",
			EntityID:   conflict.ID,
			Details:    details,
			Blocked:    true,
		})
		return appendErr
	}, func(ctx context.Context) error {
		return e.store.Delete(ctx, scope, conflict.ID)
	})
	if err != nil {
		return models.EvaluateResult{}, err
	}
	result.ConflictID = conflict.ID

	if requiresApproval && e.approvals != nil {
		if _, err := e.approvals.Request(ctx, scope, conflict.ID, actorID, highestTier); err != nil {
			// The block verdict stands; the operator can recreate the
			// approval request.
			e.logf("arbitration: approval request for conflict %s failed: %v", conflict.ID, err)
		}
	}
	return result, nil
}

// Override forces a blocked conflict to proceed. The justification is
// mandatory and recorded verbatim: it is the accountability artifact,
// never redacted. Overriding does not clear security violation history.
func (e *Engine) Override(ctx context.Context, scope, conflictID, selectedOptionID, justification, actorID string) (models.Conflict, error) {
	if strings.TrimSpace(justification) == "" {
		return models.Conflict{}, fmt.Errorf("justification required: %w", models.ErrInvalidArgument)
	}
	conflict, err := e.store.Get(ctx, scope, conflictID)
	if err != nil {
		return models.Conflict{}, err
	}
	if IsTerminal(conflict.Status) {
		return models.Conflict{}, fmt.Errorf("conflict %s is %s: %w", conflictID, conflict.Status, models.ErrAlreadyDecided)
	}
	previous := conflict
	next, err := Transition(conflict.Status, StatusResolved)
	if err != nil {
		return models.Conflict{}, fmt.Errorf("conflict %s: %w", conflictID, models.ErrAlreadyDecided)
	}
	resolvedAt := e.now()
	conflict.Status = next
	conflict.ResolutionOptionID = selectedOptionID
	conflict.Justification = justification
	conflict.ResolvedAt = &resolvedAt
	if err := e.store.Update(ctx, conflict); err != nil {
		return models.Conflict{}, fmt.Errorf("update conflict: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{
		"selected_option": selectedOptionID,
		"justification":   justification,
	})
	err = executeWithCompensation(ctx, func(ctx context.Context) error {
		_, appendErr := e.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "arbitration.override",
			EntityType: "conflict",
			EntityID:   conflict.ID,
			Details:    details,
		})
		return appendErr
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, previous)
	})
	if err != nil {
		return models.Conflict{}, err
	}
	return conflict, nil
}

// Rollback marks the conflict rolled back and asks the health state
// machine to restore the last stable module snapshot. Rolling back a
// conflict that is already terminal returns the existing record without
// a second audit entry, to tolerate retries.
func (e *Engine) Rollback(ctx context.Context, scope, conflictID, reason, actorID string) (models.Conflict, error) {
	conflict, err := e.store.Get(ctx, scope, conflictID)
	if err != nil {
		return models.Conflict{}, err
	}
	if IsTerminal(conflict.Status) {
		return conflict, nil
	}
	previous := conflict
	next, err := Transition(conflict.Status, StatusRolledBack)
	if err != nil {
		return conflict, nil
	}
	resolvedAt := e.now()
	conflict.Status = next
	conflict.Justification = reason
	conflict.ResolvedAt = &resolvedAt
	if err := e.store.Update(ctx, conflict); err != nil {
		return models.Conflict{}, fmt.Errorf("update conflict: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{"reason": reason})
	err = executeWithCompensation(ctx, func(ctx context.Context) error {
		_, appendErr := e.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "arbitration.rollback",
			EntityType: "conflict",
			EntityID:   conflict.ID,
			Details:    details,
		})
		return appendErr
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, previous)
	})
	if err != nil {
		return models.Conflict{}, err
	}
	if e.restorer != nil {
		if err := e.restorer.RestoreStable(ctx, scope, "conflict:"+conflict.ID, actorID); err != nil {
			// Restore failures are the health machine's to record; the
			// rollback record itself stands.
			e.logf("arbitration: restore for conflict %s failed: %v", conflict.ID, err)
		}
	}
	return conflict, nil
}

// Block closes an open conflict as sustained. Used by the approval
// workflow when a privileged reviewer rejects the request.
func (e *Engine) Block(ctx context.Context, scope, conflictID, reason, actorID string) (models.Conflict, error) {
	conflict, err := e.store.Get(ctx, scope, conflictID)
	if err != nil {
		return models.Conflict{}, err
	}
	if IsTerminal(conflict.Status) {
		return models.Conflict{}, fmt.Errorf("conflict %s is %s: %w", conflictID, conflict.Status, models.ErrAlreadyDecided)
	}
	previous := conflict
	resolvedAt := e.now()
	conflict.Status = StatusBlocked
	conflict.Justification = reason
	conflict.ResolvedAt = &resolvedAt
	if err := e.store.Update(ctx, conflict); err != nil {
		return models.Conflict{}, fmt.Errorf("update conflict: %w", err)
	}
	details, _ := json.Marshal(map[string]interface{}{"reason": reason})
	err = executeWithCompensation(ctx, func(ctx context.Context) error {
		_, appendErr := e.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "arbitration.sustain",
			EntityType: "conflict",
			EntityID:   conflict.ID,
			Details:    details,
			Blocked:    true,
		})
		return appendErr
	}, func(ctx context.Context) error {
		return e.store.Update(ctx, previous)
	})
	if err != nil {
		return models.Conflict{}, err
	}
	return conflict, nil
}

func (e *Engine) Get(ctx context.Context, scope, conflictID string) (models.Conflict, error) {
	return e.store.Get(ctx, scope, conflictID)
}

func (e *Engine) List(ctx context.Context, scope, status string, limit int) ([]models.Conflict, error) {
	return e.store.List(ctx, scope, status, limit)
}

// Stats is a read-only aggregation; it has no side effects.
func (e *Engine) Stats(ctx context.Context, scope string) (models.ArbitrationStats, error) {
	counts, err := e.store.Counts(ctx, scope)
	if err != nil {
		return models.ArbitrationStats{}, err
	}
	stats := models.ArbitrationStats{
		TotalConflicts:    counts.Total,
		ResolvedConflicts: counts.Resolved,
		BlockedConflicts:  counts.Blocked,
		Rollbacks:         counts.RolledBack,
	}
	if e.pending != nil {
		pending, err := e.pending.CountPending(ctx, scope)
		if err != nil {
			return models.ArbitrationStats{}, err
		}
		stats.PendingApprovals = pending
	}
	return stats, nil
}

func tierRank(t models.Tier) int {
	switch t {
	case models.TierH0:
		return 0
	case models.TierH1:
		return 1
	case models.TierH2:
		return 2
	default:
		return 3
	}
}
