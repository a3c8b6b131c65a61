package renaissance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

// System health states.
const (
	StateHealthy    = "healthy"
	StateDegraded   = "degraded"
	StateCritical   = "critical"
	StateRecovering = "recovering"
	StateLocked     = "locked"
)

// Module health states.
const (
	ModuleOperational = "operational"
	ModuleDegraded    = "degraded"
	ModuleFailed      = "failed"
)

// Cycle outcomes.
const (
	CycleCompleted = "completed"
	CycleFailed    = "failed"
	CycleBlocked   = "blocked"
)

const (
	// DefaultFailureThreshold is how many consecutive errors trigger an
	// automatic cycle.
	DefaultFailureThreshold = 3
	// DefaultLockAfterCycles locks the system once this many cycles run
	// without an admin validation in between.
	DefaultLockAfterCycles = 3
	// moduleFailedAfter marks a module failed once its outstanding
	// error count reaches this.
	moduleFailedAfter = 3
)

// Store is the durable health state. The machine is the sole writer.
type Store interface {
	State(ctx context.Context, scope string) (models.SystemHealthState, error)
	SaveState(ctx context.Context, scope string, state models.SystemHealthState) error
	Module(ctx context.Context, scope, name string) (models.ModuleHealth, error)
	SaveModule(ctx context.Context, scope string, m models.ModuleHealth) error
	Modules(ctx context.Context, scope string) ([]models.ModuleHealth, error)
	InsertError(ctx context.Context, rec models.ErrorRecord) error
	GetError(ctx context.Context, scope, id string) (models.ErrorRecord, error)
	UpdateError(ctx context.Context, rec models.ErrorRecord) error
	DeleteError(ctx context.Context, scope, id string) error
	Errors(ctx context.Context, scope string, unresolvedOnly bool, limit int) ([]models.ErrorRecord, error)
	InsertCycle(ctx context.Context, c models.RenaissanceCycle) error
	UpdateCycle(ctx context.Context, c models.RenaissanceCycle) error
	DeleteCycle(ctx context.Context, scope, id string) error
	Cycles(ctx context.Context, scope string, limit int) ([]models.RenaissanceCycle, error)
}

// Stats is the read-only health aggregation.
type Stats struct {
	Status                string `json:"status"`
	ConsecutiveFailures   int    `json:"consecutive_failures"`
	RenaissanceCycleCount int    `json:"renaissance_cycle_count"`
	SystemLocked          bool   `json:"system_locked"`
	TotalCycles           int    `json:"total_cycles"`
	UnresolvedErrors      int    `json:"unresolved_errors"`
	ModulesDegraded       int    `json:"modules_degraded"`
}

// Machine drives the self-heal state machine. Counter increments and
// their threshold checks run under a per-scope lock so a burst of
// errors triggers exactly one automatic cycle.
type Machine struct {
	store            Store
	chain            *auditchain.Chain
	failureThreshold int
	lockAfterCycles  int
	now              func() time.Time
	logf             func(format string, args ...any)

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Machine)

func WithFailureThreshold(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.failureThreshold = n
		}
	}
}

func WithLockAfterCycles(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.lockAfterCycles = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(m *Machine) { m.logf = logf }
}

func New(store Store, chain *auditchain.Chain, opts ...Option) *Machine {
	m := &Machine{
		store:            store,
		chain:            chain,
		failureThreshold: DefaultFailureThreshold,
		lockAfterCycles:  DefaultLockAfterCycles,
		now:              func() time.Time { return time.Now().UTC() },
		logf:             log.Printf,
		locks:            map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) scopeLock(scope string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[scope]; ok {
		return l
	}
	l := &sync.Mutex{}
	m.locks[scope] = l
	return l
}

// ReportError records a module error and advances the state machine.
// Crossing the failure threshold triggers exactly one automatic cycle.
func (m *Machine) ReportError(ctx context.Context, scope, moduleName, message, severity, actorID string) (models.ErrorRecord, error) {
	if strings.TrimSpace(moduleName) == "" || strings.TrimSpace(message) == "" {
		return models.ErrorRecord{}, fmt.Errorf("module name and message required: %w", models.ErrInvalidArgument)
	}
	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	rec := models.ErrorRecord{
		ID:         uuid.New().String(),
		Scope:      scope,
		ModuleName: moduleName,
		Message:    message,
		Severity:   severity,
		ReportedAt: now,
	}
	if err := m.store.InsertError(ctx, rec); err != nil {
		return models.ErrorRecord{}, fmt.Errorf("record error: %w", err)
	}

	module, err := m.store.Module(ctx, scope, moduleName)
	if err != nil {
		return models.ErrorRecord{}, err
	}
	prevModule := module
	module.ModuleName = moduleName
	module.ErrorCount++
	module.LastErrorAt = &now
	module.Status = ModuleDegraded
	if module.ErrorCount >= moduleFailedAfter {
		module.Status = ModuleFailed
	}
	if err := m.store.SaveModule(ctx, scope, module); err != nil {
		return models.ErrorRecord{}, err
	}

	state, err := m.store.State(ctx, scope)
	if err != nil {
		return models.ErrorRecord{}, err
	}
	prevState := state
	state.ConsecutiveFailures++
	if !state.SystemLocked {
		state.Status = StateDegraded
		if state.ConsecutiveFailures >= m.failureThreshold {
			state.Status = StateCritical
		}
	}
	if err := m.store.SaveState(ctx, scope, state); err != nil {
		return models.ErrorRecord{}, err
	}

	details, _ := json.Marshal(map[string]interface{}{
		"module":   moduleName,
		"message":  message,
		"severity": severity,
	})
	if _, err := m.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "health.error",
		EntityType: "error_record",
		EntityID:   rec.ID,
		Details:    details,
	}); err != nil {
		// The health tables and the audit chain move in step: an
		// unaudited error report must not survive.
		if derr := m.store.DeleteError(ctx, scope, rec.ID); derr != nil {
			m.logf("renaissance: removing unaudited error %s failed: %v", rec.ID, derr)
		}
		if serr := m.store.SaveModule(ctx, scope, prevModule); serr != nil {
			m.logf("renaissance: restoring module %s failed: %v", moduleName, serr)
		}
		if serr := m.store.SaveState(ctx, scope, prevState); serr != nil {
			m.logf("renaissance: restoring state for scope %s failed: %v", scope, serr)
		}
		return models.ErrorRecord{}, err
	}

	if !state.SystemLocked && state.ConsecutiveFailures >= m.failureThreshold {
		reason := fmt.Sprintf("auto:threshold=%d", m.failureThreshold)
		if _, err := m.forceRenaissanceLocked(ctx, scope, reason, actorID); err != nil {
			// A failed self-heal must not fail the error report.
			m.logf("renaissance: automatic cycle for scope %s failed: %v", scope, err)
		}
	}
	return rec, nil
}

// ForceRenaissance resets every unhealthy module and records a cycle.
func (m *Machine) ForceRenaissance(ctx context.Context, scope, reason, actorID string) (models.RenaissanceCycle, error) {
	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()
	return m.forceRenaissanceLocked(ctx, scope, reason, actorID)
}

func (m *Machine) forceRenaissanceLocked(ctx context.Context, scope, reason, actorID string) (models.RenaissanceCycle, error) {
	state, err := m.store.State(ctx, scope)
	if err != nil {
		return models.RenaissanceCycle{}, err
	}
	if state.SystemLocked {
		return models.RenaissanceCycle{}, fmt.Errorf("scope %s requires admin validation: %w", scope, models.ErrSystemLocked)
	}

	now := m.now()
	cycle := models.RenaissanceCycle{
		ID:          uuid.New().String(),
		Scope:       scope,
		Reason:      reason,
		Status:      CycleCompleted,
		TriggeredAt: now,
	}

	originalState := state
	state.Status = StateRecovering
	if err := m.store.SaveState(ctx, scope, state); err != nil {
		return models.RenaissanceCycle{}, err
	}

	// Reset failures are caught and downgrade the cycle; the governor
	// must never go down because a managed module misbehaves.
	modules, err := m.store.Modules(ctx, scope)
	if err != nil {
		m.logf("renaissance: listing modules for scope %s failed: %v", scope, err)
		cycle.Status = CycleFailed
		modules = nil
	}
	var resetModules []models.ModuleHealth
	for _, module := range modules {
		if module.Status == ModuleOperational {
			continue
		}
		resetModules = append(resetModules, module)
		cycle.ModulesReset = append(cycle.ModulesReset, module.ModuleName)
		module.Status = ModuleOperational
		module.ErrorCount = 0
		module.LastErrorAt = nil
		if err := m.store.SaveModule(ctx, scope, module); err != nil {
			m.logf("renaissance: resetting module %s failed: %v", module.ModuleName, err)
			cycle.Status = CycleFailed
		}
	}

	unresolved, err := m.store.Errors(ctx, scope, true, 0)
	if err != nil {
		m.logf("renaissance: listing errors for scope %s failed: %v", scope, err)
		cycle.Status = CycleFailed
	}
	var clearedErrors []models.ErrorRecord
	for _, rec := range unresolved {
		prev := rec
		rec.Resolved = true
		rec.ResolvedAt = &now
		if err := m.store.UpdateError(ctx, rec); err != nil {
			m.logf("renaissance: clearing error %s failed: %v", rec.ID, err)
			cycle.Status = CycleFailed
			continue
		}
		clearedErrors = append(clearedErrors, prev)
		cycle.ErrorsCleared++
	}

	state.ConsecutiveFailures = 0
	state.RenaissanceCycleCount++
	if state.RenaissanceCycleCount >= m.lockAfterCycles {
		state.SystemLocked = true
		state.Status = StateLocked
		cycle.Status = CycleBlocked
	} else if cycle.Status == CycleCompleted {
		state.Status = StateHealthy
	} else {
		state.Status = StateDegraded
	}
	completed := m.now()
	cycle.CompletedAt = &completed

	if err := m.store.InsertCycle(ctx, cycle); err != nil {
		return models.RenaissanceCycle{}, fmt.Errorf("record cycle: %w", err)
	}
	if err := m.store.SaveState(ctx, scope, state); err != nil {
		return models.RenaissanceCycle{}, err
	}

	details, _ := json.Marshal(map[string]interface{}{
		"reason":         reason,
		"status":         cycle.Status,
		"modules_reset":  cycle.ModulesReset,
		"errors_cleared": cycle.ErrorsCleared,
		"cycle_count":    state.RenaissanceCycleCount,
	})
	if _, err := m.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "health.renaissance",
		EntityType: "renaissance_cycle",
		EntityID:   cycle.ID,
		Details:    details,
	}); err != nil {
		m.undoCycle(ctx, scope, cycle.ID, originalState, resetModules, clearedErrors)
		return models.RenaissanceCycle{}, err
	}
	if state.SystemLocked {
		lockDetails, _ := json.Marshal(map[string]interface{}{
			"cycle_count": state.RenaissanceCycleCount,
			"cycle_id":    cycle.ID,
		})
		if _, err := m.chain.Append(ctx, scope, auditchain.Input{
			ActorID:    actorID,
			EventType:  "health.lock",
			EntityType: "system_health",
			EntityID:   scope,
			Details:    lockDetails,
			Blocked:    true,
		}); err != nil {
			m.undoCycle(ctx, scope, cycle.ID, originalState, resetModules, clearedErrors)
			return models.RenaissanceCycle{}, err
		}
	}
	return cycle, nil
}

// undoCycle backs out every store write a cycle made after its audit
// append failed. Best effort: a restore failure is logged, the original
// append error still propagates.
func (m *Machine) undoCycle(ctx context.Context, scope, cycleID string, state models.SystemHealthState, modules []models.ModuleHealth, cleared []models.ErrorRecord) {
	if err := m.store.DeleteCycle(ctx, scope, cycleID); err != nil {
		m.logf("renaissance: removing unaudited cycle %s failed: %v", cycleID, err)
	}
	for _, module := range modules {
		if err := m.store.SaveModule(ctx, scope, module); err != nil {
			m.logf("renaissance: restoring module %s failed: %v", module.ModuleName, err)
		}
	}
	for _, rec := range cleared {
		if err := m.store.UpdateError(ctx, rec); err != nil {
			m.logf("renaissance: restoring error %s failed: %v", rec.ID, err)
		}
	}
	if err := m.store.SaveState(ctx, scope, state); err != nil {
		m.logf("renaissance: restoring state for scope %s failed: %v", scope, err)
	}
}

// AdminValidate unlocks a locked scope. Validating an unlocked scope is
// a no-op, not an error. Authorization is enforced by the calling
// layer's role gate; the actor is recorded for accountability.
func (m *Machine) AdminValidate(ctx context.Context, scope, actorID string) error {
	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.store.State(ctx, scope)
	if err != nil {
		return err
	}
	if !state.SystemLocked {
		return nil
	}
	state.SystemLocked = false
	state.Status = StateHealthy
	state.RenaissanceCycleCount = 0
	state.ConsecutiveFailures = 0
	if err := m.store.SaveState(ctx, scope, state); err != nil {
		return err
	}

	cycles, err := m.store.Cycles(ctx, scope, 1)
	if err == nil && len(cycles) > 0 && !cycles[0].AdminValidated {
		latest := cycles[0]
		latest.AdminValidated = true
		if err := m.store.UpdateCycle(ctx, latest); err != nil {
			m.logf("renaissance: marking cycle %s validated failed: %v", latest.ID, err)
		}
	}

	details, _ := json.Marshal(map[string]interface{}{"unlocked": true})
	_, err = m.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "health.validate",
		EntityType: "system_health",
		EntityID:   scope,
		Details:    details,
	})
	return err
}

// ResolveError settles one reported error without a full cycle.
func (m *Machine) ResolveError(ctx context.Context, scope, errorID, actorID string) (models.ErrorRecord, error) {
	lock := m.scopeLock(scope)
	lock.Lock()
	defer lock.Unlock()

	rec, err := m.store.GetError(ctx, scope, errorID)
	if err != nil {
		return models.ErrorRecord{}, err
	}
	if rec.Resolved {
		return rec, nil
	}
	now := m.now()
	rec.Resolved = true
	rec.ResolvedAt = &now
	if err := m.store.UpdateError(ctx, rec); err != nil {
		return models.ErrorRecord{}, err
	}

	module, err := m.store.Module(ctx, scope, rec.ModuleName)
	if err == nil && module.ErrorCount > 0 {
		module.ErrorCount--
		if module.ErrorCount == 0 {
			module.Status = ModuleOperational
			module.LastErrorAt = nil
		} else if module.ErrorCount < moduleFailedAfter {
			module.Status = ModuleDegraded
		}
		if err := m.store.SaveModule(ctx, scope, module); err != nil {
			return models.ErrorRecord{}, err
		}
	}

	details, _ := json.Marshal(map[string]interface{}{"module": rec.ModuleName})
	if _, err := m.chain.Append(ctx, scope, auditchain.Input{
		ActorID:    actorID,
		EventType:  "health.resolve_error",
		EntityType: "error_record",
		EntityID:   rec.ID,
		Details:    details,
	}); err != nil {
		return models.ErrorRecord{}, err
	}
	return rec, nil
}

// RestoreStable is the conflict-level rollback hook: a full cycle under
// a rollback reason.
func (m *Machine) RestoreStable(ctx context.Context, scope, reason, actorID string) error {
	_, err := m.ForceRenaissance(ctx, scope, "rollback:"+reason, actorID)
	return err
}

func (m *Machine) HealthReport(ctx context.Context, scope string) (models.HealthReport, error) {
	state, err := m.store.State(ctx, scope)
	if err != nil {
		return models.HealthReport{}, err
	}
	modules, err := m.store.Modules(ctx, scope)
	if err != nil {
		return models.HealthReport{}, err
	}
	return models.HealthReport{System: state, Modules: modules}, nil
}

func (m *Machine) Stats(ctx context.Context, scope string) (Stats, error) {
	state, err := m.store.State(ctx, scope)
	if err != nil {
		return Stats{}, err
	}
	cycles, err := m.store.Cycles(ctx, scope, 0)
	if err != nil {
		return Stats{}, err
	}
	unresolved, err := m.store.Errors(ctx, scope, true, 0)
	if err != nil {
		return Stats{}, err
	}
	modules, err := m.store.Modules(ctx, scope)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Status:                state.Status,
		ConsecutiveFailures:   state.ConsecutiveFailures,
		RenaissanceCycleCount: state.RenaissanceCycleCount,
		SystemLocked:          state.SystemLocked,
		TotalCycles:           len(cycles),
		UnresolvedErrors:      len(unresolved),
	}
	for _, module := range modules {
		if module.Status != ModuleOperational {
			stats.ModulesDegraded++
		}
	}
	return stats, nil
}

func (m *Machine) Errors(ctx context.Context, scope string, unresolvedOnly bool, limit int) ([]models.ErrorRecord, error) {
	return m.store.Errors(ctx, scope, unresolvedOnly, limit)
}

func (m *Machine) Cycles(ctx context.Context, scope string, limit int) ([]models.RenaissanceCycle, error) {
	return m.store.Cycles(ctx, scope, limit)
}
