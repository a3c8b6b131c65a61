package renaissance

import (
	"context"
	"errors"
	"testing"
	"time"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *MemoryStore, *auditchain.Chain) {
	t.Helper()
	store := NewMemoryStore()
	chain := auditchain.New(auditchain.NewMemoryStore())
	base := []Option{WithClock(func() time.Time {
		return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	})}
	return New(store, chain, append(base, opts...)...), store, chain
}

func TestReportErrorTracksModuleAndState(t *testing.T) {
	m, store, chain := newTestMachine(t)
	ctx := context.Background()

	rec, err := m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	if err != nil {
		t.Fatalf("report error: %v", err)
	}
	if rec.Resolved {
		t.Fatal("new record must be unresolved")
	}
	module, _ := store.Module(ctx, "tenant-a", "tool_gateway")
	if module.ErrorCount != 1 || module.Status != ModuleDegraded || module.LastErrorAt == nil {
		t.Fatalf("unexpected module health: %+v", module)
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.Status != StateDegraded || state.ConsecutiveFailures != 1 {
		t.Fatalf("unexpected system state: %+v", state)
	}
	entries, _ := chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "health.error"})
	if len(entries) != 1 || entries[0].EntityID != rec.ID {
		t.Fatalf("expected one error audit entry, got %+v", entries)
	}
}

func TestReportErrorRejectsBlankInput(t *testing.T) {
	m, _, _ := newTestMachine(t)
	if _, err := m.ReportError(context.Background(), "tenant-a", " ", "timeout", "high", "agent-7"); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestAutoRenaissanceFiresExactlyOnce(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7"); err != nil {
			t.Fatalf("report %d: %v", i+1, err)
		}
	}
	cycles, _ := store.Cycles(ctx, "tenant-a", 0)
	if len(cycles) != 1 {
		t.Fatalf("expected exactly one automatic cycle, got %d", len(cycles))
	}
	if cycles[0].Status != CycleCompleted || cycles[0].Reason != "auto:threshold=3" {
		t.Fatalf("unexpected cycle: %+v", cycles[0])
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.ConsecutiveFailures != 2 || state.RenaissanceCycleCount != 1 {
		t.Fatalf("counter must reset at the cycle, got %+v", state)
	}
}

func TestForceRenaissanceResetsUnhealthyModules(t *testing.T) {
	m, store, _ := newTestMachine(t, WithFailureThreshold(100))
	ctx := context.Background()
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	m.ReportError(ctx, "tenant-a", "memory_store", "oom", "critical", "agent-7")

	cycle, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
	if err != nil {
		t.Fatalf("force renaissance: %v", err)
	}
	if cycle.Status != CycleCompleted || len(cycle.ModulesReset) != 2 || cycle.ErrorsCleared != 2 {
		t.Fatalf("unexpected cycle: %+v", cycle)
	}
	for _, name := range []string{"tool_gateway", "memory_store"} {
		module, _ := store.Module(ctx, "tenant-a", name)
		if module.Status != ModuleOperational || module.ErrorCount != 0 {
			t.Fatalf("module %s not reset: %+v", name, module)
		}
	}
	unresolved, _ := store.Errors(ctx, "tenant-a", true, 0)
	if len(unresolved) != 0 {
		t.Fatalf("expected no unresolved errors, got %d", len(unresolved))
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.Status != StateHealthy || state.ConsecutiveFailures != 0 {
		t.Fatalf("unexpected state after cycle: %+v", state)
	}
}

func TestLockAfterThreeUnvalidatedCycles(t *testing.T) {
	m, store, chain := newTestMachine(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		cycle, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
		if err != nil || cycle.Status != CycleCompleted {
			t.Fatalf("cycle %d: %+v err=%v", i+1, cycle, err)
		}
	}
	third, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if third.Status != CycleBlocked {
		t.Fatalf("third unvalidated cycle must be blocked, got %s", third.Status)
	}
	state, _ := store.State(ctx, "tenant-a")
	if !state.SystemLocked || state.Status != StateLocked || state.RenaissanceCycleCount != 3 {
		t.Fatalf("expected locked state, got %+v", state)
	}
	lockEntries, _ := chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "health.lock"})
	if len(lockEntries) != 1 || !lockEntries[0].Blocked {
		t.Fatalf("expected one lock audit entry, got %+v", lockEntries)
	}

	if _, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1"); !errors.Is(err, models.ErrSystemLocked) {
		t.Fatalf("locked scope must refuse further cycles, got %v", err)
	}
	state, _ = store.State(ctx, "tenant-a")
	if state.RenaissanceCycleCount != 3 {
		t.Fatalf("refused cycle must not advance the count, got %d", state.RenaissanceCycleCount)
	}

	if err := m.AdminValidate(ctx, "tenant-a", "admin-1"); err != nil {
		t.Fatalf("admin validate: %v", err)
	}
	state, _ = store.State(ctx, "tenant-a")
	if state.SystemLocked || state.Status != StateHealthy || state.RenaissanceCycleCount != 0 || state.ConsecutiveFailures != 0 {
		t.Fatalf("one validation must fully unlock, got %+v", state)
	}
	cycles, _ := store.Cycles(ctx, "tenant-a", 1)
	if len(cycles) != 1 || !cycles[0].AdminValidated {
		t.Fatalf("latest cycle must be marked validated, got %+v", cycles)
	}
	validateEntries, _ := chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "health.validate"})
	if len(validateEntries) != 1 {
		t.Fatalf("expected one validate audit entry, got %d", len(validateEntries))
	}
}

func TestAdminValidateIsNoopWhenUnlocked(t *testing.T) {
	m, _, chain := newTestMachine(t)
	ctx := context.Background()
	if err := m.AdminValidate(ctx, "tenant-a", "admin-1"); err != nil {
		t.Fatalf("validate on unlocked scope must be a no-op, got %v", err)
	}
	entries, _ := chain.List(ctx, "tenant-a", auditchain.Filter{})
	if len(entries) != 0 {
		t.Fatalf("no-op validation must not audit, got %d entries", len(entries))
	}
}

func TestResolveErrorDecrementsModule(t *testing.T) {
	m, store, chain := newTestMachine(t, WithFailureThreshold(100))
	ctx := context.Background()
	rec, _ := m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")

	resolved, err := m.ResolveError(ctx, "tenant-a", rec.ID, "admin-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Resolved || resolved.ResolvedAt == nil {
		t.Fatalf("record not settled: %+v", resolved)
	}
	module, _ := store.Module(ctx, "tenant-a", "tool_gateway")
	if module.ErrorCount != 1 || module.Status != ModuleDegraded {
		t.Fatalf("unexpected module after resolve: %+v", module)
	}

	again, err := m.ResolveError(ctx, "tenant-a", rec.ID, "admin-1")
	if err != nil || !again.Resolved {
		t.Fatalf("second resolve must return the settled record: %+v err=%v", again, err)
	}
	module, _ = store.Module(ctx, "tenant-a", "tool_gateway")
	if module.ErrorCount != 1 {
		t.Fatalf("second resolve must not decrement again, got %d", module.ErrorCount)
	}
	entries, _ := chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "health.resolve_error"})
	if len(entries) != 1 {
		t.Fatalf("expected one resolve audit entry, got %d", len(entries))
	}

	if _, err := m.ResolveError(ctx, "tenant-a", "missing", "admin-1"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func newFailableMachine(t *testing.T, opts ...Option) (*Machine, *MemoryStore, *auditchain.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	chainStore := auditchain.NewMemoryStore()
	base := []Option{WithClock(func() time.Time {
		return time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	})}
	return New(store, auditchain.New(chainStore), append(base, opts...)...), store, chainStore
}

func TestReportErrorRollsBackOnAuditFailure(t *testing.T) {
	m, store, chainStore := newFailableMachine(t)
	ctx := context.Background()

	chainStore.FailNextInsert(errors.New("chain store down"))
	if _, err := m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7"); err == nil {
		t.Fatal("expected error when audit append fails")
	}
	records, _ := store.Errors(ctx, "tenant-a", false, 0)
	if len(records) != 0 {
		t.Fatalf("unaudited error report must be removed, got %d", len(records))
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.ConsecutiveFailures != 0 || state.Status != StateHealthy {
		t.Fatalf("state must return to its pre-report values, got %+v", state)
	}
	module, _ := store.Module(ctx, "tenant-a", "tool_gateway")
	if module.ErrorCount != 0 || module.Status != ModuleOperational {
		t.Fatalf("module must return to its pre-report values, got %+v", module)
	}

	if _, err := m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7"); err != nil {
		t.Fatalf("report after recovery: %v", err)
	}
	state, _ = store.State(ctx, "tenant-a")
	if state.ConsecutiveFailures != 1 {
		t.Fatalf("recovered report must count once, got %+v", state)
	}
}

func TestForceRenaissanceRollsBackOnAuditFailure(t *testing.T) {
	m, store, chainStore := newFailableMachine(t, WithFailureThreshold(100))
	ctx := context.Background()
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")

	chainStore.FailNextInsert(errors.New("chain store down"))
	if _, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1"); err == nil {
		t.Fatal("expected error when cycle audit append fails")
	}
	cycles, _ := store.Cycles(ctx, "tenant-a", 0)
	if len(cycles) != 0 {
		t.Fatalf("unaudited cycle must be removed, got %d", len(cycles))
	}
	unresolved, _ := store.Errors(ctx, "tenant-a", true, 0)
	if len(unresolved) != 2 {
		t.Fatalf("cleared errors must be reopened, got %d unresolved", len(unresolved))
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.RenaissanceCycleCount != 0 || state.ConsecutiveFailures != 2 || state.Status != StateDegraded {
		t.Fatalf("state must return to its pre-cycle values, got %+v", state)
	}
	module, _ := store.Module(ctx, "tenant-a", "tool_gateway")
	if module.ErrorCount != 2 || module.Status != ModuleDegraded {
		t.Fatalf("module must return to its pre-cycle values, got %+v", module)
	}

	cycle, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if cycle.ErrorsCleared != 2 {
		t.Fatalf("retried cycle must clear both errors, got %+v", cycle)
	}
}

func TestModuleResetFailureDowngradesCycle(t *testing.T) {
	m, store, _ := newTestMachine(t, WithFailureThreshold(100))
	ctx := context.Background()
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	store.FailModuleSaves("tool_gateway", errors.New("store down"))

	cycle, err := m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
	if err != nil {
		t.Fatalf("cycle failure must be caught, not propagated: %v", err)
	}
	if cycle.Status != CycleFailed {
		t.Fatalf("expected failed cycle, got %s", cycle.Status)
	}
	state, _ := store.State(ctx, "tenant-a")
	if state.Status != StateDegraded {
		t.Fatalf("failed cycle must leave the scope degraded, got %s", state.Status)
	}
}

func TestRestoreStableRunsCycle(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	if err := m.RestoreStable(ctx, "tenant-a", "conflict:c-1", "admin-1"); err != nil {
		t.Fatalf("restore stable: %v", err)
	}
	cycles, _ := store.Cycles(ctx, "tenant-a", 0)
	if len(cycles) != 1 || cycles[0].Reason != "rollback:conflict:c-1" {
		t.Fatalf("unexpected cycles: %+v", cycles)
	}
}

func TestHealthReportAndStats(t *testing.T) {
	m, _, _ := newTestMachine(t, WithFailureThreshold(100))
	ctx := context.Background()
	m.ReportError(ctx, "tenant-a", "tool_gateway", "timeout", "high", "agent-7")
	m.ForceRenaissance(ctx, "tenant-a", "manual", "admin-1")
	m.ReportError(ctx, "tenant-a", "memory_store", "oom", "critical", "agent-7")

	report, err := m.HealthReport(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.System.Status != StateDegraded || len(report.Modules) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	stats, err := m.Stats(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalCycles != 1 || stats.UnresolvedErrors != 1 || stats.ModulesDegraded != 1 || stats.RenaissanceCycleCount != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
