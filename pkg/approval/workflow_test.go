package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"aegis/pkg/auditchain"
	"aegis/pkg/models"
)

type fakeNotifier struct {
	titles []string
	err    error
}

func (f *fakeNotifier) Notify(ctx context.Context, title, content string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

type fakeResolver struct {
	overrides []string
	blocks    []string
	err       error
}

func (f *fakeResolver) Override(ctx context.Context, scope, conflictID, selectedOptionID, justification, actorID string) (models.Conflict, error) {
	f.overrides = append(f.overrides, conflictID)
	return models.Conflict{ID: conflictID, Status: "resolved"}, f.err
}

func (f *fakeResolver) Block(ctx context.Context, scope, conflictID, reason, actorID string) (models.Conflict, error) {
	f.blocks = append(f.blocks, conflictID)
	return models.Conflict{ID: conflictID, Status: "blocked"}, f.err
}

type fixture struct {
	workflow *Workflow
	store    *MemoryStore
	audit    *auditchain.MemoryStore
	chain    *auditchain.Chain
	notifier *fakeNotifier
	resolver *fakeResolver
	now      time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		audit:    auditchain.NewMemoryStore(),
		notifier: &fakeNotifier{},
		resolver: &fakeResolver{},
		now:      time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}
	f.chain = auditchain.New(f.audit)
	base := []Option{
		WithNotifier(f.notifier),
		WithResolver(f.resolver),
		WithClock(func() time.Time { return f.now }),
	}
	f.workflow = New(f.store, f.chain, append(base, opts...)...)
	return f
}

func TestRequestCreatesPendingWithDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if want := f.now.Add(24 * time.Hour); !req.ExpiresAt.Equal(want) {
		t.Fatalf("expires at %s, want %s", req.ExpiresAt, want)
	}
	if len(f.notifier.titles) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.titles))
	}
	entries, _ := f.chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "approval.request"})
	if len(entries) != 1 || entries[0].EntityID != req.ID {
		t.Fatalf("expected request audit entry, got %+v", entries)
	}
}

func TestRequestRejectsEmptySubject(t *testing.T) {
	f := newFixture(t)
	if _, err := f.workflow.Request(context.Background(), "tenant-a", " ", "agent-7", models.TierH1); !errors.Is(err, models.ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestRequestNotifyFailureIsNotFatal(t *testing.T) {
	var logged []string
	f := newFixture(t, WithLogger(func(format string, args ...any) { logged = append(logged, format) }))
	f.notifier.err = errors.New("smtp down")
	req, err := f.workflow.Request(context.Background(), "tenant-a", "conflict-1", "agent-7", models.TierH0)
	if err != nil {
		t.Fatalf("notify failure must not fail the request: %v", err)
	}
	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if len(logged) == 0 {
		t.Fatal("notify failure should be logged")
	}
}

func TestRequestCompensatesOnAuditFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.audit.FailNextInsert(errors.New("store down"))
	if _, err := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0); err == nil {
		t.Fatal("expected error when audit append fails")
	}
	requests, _ := f.store.List(ctx, "tenant-a", "", 0)
	if len(requests) != 0 {
		t.Fatalf("unaudited request must be removed, got %d", len(requests))
	}
}

func TestProcessApproveResolvesSubject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)

	decided, err := f.workflow.Process(ctx, "tenant-a", req.ID, true, "admin-1", "verified by phone")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if decided.Status != StatusApproved || decided.DecidedBy != "admin-1" || decided.DecidedAt == nil {
		t.Fatalf("unexpected decided request: %+v", decided)
	}
	if len(f.resolver.overrides) != 1 || f.resolver.overrides[0] != "conflict-1" {
		t.Fatalf("expected override of conflict-1, got %v", f.resolver.overrides)
	}
	entries, _ := f.chain.List(ctx, "tenant-a", auditchain.Filter{EventType: "approval.approve"})
	if len(entries) != 1 {
		t.Fatalf("expected one approve audit entry, got %d", len(entries))
	}
}

func TestProcessRejectSustainsBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)

	decided, err := f.workflow.Process(ctx, "tenant-a", req.ID, false, "admin-1", "not convinced")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if decided.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", decided.Status)
	}
	if len(f.resolver.blocks) != 1 || f.resolver.blocks[0] != "conflict-1" {
		t.Fatalf("expected block of conflict-1, got %v", f.resolver.blocks)
	}
}

func TestProcessRefusesDoubleDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)
	if _, err := f.workflow.Process(ctx, "tenant-a", req.ID, true, "admin-1", "ok"); err != nil {
		t.Fatalf("first process: %v", err)
	}
	if _, err := f.workflow.Process(ctx, "tenant-a", req.ID, false, "admin-2", "no"); !errors.Is(err, models.ErrAlreadyDecided) {
		t.Fatalf("expected already decided, got %v", err)
	}
}

func TestProcessRechecksExpiryAtDecisionTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, _ := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)

	f.now = f.now.Add(25 * time.Hour)
	if _, err := f.workflow.Process(ctx, "tenant-a", req.ID, true, "admin-1", "too late"); !errors.Is(err, models.ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	stored, _ := f.store.Get(ctx, "tenant-a", req.ID)
	if stored.Status != StatusExpired {
		t.Fatalf("expired request must be settled, got %s", stored.Status)
	}
	if len(f.resolver.overrides)+len(f.resolver.blocks) != 0 {
		t.Fatal("expired request must never reach the resolver")
	}
}

func TestListPendingFiltersExpiryLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale, _ := f.workflow.Request(ctx, "tenant-a", "conflict-1", "agent-7", models.TierH0)
	f.now = f.now.Add(12 * time.Hour)
	fresh, _ := f.workflow.Request(ctx, "tenant-a", "conflict-2", "agent-7", models.TierH1)
	f.now = f.now.Add(13 * time.Hour) // stale is now 25h old, fresh 13h

	pending, err := f.workflow.ListPending(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != fresh.ID {
		t.Fatalf("expected only the fresh request, got %+v", pending)
	}
	stored, _ := f.store.Get(ctx, "tenant-a", stale.ID)
	if stored.Status != StatusExpired {
		t.Fatalf("lazy read must settle the stale request, got %s", stored.Status)
	}
	count, err := f.workflow.CountPending(ctx, "tenant-a")
	if err != nil || count != 1 {
		t.Fatalf("count pending = %d err=%v", count, err)
	}
}

func TestSweepExpiredSettlesDeadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, subject := range []string{"conflict-1", "conflict-2", "conflict-3"} {
		if _, err := f.workflow.Request(ctx, "tenant-a", subject, "agent-7", models.TierH1); err != nil {
			t.Fatalf("request %s: %v", subject, err)
		}
	}
	f.now = f.now.Add(25 * time.Hour)
	swept, err := f.workflow.SweepExpired(ctx, "tenant-a")
	if err != nil || swept != 3 {
		t.Fatalf("swept = %d err=%v", swept, err)
	}
	expired, _ := f.store.List(ctx, "tenant-a", StatusExpired, 0)
	if len(expired) != 3 {
		t.Fatalf("expected 3 expired rows, got %d", len(expired))
	}
}
