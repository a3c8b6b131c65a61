package auditchain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"aegis/pkg/models"
)

func testChain(t *testing.T) (*Chain, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store), store
}

func TestAppendLinksChain(t *testing.T) {
	c, _ := testChain(t)
	ctx := context.Background()

	first, err := c.Append(ctx, "tenant-a", Input{
		ActorID:   "admin-1",
		EventType: "security.violation",
		Details:   json.RawMessage(`{"action":"scan"}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.SequenceNo != 1 {
		t.Fatalf("expected sequence 1, got %d", first.SequenceNo)
	}
	if first.PrevHash != GenesisHash() {
		t.Fatalf("genesis entry must link to seed hash, got %s", first.PrevHash)
	}

	second, err := c.Append(ctx, "tenant-a", Input{ActorID: "admin-1", EventType: "security.unlock"})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.SequenceNo != 2 || second.PrevHash != first.Hash {
		t.Fatalf("second entry not linked: %+v", second)
	}

	res, err := c.Verify(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid || res.Entries != 2 {
		t.Fatalf("expected valid 2-entry chain, got %+v", res)
	}
}

func TestAppendValidatesInput(t *testing.T) {
	c, _ := testChain(t)
	if _, err := c.Append(context.Background(), "", Input{EventType: "x"}); err == nil {
		t.Fatal("expected error for missing scope")
	}
	if _, err := c.Append(context.Background(), "tenant-a", Input{}); err == nil {
		t.Fatal("expected error for missing event type")
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	c, store := testChain(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := c.Append(ctx, "tenant-a", Input{
			ActorID:   "system",
			EventType: "health.error",
			Details:   json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)),
		}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if !store.Tamper("tenant-a", 3, func(e *models.AuditEntry) {
		e.Details = json.RawMessage(`{"n":"altered"}`)
	}) {
		t.Fatal("tamper target not found")
	}

	res, err := c.Verify(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("expected invalid chain after tamper")
	}
	if res.BrokenAtSequence == nil || *res.BrokenAtSequence != 3 {
		t.Fatalf("expected break at sequence 3, got %+v", res.BrokenAtSequence)
	}
}

func TestVerifyDetectsDroppedEntry(t *testing.T) {
	c, store := testChain(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Append(ctx, "tenant-a", Input{ActorID: "system", EventType: "health.error"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	store.mu.Lock()
	entries := store.scopes["tenant-a"]
	store.scopes["tenant-a"] = append(entries[:1], entries[2:]...)
	store.mu.Unlock()

	res, err := c.Verify(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Valid {
		t.Fatal("expected gap to invalidate chain")
	}
	if res.BrokenAtSequence == nil || *res.BrokenAtSequence != 3 {
		t.Fatalf("expected break at sequence 3, got %+v", res.BrokenAtSequence)
	}
}

func TestConcurrentAppendsAreGapless(t *testing.T) {
	c, _ := testChain(t)
	ctx := context.Background()
	const n = 64

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Append(ctx, "tenant-a", Input{
				ActorID:   fmt.Sprintf("actor-%d", i),
				EventType: "arbitration.evaluate",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	entries, err := c.List(ctx, "tenant-a", Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	seen := map[int64]bool{}
	for _, e := range entries {
		if seen[e.SequenceNo] {
			t.Fatalf("duplicate sequence %d", e.SequenceNo)
		}
		seen[e.SequenceNo] = true
	}
	for i := int64(1); i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing sequence %d", i)
		}
	}
	res, err := c.Verify(ctx, "tenant-a", 0)
	if err != nil || !res.Valid {
		t.Fatalf("expected valid chain, res=%+v err=%v", res, err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	c, _ := testChain(t)
	ctx := context.Background()
	if _, err := c.Append(ctx, "tenant-a", Input{ActorID: "a", EventType: "x"}); err != nil {
		t.Fatalf("append a: %v", err)
	}
	e, err := c.Append(ctx, "tenant-b", Input{ActorID: "b", EventType: "x"})
	if err != nil {
		t.Fatalf("append b: %v", err)
	}
	if e.SequenceNo != 1 {
		t.Fatalf("tenant-b should start its own sequence, got %d", e.SequenceNo)
	}
}

func TestPublisherSeesAppends(t *testing.T) {
	store := NewMemoryStore()
	var got []models.AuditEntry
	c := New(store, WithPublisher(func(e models.AuditEntry) { got = append(got, e) }), WithClock(func() time.Time {
		return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	}))
	if _, err := c.Append(context.Background(), "tenant-a", Input{ActorID: "a", EventType: "security.lockdown"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(got) != 1 || got[0].EventType != "security.lockdown" {
		t.Fatalf("publisher missed entry: %+v", got)
	}
}

// truncatingStore returns entries with timestamps truncated to
// microseconds, the precision a TIMESTAMPTZ column actually keeps.
type truncatingStore struct {
	*MemoryStore
}

func (s truncatingStore) List(ctx context.Context, scope string, f Filter) ([]models.AuditEntry, error) {
	entries, err := s.MemoryStore.List(ctx, scope, f)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.Truncate(time.Microsecond)
	}
	return entries, nil
}

func TestVerifySurvivesTimestampRoundTrip(t *testing.T) {
	store := truncatingStore{NewMemoryStore()}
	c := New(store, WithClock(func() time.Time {
		// Sub-microsecond digits must not leak into the hash.
		return time.Date(2026, 8, 30, 12, 0, 0, 123456789, time.UTC)
	}))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e, err := c.Append(ctx, "tenant-a", Input{ActorID: "system", EventType: "health.error"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if e.Timestamp.Nanosecond()%1000 != 0 {
			t.Fatalf("entry timestamp must be microsecond precision, got %v", e.Timestamp)
		}
	}
	res, err := c.Verify(ctx, "tenant-a", 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("chain must verify against stored timestamps, got %+v", res)
	}
}

func TestListFilters(t *testing.T) {
	c, _ := testChain(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		et := "health.error"
		if i%2 == 1 {
			et = "security.violation"
		}
		if _, err := c.Append(ctx, "tenant-a", Input{ActorID: "a", EventType: et, EntityType: "module", EntityID: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := c.List(ctx, "tenant-a", Filter{EventType: "security.violation"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 filtered entries, got %d", len(entries))
	}
	entries, err = c.List(ctx, "tenant-a", Filter{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected limit 1, got %d err=%v", len(entries), err)
	}
}
