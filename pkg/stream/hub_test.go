package stream

import (
	"encoding/json"
	"testing"
	"time"

	"aegis/pkg/models"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	evt := NewEvent("audit.entry", "tenant-a", map[string]string{"id": "123"})
	if evt.Type != "audit.entry" {
		t.Fatalf("expected type audit.entry, got %q", evt.Type)
	}
	if evt.Scope != "tenant-a" {
		t.Fatalf("expected scope tenant-a, got %q", evt.Scope)
	}
	if evt.At == "" {
		t.Fatal("expected timestamp")
	}
	var payload map[string]string
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["id"] != "123" {
		t.Fatalf("expected id=123, got %q", payload["id"])
	}
}

func TestSubscribePublishAndUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("", 1)
	h.Publish(NewEvent("ready", "tenant-a", nil))

	select {
	case evt := <-ch:
		if evt.Type != "ready" {
			t.Fatalf("expected ready event, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}

	h.Unsubscribe(ch)
	// Must not panic on repeated calls.
	h.Unsubscribe(ch)
}

func TestScopeFiltering(t *testing.T) {
	t.Parallel()

	h := NewHub()
	all := h.Subscribe("", 4)
	tenantA := h.Subscribe("tenant-a", 4)
	tenantB := h.Subscribe("tenant-b", 4)
	defer h.Unsubscribe(all)
	defer h.Unsubscribe(tenantA)
	defer h.Unsubscribe(tenantB)

	h.Publish(NewEvent("audit.entry", "tenant-a", nil))

	select {
	case evt := <-tenantA:
		if evt.Scope != "tenant-a" {
			t.Fatalf("unexpected scope %q", evt.Scope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scoped subscriber missed matching event")
	}
	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("wildcard subscriber missed event")
	}
	select {
	case evt := <-tenantB:
		t.Fatalf("tenant-b must not see tenant-a events, got %+v", evt)
	default:
	}
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("", 1)
	defer h.Unsubscribe(ch)

	first := NewEvent("first", "", nil)
	second := NewEvent("second", "", nil)
	h.Publish(first)
	h.Publish(second)

	select {
	case evt := <-ch:
		if evt.Type != "first" {
			t.Fatalf("expected first event to remain in buffer, got %q", evt.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for first event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("did not expect second buffered event, got %q", evt.Type)
	default:
	}
}

func TestSubscribeUsesDefaultBuffer(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("", 0)
	defer h.Unsubscribe(ch)
	if cap(ch) != 32 {
		t.Fatalf("expected default buffer 32, got %d", cap(ch))
	}
}

func TestAuditPublisher(t *testing.T) {
	t.Parallel()

	h := NewHub()
	ch := h.Subscribe("tenant-a", 1)
	defer h.Unsubscribe(ch)

	publish := AuditPublisher(h)
	publish(models.AuditEntry{ID: "e-1", Scope: "tenant-a", EventType: "arbitration.block", SequenceNo: 4})

	select {
	case evt := <-ch:
		if evt.Type != "audit.entry" || evt.Scope != "tenant-a" {
			t.Fatalf("unexpected event: %+v", evt)
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(evt.Data, &entry); err != nil {
			t.Fatalf("decode entry: %v", err)
		}
		if entry.ID != "e-1" || entry.SequenceNo != 4 {
			t.Fatalf("unexpected entry: %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for audit event")
	}
}
