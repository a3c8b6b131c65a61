package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"aegis/pkg/auth"
)

func TestWebhookNotifySignsPayload(t *testing.T) {
	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(auth.SignatureHeader)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, "hook-secret")
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := n.Notify(context.Background(), "approval required (H0)", "subject conflict-1"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if err := auth.VerifyPayload("hook-secret", gotBody, gotSig); err != nil {
		t.Fatalf("signature did not verify: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["title"] != "approval required (H0)" || payload["content"] != "subject conflict-1" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
	if payload["sent_at"] == "" {
		t.Fatal("expected sent_at timestamp")
	}
}

func TestWebhookNotifyOmitsSignatureWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(auth.SignatureHeader) != "" {
			t.Error("did not expect signature header without secret")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, "")
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := n.Notify(context.Background(), "t", "c"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}

func TestWebhookNotifyRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, "s")
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	n.RetryDelay = 0
	if err := n.Notify(context.Background(), "t", "c"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestWebhookNotifyClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n, err := NewWebhook(srv.URL, "s")
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := n.Notify(context.Background(), "t", "c"); err == nil {
		t.Fatal("expected error on 403 response")
	}
}

func TestNewWebhookRejectsInvalidURL(t *testing.T) {
	if _, err := NewWebhook("://broken", "s"); err == nil {
		t.Fatal("expected invalid url error")
	}
	if _, err := NewWebhook("", "s"); err == nil {
		t.Fatal("expected empty url error")
	}
}
