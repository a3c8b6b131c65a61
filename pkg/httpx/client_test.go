package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRequestJSONRetriesOn5xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"try again"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"delivered":true}`))
	}))
	defer srv.Close()

	status, body, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{"title":"approval required"}`), nil, 1, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("expected 200 got %d", status)
	}
	if string(body) != `{"delivered":true}` {
		t.Fatalf("unexpected body: %s", string(body))
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts got %d", attempts)
	}
}

func TestRequestJSONNoRetryOn4xx(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	status, _, err := RequestJSON(context.Background(), srv.Client(), http.MethodPost, srv.URL, []byte(`{}`), nil, 3, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", status)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt got %d", attempts)
	}
}

func TestRequestJSONSetsHeadersAndContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("expected auth header, got %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("expected json content type, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, _, err := RequestJSON(context.Background(), nil, http.MethodPost, srv.URL, []byte(`{"x":1}`), map[string]string{"Authorization": "Bearer tok"}, 0, 0)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func TestRequestJSONTransportErrorExhaustsRetries(t *testing.T) {
	client := &http.Client{
		Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("dial failed")
		}),
	}
	_, _, err := RequestJSON(context.Background(), client, http.MethodGet, "http://example.com", nil, nil, 1, 0)
	if err == nil || !strings.Contains(err.Error(), "dial failed") {
		t.Fatalf("expected transport failure, got %v", err)
	}
}
