package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// idTransport rewrites requests aimed at id.twitch.tv to a local test server.
type idTransport struct {
	host string
}

func (t *idTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.host, "http://")
	return http.DefaultTransport.RoundTrip(req)
}

func newTokenSource(serverURL string) *TokenSource {
	return &TokenSource{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		HTTPClient: &http.Client{
			Transport: &idTransport{host: serverURL},
		},
	}
}

func TestTokenSourceGetCached(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		}); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer server.Close()

	ts := newTokenSource(server.URL)
	ctx := context.Background()

	tok, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "app-token" {
		t.Errorf("Get() = %s, want app-token", tok)
	}

	if _, err := ts.Get(ctx); err != nil {
		t.Fatalf("Get() second call error = %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("expected 1 token request, got %d", got)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"access_token": "fresh-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		}); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer server.Close()

	ts := newTokenSource(server.URL)
	// Seed a cached token inside the 60 second freshness buffer.
	ts.token = "stale-token"
	ts.expiresAt = time.Now().Add(30 * time.Second)

	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "fresh-token" {
		t.Errorf("Get() = %s, want fresh-token", tok)
	}
}

func TestTokenSourceMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	_, err := ts.Get(context.Background())
	if err == nil {
		t.Fatal("Get() without credentials should return error")
	}
	if !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want missing credentials error", err)
	}
}

func TestTokenSourceServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	if _, err := newTokenSource(server.URL).Get(context.Background()); err == nil {
		t.Error("Get() with server error should return error")
	}
}

func TestTokenSourceEmptyToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"access_token": "",
			"expires_in":   3600,
			"token_type":   "bearer",
		}); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer server.Close()

	_, err := newTokenSource(server.URL).Get(context.Background())
	if err == nil {
		t.Fatal("Get() with empty access_token should return error")
	}
	if !strings.Contains(err.Error(), "empty access_token") {
		t.Errorf("Get() error = %v, want error about empty access_token", err)
	}
}

func TestTokenSourceConcurrentAccess(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"access_token": "app-token",
			"expires_in":   3600,
			"token_type":   "bearer",
		}); err != nil {
			t.Errorf("encode: %v", err)
		}
	}))
	defer server.Close()

	ts := newTokenSource(server.URL)
	ctx := context.Background()

	results := make(chan string, 5)
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			tok, err := ts.Get(ctx)
			if err != nil {
				errs <- err
				return
			}
			results <- tok
		}()
	}

	for i := 0; i < 5; i++ {
		select {
		case err := <-errs:
			t.Errorf("Get() error = %v", err)
		case tok := <-results:
			if tok != "app-token" {
				t.Errorf("Get() = %s, want app-token", tok)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for concurrent Gets")
		}
	}

	// Concurrent callers may race past the read lock but the write lock
	// recheck keeps redundant requests to a minimum.
	if got := atomic.LoadInt64(&calls); got > 2 {
		t.Errorf("expected at most 2 token requests under contention, got %d", got)
	}
}
