package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminAuthDisabled(t *testing.T) {
	cfg := &authConfig{enabled: false}
	rr := httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/mute", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when auth disabled", rr.Code)
	}
}

func TestAdminAuthToken(t *testing.T) {
	cfg := &authConfig{adminToken: "secret", enabled: true}

	rr := httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/mute", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rr = httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid token status = %d, want 200", rr.Code)
	}

	req.Header.Set("X-Admin-Token", "wrong")
	rr = httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", rr.Code)
	}
}

func TestAdminAuthBasic(t *testing.T) {
	cfg := &authConfig{adminUsername: "admin", adminPassword: "pw", enabled: true}

	req := httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
	req.SetBasicAuth("admin", "pw")
	rr := httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("valid basic auth status = %d, want 200", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
	req.SetBasicAuth("admin", "nope")
	rr = httptest.NewRecorder()
	adminAuth(okHandler(), cfg).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", rr.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: true, requestsPerIP: 2, window: time.Minute})

	wrapped := rateLimitMiddleware(okHandler(), limiter)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		wrapped.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
	req.RemoteAddr = "1.2.3.4:5678"
	wrapped.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429", rr.Code)
	}

	// A different IP has its own window.
	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
	req.RemoteAddr = "5.6.7.8:1234"
	wrapped.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("other IP status = %d, want 200", rr.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := newIPRateLimiter(ctx, &rateLimiterConfig{enabled: false, requestsPerIP: 1, window: time.Minute})

	wrapped := rateLimitMiddleware(okHandler(), limiter)
	for i := 0; i < 5; i++ {
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin/mute", nil)
		req.RemoteAddr = "1.2.3.4:5678"
		wrapped.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("disabled limiter request %d status = %d", i+1, rr.Code)
		}
	}
}

func TestCORSPermissivePreflight(t *testing.T) {
	handler := withCORSConfig(okHandler(), &corsConfig{permissive: true})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/mutes", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("permissive mode should allow any origin")
	}
}

func TestCORSRestricted(t *testing.T) {
	handler := withCORSConfig(okHandler(), &corsConfig{allowedOrigins: []string{"https://warden.example"}})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/mutes", nil)
	req.Header.Set("Origin", "https://warden.example")
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://warden.example" {
		t.Fatal("allowed origin should be echoed")
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/mutes", nil)
	req.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("disallowed origin should get no CORS headers")
	}
}
