package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/WillKirkmanM/proxy/internal/config"
)

func TestRateLimiterAllowsWithinCapacity(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Capacity: 3, RefillRate: 1})
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverCapacity(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Capacity: 1, RefillRate: 1})
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/proxy", nil)
		r.RemoteAddr = "10.0.0.2:1234"
		return r
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on throttled response")
	}
}

func TestRateLimiterIsolatesClientsByIP(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Capacity: 1, RefillRate: 1})
	handler := rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	reqA.RemoteAddr = "10.0.0.3:1234"
	recA := httptest.NewRecorder()
	handler.ServeHTTP(recA, reqA)
	if recA.Code != http.StatusOK {
		t.Fatalf("client A status = %d, want 200", recA.Code)
	}

	reqB := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	reqB.RemoteAddr = "10.0.0.4:1234"
	recB := httptest.NewRecorder()
	handler.ServeHTTP(recB, reqB)
	if recB.Code != http.StatusOK {
		t.Fatalf("client B status = %d, want 200", recB.Code)
	}
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Capacity: 1, RefillRate: 1})

	req := httptest.NewRequest(http.MethodGet, "/proxy", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	req.RemoteAddr = "10.0.0.1:1234"

	if got := rl.getClientIP(req); got != "203.0.113.5" {
		t.Fatalf("getClientIP = %q, want 203.0.113.5", got)
	}
}
