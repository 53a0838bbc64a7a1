package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banchess/server/internal/middleware"
)

func TestOriginCheckerAllowsNoOriginHeader(t *testing.T) {
	c := middleware.NewOriginChecker([]string{"https://banchess.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !c.Allowed(r) {
		t.Fatal("expected a request with no Origin header to be allowed")
	}
}

func TestOriginCheckerAllowsListedOrigin(t *testing.T) {
	c := middleware.NewOriginChecker([]string{"https://banchess.example", "http://localhost:3000"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	if !c.Allowed(r) {
		t.Fatal("expected a listed origin to be allowed")
	}
}

func TestOriginCheckerRejectsUnlistedOrigin(t *testing.T) {
	c := middleware.NewOriginChecker([]string{"https://banchess.example"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	if c.Allowed(r) {
		t.Fatal("expected an unlisted origin to be rejected")
	}
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	rec := httptest.NewRecorder()
	middleware.SecurityHeaders(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	for header, want := range map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Fatalf("header %s = %q, want %q", header, got, want)
		}
	}
}

func TestGetClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.RemoteAddr = "192.168.1.1:5555"
	if got := middleware.GetClientIP(r); got != "203.0.113.5" {
		t.Fatalf("GetClientIP = %q, want 203.0.113.5", got)
	}
}

func TestGetClientIPFallsBackToRealIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "203.0.113.9")
	r.RemoteAddr = "192.168.1.1:5555"
	if got := middleware.GetClientIP(r); got != "203.0.113.9" {
		t.Fatalf("GetClientIP = %q, want 203.0.113.9", got)
	}
}

func TestGetClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.168.1.1:5555"
	if got := middleware.GetClientIP(r); got != "192.168.1.1" {
		t.Fatalf("GetClientIP = %q, want 192.168.1.1", got)
	}
}

func TestRateLimiterAllowsWithinWindowThenBlocks(t *testing.T) {
	rl := middleware.NewRateLimiter()
	defer rl.Stop()

	cfg := middleware.RateLimitConfig{MaxRequests: 2, Window: time.Minute}

	allowed, remaining, _ := rl.Allow("key-1", cfg)
	if !allowed || remaining != 1 {
		t.Fatalf("first request: allowed=%v remaining=%d, want true,1", allowed, remaining)
	}

	allowed, remaining, _ = rl.Allow("key-1", cfg)
	if !allowed || remaining != 0 {
		t.Fatalf("second request: allowed=%v remaining=%d, want true,0", allowed, remaining)
	}

	allowed, _, _ = rl.Allow("key-1", cfg)
	if allowed {
		t.Fatal("expected the third request within the window to be blocked")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := middleware.NewRateLimiter()
	defer rl.Stop()

	cfg := middleware.RateLimitConfig{MaxRequests: 1, Window: time.Minute}

	if allowed, _, _ := rl.Allow("a", cfg); !allowed {
		t.Fatal("expected first request for key a to be allowed")
	}
	if allowed, _, _ := rl.Allow("b", cfg); !allowed {
		t.Fatal("expected first request for key b (independent of a) to be allowed")
	}
	if allowed, _, _ := rl.Allow("a", cfg); allowed {
		t.Fatal("expected second request for key a to be blocked")
	}
}

func TestRateLimitHandlerSetsRetryAfterOnBlock(t *testing.T) {
	rl := middleware.NewRateLimiter()
	defer rl.Stop()

	cfg := middleware.RateLimitConfig{MaxRequests: 1, Window: time.Minute}
	handler := rl.RateLimitHandler(cfg, func(r *http.Request) string { return "fixed-key" }, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got status %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header on a blocked request")
	}
}
