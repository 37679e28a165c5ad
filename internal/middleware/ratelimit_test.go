package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitConfig_Validate(t *testing.T) {
	valid := RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config: %v", err)
	}

	if err := (RateLimitConfig{RequestsPerWindow: 0, WindowDuration: time.Minute}).Validate(); err == nil {
		t.Error("expected error for zero RequestsPerWindow")
	}
	if err := (RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 0}).Validate(); err == nil {
		t.Error("expected error for zero WindowDuration")
	}
}

func TestInMemoryRateLimitStore_Allow(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	config := RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}

	for i := 0; i < 3; i++ {
		allowed, _ := store.Allow(ctx, "device:1", config)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	allowed, retryAfter := store.Allow(ctx, "device:1", config)
	if allowed {
		t.Error("fourth request should be blocked")
	}
	if retryAfter <= 0 || retryAfter > 60 {
		t.Errorf("retryAfter = %d, want within the window", retryAfter)
	}

	// A different key has its own bucket.
	if allowed, _ := store.Allow(ctx, "device:2", config); !allowed {
		t.Error("different key should be allowed")
	}
}

func TestInMemoryRateLimitStore_Cleanup(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Millisecond}

	store.Allow(ctx, "device:1", config)
	time.Sleep(5 * time.Millisecond)
	store.Cleanup()

	store.mu.RLock()
	n := len(store.buckets)
	store.mu.RUnlock()
	if n != 0 {
		t.Errorf("buckets after cleanup = %d, want 0", n)
	}
}

func TestRateLimiter_Returns429(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	config := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}

	handler := RateLimiter(store, config, IPKeyFunc())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/pins/discover", nil)
	req.RemoteAddr = "192.0.2.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("missing X-RateLimit-Reset header")
	}
}

func TestIPKeyFunc(t *testing.T) {
	keyFunc := IPKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := keyFunc(req); got != "192.0.2.1" {
		t.Errorf("RemoteAddr key = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 192.0.2.1")
	if got := keyFunc(req); got != "203.0.113.9" {
		t.Errorf("XFF key = %q", got)
	}
}

func TestDeviceKeyFunc(t *testing.T) {
	keyFunc := DeviceKeyFunc()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := keyFunc(req); got != "ip:192.0.2.1" {
		t.Errorf("unresolved key = %q, want ip fallback", got)
	}

	req = req.WithContext(SetDeviceID(req.Context(), 42))
	if got := keyFunc(req); got != "device:42" {
		t.Errorf("resolved key = %q, want device:42", got)
	}
}
