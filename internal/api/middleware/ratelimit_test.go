package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestRateLimitAllowsWithinBurst(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           3,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer limiter.Stop()

	handler := RateLimit(limiter)(protectedHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/tipline/start", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status = %d, want 204", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/tipline/start", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestRateLimitIsPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(RateLimitConfig{
		Rate:            rate.Limit(1),
		Burst:           1,
		CleanupInterval: time.Minute,
		MaxAge:          time.Minute,
	})
	defer limiter.Stop()

	handler := RateLimit(limiter)(protectedHandler())

	first := httptest.NewRequest(http.MethodPost, "/tipline/start", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first ip: status = %d", rec.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/tipline/start", nil)
	second.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)
	if rec.Code != http.StatusNoContent {
		t.Errorf("second ip throttled by first ip's budget: status = %d", rec.Code)
	}
}
