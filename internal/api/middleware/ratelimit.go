package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	// Rate is the number of requests allowed per second per IP.
	Rate rate.Limit
	// Burst is the maximum burst size per IP.
	Burst int
	// CleanupInterval is how often idle budgets are swept.
	CleanupInterval time.Duration
	// MaxAge is how long an idle budget is kept before eviction.
	MaxAge time.Duration
}

// WebhookRateLimitConfig allows a healthy margin over what the phone
// platform actually sends. A single live call produces at most a few
// webhooks per second; 20/second with a burst of 40 absorbs a whole
// conference's worth of near-simultaneous callbacks without letting a
// scanner hammer the surface.
func WebhookRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(20),
		Burst:           40,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// LoginRateLimitConfig returns stricter limits for the operator login
// endpoint to slow password guessing.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Rate:            rate.Limit(5),
		Burst:           10,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// callerBudget is one IP's limiter and when it last sent anything.
type callerBudget struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter provides per-IP rate limiting for HTTP endpoints.
type IPRateLimiter struct {
	mu      sync.Mutex
	budgets map[string]*callerBudget
	cfg     RateLimitConfig
	stopCh  chan struct{}
}

// NewIPRateLimiter creates a per-IP rate limiter and starts background cleanup.
func NewIPRateLimiter(cfg RateLimitConfig) *IPRateLimiter {
	rl := &IPRateLimiter{
		budgets: make(map[string]*callerBudget),
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Allow checks whether a request from the given IP is allowed.
func (rl *IPRateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	budget, ok := rl.budgets[ip]
	if !ok {
		budget = &callerBudget{
			limiter: rate.NewLimiter(rl.cfg.Rate, rl.cfg.Burst),
		}
		rl.budgets[ip] = budget
	}
	budget.lastSeen = time.Now()
	rl.mu.Unlock()

	return budget.limiter.Allow()
}

// Stop terminates the background cleanup goroutine.
func (rl *IPRateLimiter) Stop() {
	close(rl.stopCh)
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.sweep()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *IPRateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.cfg.MaxAge)
	swept := 0
	for ip, budget := range rl.budgets {
		if budget.lastSeen.Before(cutoff) {
			delete(rl.budgets, ip)
			swept++
		}
	}
	if swept > 0 {
		slog.Debug("idle rate limit budgets swept", "swept", swept, "remaining", len(rl.budgets))
	}
}

// RateLimit returns HTTP middleware that rate limits requests by client
// IP. A limited request gets 429 with a Retry-After header; the phone
// platform treats that as a failed webhook and retries on its own
// schedule.
func RateLimit(limiter *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)

			if !limiter.Allow(ip) {
				slog.Warn("rate limit exceeded",
					"ip", ip,
					"method", r.Method,
					"path", r.URL.Path,
				)
				w.Header().Set("Retry-After", "1")
				writeMiddlewareError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractIP returns the client IP from the request. The chi RealIP
// middleware should run before this when the server sits behind a
// reverse proxy.
func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
