package httpclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter for controlling request rates
// to external hosts. It is safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter.
// ratePerSecond is the sustained rate of requests per second.
// burst is the maximum burst size.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is canceled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow returns true if a request is allowed without waiting.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// HostLimiters lazily creates one RateLimiter per key so a slow news site
// does not consume the budget of the others.
type HostLimiters struct {
	mu       sync.Mutex
	rps      float64
	burst    int
	limiters map[string]*RateLimiter
}

// NewHostLimiters creates an empty set with the given per-key limits.
func NewHostLimiters(ratePerSecond float64, burst int) *HostLimiters {
	return &HostLimiters{rps: ratePerSecond, burst: burst, limiters: make(map[string]*RateLimiter)}
}

// For returns the limiter for key, creating it on first use.
func (h *HostLimiters) For(key string) *RateLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = NewRateLimiter(h.rps, h.burst)
		h.limiters[key] = l
	}
	return l
}

// Len returns the number of keys seen so far.
func (h *HostLimiters) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}
