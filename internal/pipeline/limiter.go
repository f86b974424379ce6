package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Backpressure bounds provider load across all articles: a weighted
// semaphore caps in-flight calls and a token bucket caps the call rate.
type Backpressure struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// NewBackpressure creates a Backpressure. A non-positive rps disables rate limiting.
func NewBackpressure(maxConcurrent int64, rps float64, burst int) *Backpressure {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Backpressure{
		sem:     semaphore.NewWeighted(maxConcurrent),
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Wrap returns next guarded by b. Invokers wrapped by the same Backpressure
// share its limits.
func (b *Backpressure) Wrap(next Invoker) Invoker {
	return &LimitedInvoker{next: next, bp: b}
}

// LimitedInvoker is an Invoker guarded by a Backpressure.
type LimitedInvoker struct {
	next Invoker
	bp   *Backpressure
}

// Invoke waits for a rate token and a concurrency slot, then calls the
// wrapped invoker. Waiting respects ctx, so a stage timeout covers queueing.
func (l *LimitedInvoker) Invoke(ctx context.Context, req StageRequest) (*StageResult, error) {
	if err := l.bp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for provider rate limit: %w", err)
	}
	if err := l.bp.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for provider slot: %w", err)
	}
	defer l.bp.sem.Release(1)

	return l.next.Invoke(ctx, req)
}
