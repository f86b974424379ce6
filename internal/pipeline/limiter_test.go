package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

func TestBackpressure_CapsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	slow := InvokerFunc(func(context.Context, StageRequest) (*StageResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &StageResult{Artifact: "ok"}, nil
	})

	inv := NewBackpressure(2, 0, 1).Wrap(slow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inv.Invoke(context.Background(), StageRequest{Stage: domain.StageOutline})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int32(0), inFlight.Load())
}

func TestBackpressure_WaitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	held := InvokerFunc(func(context.Context, StageRequest) (*StageResult, error) {
		<-block
		return &StageResult{}, nil
	})
	inv := NewBackpressure(1, 0, 1).Wrap(held)

	go func() { _, _ = inv.Invoke(context.Background(), StageRequest{}) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := inv.Invoke(ctx, StageRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBackpressure_RateLimit(t *testing.T) {
	noop := InvokerFunc(func(context.Context, StageRequest) (*StageResult, error) { return &StageResult{}, nil })
	inv := NewBackpressure(10, 1, 1).Wrap(noop)

	_, err := inv.Invoke(context.Background(), StageRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = inv.Invoke(ctx, StageRequest{})
	assert.Error(t, err, "second call within the same second exceeds 1 rps")
}

func TestInvokerRegistry(t *testing.T) {
	r := NewInvokerRegistry()
	_, ok := r.Get("acme")
	assert.False(t, ok)

	var calls atomic.Int32
	base := InvokerFunc(func(context.Context, StageRequest) (*StageResult, error) {
		calls.Add(1)
		return &StageResult{}, nil
	})
	r.Register("zeta", base)
	r.Register("acme", base)
	assert.Equal(t, []string{"acme", "zeta"}, r.Providers())

	var wrapped atomic.Int32
	r.Wrap(func(next Invoker) Invoker {
		return InvokerFunc(func(ctx context.Context, req StageRequest) (*StageResult, error) {
			wrapped.Add(1)
			return next.Invoke(ctx, req)
		})
	})

	inv, ok := r.Get("acme")
	require.True(t, ok)
	_, err := inv.Invoke(context.Background(), StageRequest{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), wrapped.Load())
}
