package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/article-pipeline-service/internal/domain"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLocker(rdb, "artpipe:lease:"), mr
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	l, err := locker.Acquire(ctx, ArticleKey("a1"), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "article:a1", l.Key())
	assert.True(t, mr.Exists("artpipe:lease:article:a1"))

	_, err = locker.Acquire(ctx, ArticleKey("a1"), time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLeaseConflict)

	require.NoError(t, l.Release(ctx))
	assert.False(t, mr.Exists("artpipe:lease:article:a1"))

	l2, err := locker.Acquire(ctx, ArticleKey("a1"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestRedisLocker_ExpiredLeaseCannotReleaseNewHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "source:s1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "source:s1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("artpipe:lease:source:s1"), "stale release must not drop the new holder")

	assert.ErrorIs(t, stale.Extend(ctx, time.Minute), domain.ErrLeaseConflict)
	require.NoError(t, fresh.Extend(ctx, 5*time.Minute))
	assert.Greater(t, mr.TTL("artpipe:lease:source:s1"), time.Minute)
}

func TestRedisLocker_RejectsNonPositiveTTL(t *testing.T) {
	locker, _ := newRedisLocker(t)
	_, err := locker.Acquire(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	ctx := context.Background()

	l, err := locker.Acquire(ctx, "article:a1", time.Minute)
	require.NoError(t, err)
	assert.True(t, locker.Held("article:a1"))

	_, err = locker.Acquire(ctx, "article:a1", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLeaseConflict)

	require.NoError(t, l.Release(ctx))
	assert.False(t, locker.Held("article:a1"))
}

func TestMemoryLocker_Expiry(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Now()
	locker.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	fresh, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, locker.Held("k"))
	assert.ErrorIs(t, stale.Extend(ctx, time.Minute), domain.ErrLeaseConflict)
	assert.NoError(t, fresh.Extend(ctx, time.Minute))
}

func TestLockers_AtMostOneHolder(t *testing.T) {
	redisLocker, _ := newRedisLocker(t)

	for name, locker := range map[string]Locker{"memory": NewMemoryLocker(), "redis": redisLocker} {
		t.Run(name, func(t *testing.T) {
			var wins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := locker.Acquire(context.Background(), "article:race", time.Minute); err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins.Load())
		})
	}
}

func TestScope(t *testing.T) {
	assert.Equal(t, "article", Scope(ArticleKey("x")))
	assert.Equal(t, "source", Scope(SourceConfigKey("y")))
	assert.Equal(t, "plain", Scope("plain"))
}
