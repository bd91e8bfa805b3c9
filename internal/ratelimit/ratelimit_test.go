package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisStore(rdb, "test:"), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStore_SlidingWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
			window := time.Minute

			for i := 0; i < 3; i++ {
				d, err := store.Hit(ctx, "login:1.2.3.4", 3, window, base.Add(time.Duration(i)*time.Second))
				require.NoError(t, err)
				require.True(t, d.Allowed, "hit %d", i)
				require.Equal(t, 2-i, d.Remaining)
			}

			d, err := store.Hit(ctx, "login:1.2.3.4", 3, window, base.Add(10*time.Second))
			require.NoError(t, err)
			require.False(t, d.Allowed)
			require.Equal(t, 0, d.Remaining)
			require.Equal(t, 50*time.Second, d.RetryAfter)

			// other keys have their own window
			d, err = store.Hit(ctx, "login:5.6.7.8", 3, window, base.Add(10*time.Second))
			require.NoError(t, err)
			require.True(t, d.Allowed)

			// the first hit slides out after a minute, freeing exactly one slot
			d, err = store.Hit(ctx, "login:1.2.3.4", 3, window, base.Add(window+500*time.Millisecond))
			require.NoError(t, err)
			require.True(t, d.Allowed)

			d, err = store.Hit(ctx, "login:1.2.3.4", 3, window, base.Add(window+600*time.Millisecond))
			require.NoError(t, err)
			require.False(t, d.Allowed)
		})
	}
}

func TestStore_RejectedHitsDoNotExtendWindow(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

			_, err := store.Hit(ctx, "k", 1, time.Minute, base)
			require.NoError(t, err)

			for i := 1; i <= 5; i++ {
				d, err := store.Hit(ctx, "k", 1, time.Minute, base.Add(time.Duration(i)*10*time.Second))
				require.NoError(t, err)
				require.False(t, d.Allowed)
			}

			d, err := store.Hit(ctx, "k", 1, time.Minute, base.Add(61*time.Second))
			require.NoError(t, err)
			require.True(t, d.Allowed)
		})
	}
}

func TestRedisStore_SetsExpiry(t *testing.T) {
	store, mr := newRedisStore(t)

	_, err := store.Hit(context.Background(), "register:9.9.9.9", 5, time.Minute, time.Now())
	require.NoError(t, err)

	require.True(t, mr.Exists("test:register:9.9.9.9"))
	require.Equal(t, time.Minute, mr.TTL("test:register:9.9.9.9"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, err := store.Hit(context.Background(), "k", 1, time.Minute, time.Now())
	require.Error(t, err)
}

func TestMemoryStore_SweepsIdleKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

	_, _ = s.Hit(ctx, "a", 10, time.Minute, base)
	_, _ = s.Hit(ctx, "b", 10, time.Minute, base.Add(2*time.Minute))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotContains(t, s.hits, "a")
	require.Contains(t, s.hits, "b")
}

func TestStore_NonPositiveLimitRejects(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, limit := range []int{0, -1} {
				d, err := store.Hit(context.Background(), "fresh", limit, time.Minute, time.Now())
				require.NoError(t, err)
				require.False(t, d.Allowed)
				require.Equal(t, 0, d.Remaining)
			}
		})
	}
}

func TestRedisStore_ConcurrentHitsNeverOverCount(t *testing.T) {
	store, mr := newRedisStore(t)
	now := time.Now()

	const limit = 5
	var (
		wg      sync.WaitGroup
		allowed atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Hit(context.Background(), "burst", limit, time.Minute, now)
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(limit), allowed.Load())

	// rejected hits never land in the window
	members, err := mr.ZMembers("test:burst")
	require.NoError(t, err)
	require.Len(t, members, limit)
}
