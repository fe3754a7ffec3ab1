package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dungeon-server/internal/lock"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRunKey(t *testing.T) {
	assert.Equal(t, "dungeon:run:1,2,7", lock.RunKey([]int{7, 1, 2}))
	assert.Equal(t, lock.RunKey([]int{2, 1}), lock.RunKey([]int{1, 2}))
}

func newRedisLocker(t *testing.T, ttl, wait time.Duration) (lock.RunLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedisLocker(client, ttl, wait, zap.NewNop()), mr
}

// Проверки, общие для обеих реализаций.
func exerciseLocker(t *testing.T, locker lock.RunLocker) {
	ctx := context.Background()

	t.Run("Exclusive per key", func(t *testing.T) {
		unlock, err := locker.Lock(ctx, "k1")
		require.NoError(t, err)

		_, err = locker.Lock(ctx, "k1")
		assert.ErrorIs(t, err, lock.ErrNotAcquired)

		other, err := locker.Lock(ctx, "k2")
		require.NoError(t, err)
		require.NoError(t, other(ctx))

		require.NoError(t, unlock(ctx))
		again, err := locker.Lock(ctx, "k1")
		require.NoError(t, err)
		require.NoError(t, again(ctx))
	})

	t.Run("Serialises concurrent holders", func(t *testing.T) {
		var inside, maxInside int32
		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				unlock, err := locker.Lock(waitCtx, "shared")
				if !assert.NoError(t, err) {
					return
				}
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				assert.NoError(t, unlock(ctx))
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, maxInside)
	})
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, lock.NewMemoryLocker(100*time.Millisecond))

	t.Run("Cancelled context", func(t *testing.T) {
		locker := lock.NewMemoryLocker(0)
		unlock, err := locker.Lock(context.Background(), "k")
		require.NoError(t, err)
		defer func() { _ = unlock(context.Background()) }()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = locker.Lock(ctx, "k")
		assert.ErrorIs(t, err, lock.ErrNotAcquired)
	})

	t.Run("Double unlock is harmless", func(t *testing.T) {
		locker := lock.NewMemoryLocker(50 * time.Millisecond)
		unlock, err := locker.Lock(context.Background(), "k")
		require.NoError(t, err)
		require.NoError(t, unlock(context.Background()))
		require.NoError(t, unlock(context.Background()))
		next, err := locker.Lock(context.Background(), "k")
		require.NoError(t, err)
		require.NoError(t, next(context.Background()))
	})
}

func TestRedisLocker(t *testing.T) {
	locker, _ := newRedisLocker(t, time.Minute, time.Second)
	exerciseLocker(t, locker)

	t.Run("Expired lock is not released by old owner", func(t *testing.T) {
		locker, mr := newRedisLocker(t, time.Second, 100*time.Millisecond)
		ctx := context.Background()

		stale, err := locker.Lock(ctx, "run")
		require.NoError(t, err)
		mr.FastForward(2 * time.Second)

		fresh, err := locker.Lock(ctx, "run")
		require.NoError(t, err)

		// Старый владелец не должен снять чужую блокировку
		require.NoError(t, stale(ctx))
		assert.True(t, mr.Exists("run"))

		require.NoError(t, fresh(ctx))
		assert.False(t, mr.Exists("run"))
	})

	t.Run("Redis unavailable", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer client.Close()
		locker := lock.NewRedisLocker(client, time.Second, 100*time.Millisecond, zap.NewNop())
		_, err := locker.Lock(context.Background(), "run")
		assert.Error(t, err)
	})
}
