package locks

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
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client), srv
}

func TestLocalLockerSerializesSameKey(t *testing.T) {
	locker := NewLocal()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), OrderKey("o-1"), time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := active.Add(1)
			for {
				current := maxActive.Load()
				if n <= current || maxActive.CompareAndSwap(current, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Empty(t, locker.slots)
}

func TestLocalLockerTryAcquire(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	_, ok, err = locker.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalLockerAcquireHonorsContext(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLockerExclusiveAndRelease(t *testing.T) {
	locker, srv := newRedisLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, OrderKey("o-9"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, srv.Exists(redisKeyPrefix+"order:o-9"))

	_, ok, err = locker.TryAcquire(ctx, OrderKey("o-9"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	assert.False(t, srv.Exists(redisKeyPrefix+"order:o-9"))
}

func TestRedisLockerReleaseKeepsForeignLease(t *testing.T) {
	locker, srv := newRedisLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryAcquire(ctx, "run", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// Lease expires and another holder takes the key.
	srv.FastForward(2 * time.Second)
	_, ok, err = locker.TryAcquire(ctx, "run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release()
	assert.True(t, srv.Exists(redisKeyPrefix+"run"))
}

func TestRedisLockerAcquireTimesOut(t *testing.T) {
	locker, _ := newRedisLocker(t)
	_, ok, err := locker.TryAcquire(context.Background(), "busy", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "busy", time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
