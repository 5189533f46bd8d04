package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newLockManager(t *testing.T) (*LockManager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLockManager(client, zap.NewNop()), mr
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		lm, mr := newLockManager(t)

		lock, err := lm.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)
		assert.True(t, mr.Exists("lock:sweep"))

		require.NoError(t, lock.Release(ctx))
		assert.False(t, mr.Exists("lock:sweep"))
	})

	t.Run("second acquire fails while held", func(t *testing.T) {
		lm, _ := newLockManager(t)

		lock, err := lm.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)

		_, err = lm.Acquire(ctx, "sweep", time.Minute)
		require.Error(t, err)

		require.NoError(t, lock.Release(ctx))
		_, err = lm.Acquire(ctx, "sweep", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("lock expires after its TTL", func(t *testing.T) {
		lm, mr := newLockManager(t)

		_, err := lm.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)

		_, err = lm.Acquire(ctx, "sweep", time.Minute)
		assert.NoError(t, err)
	})

	t.Run("release after takeover does not steal the new holder's lock", func(t *testing.T) {
		lm, mr := newLockManager(t)

		stale, err := lm.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)

		// TTL lapses and another instance takes the lock over.
		mr.FastForward(2 * time.Minute)
		_, err = lm.Acquire(ctx, "sweep", time.Minute)
		require.NoError(t, err)

		err = stale.Release(ctx)
		require.Error(t, err)
		assert.True(t, mr.Exists("lock:sweep"), "new holder's lock must survive the stale release")
	})
}
