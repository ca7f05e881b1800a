package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/workgraph/pkg/workgraph/lock"
)

func newRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewRedisLocker(client, "test:", lock.WithPollInterval(10*time.Millisecond)), mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "thread-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:thread-1"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:thread-1"))
}

func TestRedisLocker_Contention(t *testing.T) {
	locker, _ := newRedisLocker(t)
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)

	ctxTimeout, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctxTimeout, "shared", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, unlock1(ctx))

	unlock2, err := locker.Lock(ctx, "shared", 5*time.Second)
	require.NoError(t, err)
	assert.NoError(t, unlock2(ctx))
}

func TestRedisLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	unlock1, err := locker.Lock(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock2, err := locker.Lock(ctx, "k", 5*time.Second)
	require.NoError(t, err)

	// The first holder's token no longer matches
	err = unlock1(ctx)
	assert.ErrorIs(t, err, lock.ErrNotHeld)
	assert.True(t, mr.Exists("test:lock:k"))

	assert.NoError(t, unlock2(ctx))
}

func TestRedisLocker_RenewsWhileHeld(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()
	ttl := 90 * time.Millisecond

	unlock, err := locker.Lock(ctx, "long", ttl)
	require.NoError(t, err)

	// Without renewal the lock would expire inside the second FastForward.
	mr.FastForward(80 * time.Millisecond)
	require.Eventually(t, func() bool {
		return mr.TTL("test:lock:long") > 10*time.Millisecond
	}, time.Second, 5*time.Millisecond)
	mr.FastForward(50 * time.Millisecond)
	assert.True(t, mr.Exists("test:lock:long"))

	require.NoError(t, unlock(ctx))
	assert.False(t, mr.Exists("test:lock:long"))
}
