package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "saga:reconciliation:leader"

func newLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestSingleHolder(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	release, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(key))

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder is refused while the lease is live")

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists(key))

	release, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, release(ctx))
}

func TestExpiredHolderCannotReleaseSuccessor(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	stale, ok, err := l.TryLock(ctx, key, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "the lease expired")
	successor, err := mr.Get(key)
	require.NoError(t, err)

	require.NoError(t, stale(ctx))
	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, successor, got)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisErrorsSurface(t *testing.T) {
	ctx := context.Background()
	l, mr := newLocker(t)

	mr.SetError("ERR injected failure")
	_, ok, err := l.TryLock(ctx, key, time.Minute)
	assert.Error(t, err)
	assert.False(t, ok)

	mr.SetError("")
	release, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.SetError("ERR injected failure")
	assert.Error(t, release(ctx))
}
