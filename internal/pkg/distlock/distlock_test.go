package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLock_SingleOwner(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	a := New(rdb, nil, "daily_digest", time.Minute)
	b := New(rdb, nil, "daily_digest", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_ReleaseByNonOwnerIsNoOp(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	owner := New(rdb, nil, "score_decay", time.Minute)
	other := New(rdb, nil, "score_decay", time.Minute)

	ok, err := owner.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// The loser never got the lock; its release must not free the owner's.
	require.NoError(t, other.Release(ctx))

	ok, err = other.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLock_IndependentNames(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()

	a := New(rdb, nil, "daily_digest", time.Minute)
	b := New(rdb, nil, "gdpr_sweep", time.Minute)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLock_Extend(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx := context.Background()

	l := newRedisLock(rdb, "daily_digest", time.Minute)
	ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, 5*time.Minute))
	assert.InDelta(t, (5 * time.Minute).Seconds(), mr.TTL("lock:daily_digest").Seconds(), 1)
}
