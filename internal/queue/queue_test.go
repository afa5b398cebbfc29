package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewClientFromRedis(rdb), mr
}

func TestEnqueueDequeueAck(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	job, err := NewJob(JobEventProcess, EventJobPayload{EventID: uuid.New(), Source: "portal"})
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(ctx, QueueEvents, job))

	depth, err := c.Depth(ctx, QueueEvents)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	got, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, JobEventProcess, got.Type)

	require.NoError(t, c.Ack(ctx, QueueEvents, got))

	depth, _ = c.Depth(ctx, QueueEvents)
	assert.Equal(t, int64(0), depth)
}

func TestDequeue_Empty(t *testing.T) {
	c, _ := testClient(t)
	_, err := c.Dequeue(context.Background(), QueueEvents, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestEnqueueUnique_CoalescesRoutingJobs(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	leadID := uuid.New()

	mk := func() *Job {
		job, err := NewJob(JobRoutingEvaluate, RoutingJobPayload{LeadID: leadID, Trigger: "event_processed"})
		require.NoError(t, err)
		job.ID = RoutingDedupID(leadID)
		return job
	}

	ok, err := c.EnqueueUnique(ctx, QueueRouting, mk())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second enqueue for the same lead is coalesced.
	ok, err = c.EnqueueUnique(ctx, QueueRouting, mk())
	require.NoError(t, err)
	assert.False(t, ok)

	depth, _ := c.Depth(ctx, QueueRouting)
	assert.Equal(t, int64(1), depth)

	// Once the in-flight job is claimed, a new one may be scheduled.
	got, err := c.Dequeue(ctx, QueueRouting, 100*time.Millisecond)
	require.NoError(t, err)

	ok, err = c.EnqueueUnique(ctx, QueueRouting, mk())
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Ack(ctx, QueueRouting, got))
}

func TestFail_RetryableGoesToDelayedThenPromotes(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()

	job, err := NewJob(JobEventProcess, EventJobPayload{EventID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(ctx, QueueEvents, job))

	got, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, c.Fail(ctx, QueueEvents, got, errors.New("db timeout"), true))

	// Nothing pending until the backoff elapses.
	depth, _ := c.Depth(ctx, QueueEvents)
	assert.Equal(t, int64(0), depth)

	mr.FastForward(2 * time.Second)
	n, err := c.PromoteDelayed(ctx, QueueEvents)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	requeued, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued.Attempts)
	assert.Contains(t, requeued.LastError, "db timeout")
}

func TestFail_NonRetryableGoesToFailedSet(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	job, err := NewJob(JobEventProcess, EventJobPayload{EventID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(ctx, QueueEvents, job))

	got, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, c.Fail(ctx, QueueEvents, got, errors.New("validation failed"), false))

	failed, err := c.FailedJobs(ctx, QueueEvents, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
}

func TestFail_ExhaustedRetriesGoToFailedSet(t *testing.T) {
	c, mr := testClient(t)
	ctx := context.Background()

	job, err := NewJob(JobEventProcess, EventJobPayload{EventID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(ctx, QueueEvents, job))

	for attempt := 0; attempt < 3; attempt++ {
		got, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
		require.NoError(t, err)
		require.NoError(t, c.Fail(ctx, QueueEvents, got, errors.New("still broken"), true))
		mr.FastForward(10 * time.Second)
		c.PromoteDelayed(ctx, QueueEvents)
	}

	failed, err := c.FailedJobs(ctx, QueueEvents, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
}

func TestRecoverStale(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()

	job, err := NewJob(JobEventProcess, EventJobPayload{EventID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(ctx, QueueEvents, job))

	// Claim without acking, simulating a crashed worker.
	_, err = c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)

	// Claim is fresh: nothing to recover.
	n, err := c.RecoverStale(ctx, QueueEvents, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// With a zero visibility timeout every claim is stale.
	n, err = c.RecoverStale(ctx, QueueEvents, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	requeued, err := c.Dequeue(ctx, QueueEvents, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, job.ID, requeued.ID)
	assert.Equal(t, 1, requeued.Attempts)
}

func TestLimiter(t *testing.T) {
	c, _ := testClient(t)
	ctx := context.Background()
	limiter := NewLimiter(c.Redis())

	allowedCount := 0
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(ctx, QueueSync, 5)
		require.NoError(t, err)
		if ok {
			allowedCount++
		}
	}
	assert.Equal(t, 5, allowedCount)

	// Zero rate disables limiting.
	ok, err := limiter.Allow(ctx, QueueSync, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}
