// Package queue implements the durable named queues backing the pipeline.
//
// Jobs live in Redis lists. A consumer atomically moves a job into a
// per-queue processing list (BRPOPLPUSH pattern) and acknowledges it by
// removing it after the handler returns. Failed retryable jobs go to a
// delayed sorted set and are promoted back when their backoff elapses;
// exhausted jobs land in a durable failed list for manual inspection.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrEmpty is returned by Dequeue when no job arrived within the wait.
var ErrEmpty = errors.New("queue: empty")

// Backoff schedule for retryable failures: 1s, 2s, 4s (jitter is added by
// the caller's limiter; the schedule itself is fixed).
var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// DedupTTL is how long a unique job id suppresses duplicates. Correlation
// replays inside this window are coalesced at the queue.
const DedupTTL = 24 * time.Hour

// Client wraps the Redis connection with queue semantics.
type Client struct {
	rdb *redis.Client
}

// NewClient builds a queue client from a Redis URL.
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an existing Redis client (used by tests).
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Redis returns the underlying client for shared concerns (locks, caches).
func (c *Client) Redis() *redis.Client { return c.rdb }

func queueKey(name string) string      { return "queue:" + name }
func processingKey(name string) string { return "queue:" + name + ":processing" }
func delayedKey(name string) string    { return "queue:" + name + ":delayed" }
func failedKey(name string) string     { return "queue:" + name + ":failed" }
func dedupKey(jobID string) string     { return "queue:dedup:" + jobID }
func claimKey(name string) string      { return "queue:" + name + ":claims" }

// Enqueue pushes a job onto the named queue.
func (c *Client) Enqueue(ctx context.Context, queueName string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := c.rdb.LPush(ctx, queueKey(queueName), raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return nil
}

// EnqueueUnique pushes a job only if no job with the same id was enqueued
// within DedupTTL. Routing jobs use this with id "route:{lead_id}" so
// bursts of events produce one pending evaluation per lead; an in-flight
// job already claimed does not block a new one, because the dedup key is
// cleared on dequeue.
func (c *Client) EnqueueUnique(ctx context.Context, queueName string, job *Job) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, dedupKey(job.ID), 1, DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check %s: %w", job.ID, err)
	}
	if !ok {
		return false, nil
	}
	if err := c.Enqueue(ctx, queueName, job); err != nil {
		// Roll the dedup key back so a later producer can retry.
		c.rdb.Del(ctx, dedupKey(job.ID))
		return false, err
	}
	return true, nil
}

// Dequeue blocks up to wait for a job, moving it into the processing list
// and recording a claim timestamp for crash recovery. The dedup key is
// released here so that a fresh job may be scheduled while this one runs.
func (c *Client) Dequeue(ctx context.Context, queueName string, wait time.Duration) (*Job, error) {
	raw, err := c.rdb.BLMove(ctx, queueKey(queueName), processingKey(queueName), "right", "left", wait).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("dequeue %s: %w", queueName, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Poison entry: drop it from processing and surface the error.
		c.rdb.LRem(ctx, processingKey(queueName), 1, raw)
		return nil, fmt.Errorf("malformed job on %s: %w", queueName, err)
	}

	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, claimKey(queueName), job.ID, time.Now().UTC().Format(time.RFC3339))
	pipe.Del(ctx, dedupKey(job.ID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[Queue] claim bookkeeping failed for %s: %v", job.ID, err)
	}
	return &job, nil
}

// Ack removes a finished job from the processing list.
func (c *Client) Ack(ctx context.Context, queueName string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := c.rdb.Pipeline()
	pipe.LRem(ctx, processingKey(queueName), 1, string(raw))
	pipe.HDel(ctx, claimKey(queueName), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}

// Fail handles a job failure. Retryable jobs with remaining attempts go to
// the delayed set with exponential backoff; everything else lands in the
// durable failed list.
func (c *Client) Fail(ctx context.Context, queueName string, job *Job, jobErr error, retryable bool) error {
	if err := c.Ack(ctx, queueName, job); err != nil {
		log.Printf("[Queue] ack-on-fail error for %s: %v", job.ID, err)
	}

	job.Attempts++
	job.LastError = jobErr.Error()

	if retryable && job.Attempts < job.MaxAttempts {
		backoff := retryBackoff[len(retryBackoff)-1]
		if job.Attempts-1 < len(retryBackoff) {
			backoff = retryBackoff[job.Attempts-1]
		}
		return c.enqueueDelayed(ctx, queueName, job, time.Now().Add(backoff))
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := c.rdb.LPush(ctx, failedKey(queueName), raw).Err(); err != nil {
		return fmt.Errorf("move to failed %s: %w", queueName, err)
	}
	log.Printf("[Queue] job %s (%s) moved to %s failed set after %d attempts: %v",
		job.ID, job.Type, queueName, job.Attempts, jobErr)
	return nil
}

func (c *Client) enqueueDelayed(ctx context.Context, queueName string, job *Job, readyAt time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return c.rdb.ZAdd(ctx, delayedKey(queueName), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: raw,
	}).Err()
}

// promoteDelayedScript atomically moves due members of the delayed set
// back onto the queue. A Lua script keeps promote-and-remove atomic, the
// same pattern the rate limiter uses for check-and-increment.
var promoteDelayedScript = redis.NewScript(`
local due = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, 100)
for _, member in ipairs(due) do
    redis.call("LPUSH", KEYS[2], member)
    redis.call("ZREM", KEYS[1], member)
end
return #due
`)

// PromoteDelayed requeues all delayed jobs whose backoff has elapsed.
// Called periodically by each worker pool.
func (c *Client) PromoteDelayed(ctx context.Context, queueName string) (int, error) {
	n, err := promoteDelayedScript.Run(ctx, c.rdb,
		[]string{delayedKey(queueName), queueKey(queueName)},
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed %s: %w", queueName, err)
	}
	return n, nil
}

// RecoverStale requeues jobs whose claim is older than the visibility
// timeout (their worker crashed mid-flight). Returns the number recovered.
func (c *Client) RecoverStale(ctx context.Context, queueName string, visibility time.Duration) (int, error) {
	claims, err := c.rdb.HGetAll(ctx, claimKey(queueName)).Result()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-visibility)
	recovered := 0

	entries, err := c.rdb.LRange(ctx, processingKey(queueName), 0, -1).Result()
	if err != nil {
		return 0, err
	}

	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			continue
		}
		claimedAt, ok := claims[job.ID]
		if !ok {
			continue
		}
		ts, err := time.Parse(time.RFC3339, claimedAt)
		if err != nil || ts.After(cutoff) {
			continue
		}

		pipe := c.rdb.Pipeline()
		pipe.LRem(ctx, processingKey(queueName), 1, raw)
		pipe.HDel(ctx, claimKey(queueName), job.ID)
		if _, err := pipe.Exec(ctx); err != nil {
			continue
		}

		job.Attempts++
		job.LastError = "reclaimed from crashed worker"
		if job.Attempts >= job.MaxAttempts {
			out, _ := json.Marshal(&job)
			c.rdb.LPush(ctx, failedKey(queueName), out)
		} else {
			out, _ := json.Marshal(&job)
			c.rdb.LPush(ctx, queueKey(queueName), out)
		}
		recovered++
	}
	return recovered, nil
}

// FailedJobs returns up to limit jobs from the durable failed set.
func (c *Client) FailedJobs(ctx context.Context, queueName string, limit int64) ([]Job, error) {
	entries, err := c.rdb.LRange(ctx, failedKey(queueName), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(entries))
	for _, raw := range entries {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Depth returns the pending length of the named queue.
func (c *Client) Depth(ctx context.Context, queueName string) (int64, error) {
	return c.rdb.LLen(ctx, queueKey(queueName)).Result()
}

// Close releases the Redis connection.
func (c *Client) Close() error { return c.rdb.Close() }
