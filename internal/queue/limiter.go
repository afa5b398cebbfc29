package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter provides atomic per-queue rate limiting using a Redis Lua
// script. The GET → check → INCR pattern races under concurrent workers;
// the script checks and increments in one round trip.
type Limiter struct {
	rdb    *redis.Client
	script *redis.Script
}

// limiterLuaScript atomically checks the per-second counter and only
// increments when the cap allows.
const limiterLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, 2)
end
return {1, newVal}
`

// NewLimiter creates a limiter sharing the queue client's connection.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, script: redis.NewScript(limiterLuaScript)}
}

// Allow reports whether one more job may start on the named queue this
// second. A zero or negative ratePerSec disables limiting.
func (l *Limiter) Allow(ctx context.Context, queueName string, ratePerSec int) (bool, error) {
	if ratePerSec <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("ratelimit:%s:sec:%d", queueName, time.Now().Unix())
	result, err := l.script.Run(ctx, l.rdb, []string{key}, ratePerSec).Slice()
	if err != nil {
		// Limiter failures must not stall the pipeline; allow and log.
		log.Printf("[Limiter] check error for %s: %v", queueName, err)
		return true, nil
	}
	allowed, _ := result[0].(int64)
	return allowed == 1, nil
}

// Wait blocks until Allow succeeds or the context is done.
func (l *Limiter) Wait(ctx context.Context, queueName string, ratePerSec int) error {
	for {
		ok, err := l.Allow(ctx, queueName, ratePerSec)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
