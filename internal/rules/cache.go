package rules

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/genomiq/lead-engine/internal/pkg/logger"
)

// InvalidationChannel is the pub/sub channel the admin rule-mutation
// endpoints publish to. Every in-process cache subscribed to it drops its
// snapshot on the next message.
const InvalidationChannel = "rules:invalidate"

// Cache is a TTL-based in-process cache for a rule table. Rule tables are
// read-heavy and write-rare; each worker keeps its own snapshot and
// reloads after the TTL or an explicit invalidation.
type Cache[T any] struct {
	load func(ctx context.Context) ([]T, error)
	ttl  time.Duration

	mu       sync.RWMutex
	items    []T
	loadedAt time.Time
}

// NewCache builds a cache around a loader.
func NewCache[T any](ttl time.Duration, load func(ctx context.Context) ([]T, error)) *Cache[T] {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Cache[T]{load: load, ttl: ttl}
}

// Get returns the cached snapshot, reloading when stale. A failed reload
// falls back to the previous snapshot so a store blip never empties the
// rule set mid-flight.
func (c *Cache[T]) Get(ctx context.Context) ([]T, error) {
	c.mu.RLock()
	fresh := time.Since(c.loadedAt) < c.ttl && c.items != nil
	items := c.items
	c.mu.RUnlock()
	if fresh {
		return items, nil
	}

	loaded, err := c.load(ctx)
	if err != nil {
		if items != nil {
			logger.Warn("rule cache reload failed, serving stale snapshot", "error", err.Error())
			return items, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.items = loaded
	c.loadedAt = time.Now()
	c.mu.Unlock()
	return loaded, nil
}

// Invalidate drops the snapshot; the next Get reloads.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.items = nil
	c.mu.Unlock()
}

// Invalidator fans one pub/sub invalidation out to every registered cache.
type Invalidator struct {
	rdb    *redis.Client
	mu     sync.Mutex
	funcs  []func()
	cancel context.CancelFunc
}

// NewInvalidator creates an invalidator over the shared Redis client.
func NewInvalidator(rdb *redis.Client) *Invalidator {
	return &Invalidator{rdb: rdb}
}

// Register adds a cache's Invalidate to the fan-out.
func (iv *Invalidator) Register(fn func()) {
	iv.mu.Lock()
	iv.funcs = append(iv.funcs, fn)
	iv.mu.Unlock()
}

// Publish signals every process to drop its rule caches. Called by the
// admin surface after a rule mutation.
func (iv *Invalidator) Publish(ctx context.Context) error {
	return iv.rdb.Publish(ctx, InvalidationChannel, "reload").Err()
}

// Start subscribes to the invalidation channel until Stop is called.
func (iv *Invalidator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	iv.cancel = cancel
	sub := iv.rdb.Subscribe(ctx, InvalidationChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				_ = msg
				iv.mu.Lock()
				for _, fn := range iv.funcs {
					fn()
				}
				iv.mu.Unlock()
				logger.Debug("rule caches invalidated")
			}
		}
	}()
}

// Stop ends the subscription.
func (iv *Invalidator) Stop() {
	if iv.cancel != nil {
		iv.cancel()
	}
}
