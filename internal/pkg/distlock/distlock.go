// Package distlock serializes the daily scheduler jobs across replicas.
// Exactly one process may hold a named lock at a time; a crashed holder
// is released by the Redis TTL or by the Postgres session ending.
package distlock

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-owner distributed lock. Instances are not safe for
// concurrent use; each goroutine takes its own.
type Lock interface {
	// TryAcquire attempts the lock without blocking and reports success.
	TryAcquire(ctx context.Context) (bool, error)
	// Release frees the lock when still owned by this instance.
	Release(ctx context.Context) error
}

// New picks the backend: Redis when a client is available (works across
// hosts), Postgres advisory locks otherwise.
func New(rdb *redis.Client, db *sql.DB, name string, ttl time.Duration) Lock {
	if rdb != nil {
		return newRedisLock(rdb, name, ttl)
	}
	return newAdvisoryLock(db, name)
}

// redisLock holds the lock as a SET NX key carrying a random owner token.
// Release and extend compare the token in a script so one replica can
// never free another's lock.
type redisLock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

func newRedisLock(rdb *redis.Client, name string, ttl time.Duration) *redisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &redisLock{
		rdb:   rdb,
		key:   "lock:" + name,
		token: hex.EncodeToString(b),
		ttl:   ttl,
	}
}

func (l *redisLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

func (l *redisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}

var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Extend refreshes the TTL for a long-running job while still owned.
func (l *redisLock) Extend(ctx context.Context, ttl time.Duration) error {
	return extendScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Err()
}

// advisoryLock maps the lock name onto a pg_try_advisory_lock id. The
// lock dies with the session, so a crashed holder never wedges the
// schedule.
type advisoryLock struct {
	db *sql.DB
	id int64
}

func newAdvisoryLock(db *sql.DB, name string) *advisoryLock {
	h := fnv.New64a()
	h.Write([]byte(name))
	return &advisoryLock{db: db, id: int64(h.Sum64())}
}

func (l *advisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&ok)
	return ok, err
}

func (l *advisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.id)
	return err
}
