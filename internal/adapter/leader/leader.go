// Package leader elects a single janitor runner across scheduler replicas
// using a Redis lock. Losing Redis degrades to every replica running the
// janitor, which is safe because every janitor step is idempotent.
package leader

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-ad-generator/internal/domain"
)

const lockKey = "janitor:leader"

// Lock is a best-effort distributed lock with a TTL.
type Lock struct {
	client *redis.Client
	id     string
	ttl    time.Duration
}

// New builds a lock backed by the given Redis address. A nil return with
// no error means locking is disabled.
func New(addr, password string, ttl time.Duration) *Lock {
	if addr == "" {
		return nil
	}
	return &Lock{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		id:     uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire attempts to take the lock, refreshing it when this holder
// already owns it. Redis errors report acquisition as successful so a
// Redis outage never halts cleanup.
func (l *Lock) TryAcquire(ctx domain.Context) bool {
	if l == nil {
		return true
	}
	ok, err := l.client.SetNX(ctx, lockKey, l.id, l.ttl).Result()
	if err != nil {
		return true
	}
	if ok {
		return true
	}
	holder, err := l.client.Get(ctx, lockKey).Result()
	if err == nil && holder == l.id {
		l.client.Expire(ctx, lockKey, l.ttl)
		return true
	}
	return false
}

// Release drops the lock if this holder still owns it.
func (l *Lock) Release(ctx domain.Context) error {
	if l == nil {
		return nil
	}
	const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
	if err := l.client.Eval(ctx, script, []string{lockKey}, l.id).Err(); err != nil {
		return fmt.Errorf("op=leader.Release: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (l *Lock) Close() error {
	if l == nil {
		return nil
	}
	return l.client.Close()
}
