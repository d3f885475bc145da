package initiation

import (
	"context"
	"strings"
	"time"

	"voice-orchestrator/pkg/utils"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Guard limits concurrent outbound call creation per destination number.
type Guard interface {
	Acquire(ctx context.Context, phone string) (bool, error)
	Release(ctx context.Context, phone string) error
}

// RedisGuard allows one in-flight create per destination across all instances.
// The TTL bounds how long a crashed holder can block a number.
type RedisGuard struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisGuard(rdb *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisGuard{rdb: rdb, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, phone string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, guardKey(phone), 1, g.ttl)
}

func (g *RedisGuard) Release(ctx context.Context, phone string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, guardKey(phone))
}

// MemoryGuard is the single-instance variant used when Redis is not configured.
type MemoryGuard struct {
	held *cache.Cache
	ttl  time.Duration
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemoryGuard{held: cache.New(ttl, 2*ttl), ttl: ttl}
}

func (g *MemoryGuard) Acquire(ctx context.Context, phone string) (bool, error) {
	// Add fails while an unexpired entry exists.
	return g.held.Add(guardKey(phone), struct{}{}, g.ttl) == nil, nil
}

func (g *MemoryGuard) Release(ctx context.Context, phone string) error {
	g.held.Delete(guardKey(phone))
	return nil
}

func guardKey(phone string) string {
	return "outbound:inflight:" + strings.TrimSpace(phone)
}
