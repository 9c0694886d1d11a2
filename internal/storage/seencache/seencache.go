// Package seencache mirrors the pipeline's dedup seen-sets outside the
// process. The in-memory sets held by the orchestrator stay authoritative;
// this mirror only has to answer "was this key seen recently" across
// restarts, so reads and writes are best-effort and never block a scan on
// a slow or absent Redis.
package seencache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisKeyPrefix = "vigiauto:seen:"
	opTimeout      = 500 * time.Millisecond

	// memory entries are swept once the map grows past this.
	sweepThreshold = 4096
)

// Cache answers recent-key membership. Mark never reports failure; a lost
// write only risks one duplicate notification after a restart.
type Cache interface {
	Seen(ctx context.Context, key string) bool
	Mark(ctx context.Context, key string)
	Close() error
}

// NewAuto picks the backend: Redis when an address is configured,
// otherwise an in-process map.
func NewAuto(addr string, db int, ttl time.Duration, logger zerolog.Logger) Cache {
	if addr != "" {
		return NewRedis(addr, db, ttl, logger)
	}
	return NewMemory(ttl)
}

// NewDisabled returns a cache that remembers nothing.
func NewDisabled() Cache { return disabled{} }

type disabled struct{}

func (disabled) Seen(context.Context, string) bool { return false }
func (disabled) Mark(context.Context, string)      {}
func (disabled) Close() error                      { return nil }

type memory struct {
	mu  sync.Mutex
	m   map[string]time.Time
	ttl time.Duration
	now func() time.Time
}

// NewMemory keeps the mirror in-process. It survives nothing, but keeps
// the call sites identical when no Redis is deployed.
func NewMemory(ttl time.Duration) Cache {
	return &memory{m: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (c *memory) Seen(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.m[key]
	if !ok {
		return false
	}
	if !exp.IsZero() && c.now().After(exp) {
		delete(c.m, key)
		return false
	}
	return true
}

func (c *memory) Mark(_ context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	c.m[key] = exp
	if len(c.m) > sweepThreshold {
		c.sweepLocked()
	}
}

func (c *memory) sweepLocked() {
	now := c.now()
	for k, exp := range c.m {
		if !exp.IsZero() && now.After(exp) {
			delete(c.m, k)
		}
	}
}

func (c *memory) Close() error { return nil }

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis mirrors seen keys into Redis with a TTL, namespaced under
// vigiauto:seen: so the instance can be shared.
func NewRedis(addr string, db int, ttl time.Duration, logger zerolog.Logger) Cache {
	return &redisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ttl:    ttl,
		logger: logger,
	}
}

func (c *redisCache) Seen(ctx context.Context, key string) bool {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	n, err := c.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("seen cache read failed")
		return false
	}
	return n > 0
}

func (c *redisCache) Mark(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, redisKeyPrefix+key, "1", c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("seen cache write failed")
	}
}

func (c *redisCache) Close() error { return c.client.Close() }
