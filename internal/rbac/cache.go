package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fleet-ledger/internal/operations"
)

// CacheEntry is the cached result of resolving a role against one operation.
type CacheEntry struct {
	Level   Level  `json:"level"`
	Pattern string `json:"pattern,omitempty"`
}

// Cache stores resolved levels per role and operation.
type Cache interface {
	Get(ctx context.Context, role string, id operations.ID) (CacheEntry, bool, error)
	Set(ctx context.Context, role string, id operations.ID, entry CacheEntry) error
	Invalidate(ctx context.Context, role string) error
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string, operations.ID) (CacheEntry, bool, error) {
	return CacheEntry{}, false, nil
}

func (NoopCache) Set(context.Context, string, operations.ID, CacheEntry) error { return nil }

func (NoopCache) Invalidate(context.Context, string) error { return nil }

const cacheKeyPrefix = "rbac:perm:"

// RedisCache keeps decisions in Redis with a TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache instantiates the cache. A non-positive ttl defaults to one minute.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(role string, id operations.ID) string {
	return cacheKeyPrefix + role + ":" + string(id)
}

func (c *RedisCache) Get(ctx context.Context, role string, id operations.ID) (CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(role, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, err
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return CacheEntry{}, false, err
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, role string, id operations.ID, entry CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(role, id), raw, c.ttl).Err()
}

// Invalidate drops every cached decision for role.
func (c *RedisCache) Invalidate(ctx context.Context, role string) error {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+role+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
