package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Cache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string, dest any) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) error
	Stats() map[string]any
	Health(ctx context.Context) error
	Close() error
}

// l1Refill bounds how long a value promoted from Redis stays in memory.
const l1Refill = time.Minute

// MultiLevelCache reads through an in-process LRU before Redis. Redis calls
// go through a circuit breaker so an unavailable Redis degrades to the
// memory level instead of failing requests.
type MultiLevelCache struct {
	l1      *MemoryCache
	l2      *RedisCache
	breaker *CircuitBreaker
	metrics *CacheMetrics
}

var _ Cache = &MultiLevelCache{}

// NewMultiLevelCache builds the cache; redisCache may be nil for a memory
// only deployment.
func NewMultiLevelCache(redisCache *RedisCache, memoryEntries int) *MultiLevelCache {
	breakerConfig := DefaultCircuitBreakerConfig()
	breakerConfig.OnStateChange = func(from, to CircuitBreakerState) {
		slog.Warn("redis circuit breaker changed state",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	}

	return &MultiLevelCache{
		l1:      NewMemoryCache(memoryEntries),
		l2:      redisCache,
		breaker: NewCircuitBreaker(breakerConfig),
		metrics: NewCacheMetrics(),
	}
}

func (c *MultiLevelCache) redis(fn func() error) error {
	err := c.breaker.Execute(fn)
	if errors.Is(err, ErrCircuitBreakerOpen) {
		return ErrCacheDown
	}
	return err
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	c.metrics.RecordSet()
	c.l1.Set(key, value, ttl)

	if c.l2 == nil {
		return nil
	}
	err := c.redis(func() error { return c.l2.Set(ctx, key, value, ttl) })
	if err != nil {
		c.metrics.RecordError("l2")
	}
	return err
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, dest any) error {
	if value, found := c.l1.Get(key); found {
		c.metrics.RecordHit("l1")
		return copyValue(value, dest)
	}

	if c.l2 == nil {
		c.metrics.RecordMiss()
		return ErrCacheMiss
	}

	var miss bool
	err := c.redis(func() error {
		err := c.l2.Get(ctx, key, dest)
		if errors.Is(err, ErrCacheMiss) {
			// A miss says nothing about Redis health.
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		c.metrics.RecordError("l2")
		return err
	}
	if miss {
		c.metrics.RecordMiss()
		return ErrCacheMiss
	}

	c.metrics.RecordHit("l2")
	if raw, err := json.Marshal(dest); err == nil {
		c.l1.Set(key, json.RawMessage(raw), l1Refill)
	}
	return nil
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.metrics.RecordDelete()
	c.l1.Delete(key)

	if c.l2 == nil {
		return nil
	}
	return c.redis(func() error { return c.l2.Delete(ctx, key) })
}

func (c *MultiLevelCache) DeletePattern(ctx context.Context, pattern string) error {
	c.metrics.RecordDelete()
	c.l1.DeletePattern(pattern)

	if c.l2 == nil {
		return nil
	}
	return c.redis(func() error { return c.l2.DeletePattern(ctx, pattern) })
}

func (c *MultiLevelCache) Stats() map[string]any {
	stats := map[string]any{
		"l1":      c.l1.Stats(),
		"breaker": c.breaker.GetStats(),
		"metrics": c.metrics.Snapshot(),
	}
	if c.l2 != nil {
		stats["l2"] = c.l2.Stats()
	}
	return stats
}

func (c *MultiLevelCache) Health(ctx context.Context) error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.Health(ctx)
}

func (c *MultiLevelCache) Close() error {
	if c.l2 == nil {
		return nil
	}
	return c.l2.Close()
}

// copyValue round-trips through JSON so callers never share the cached
// value with the memory level.
func copyValue(src, dest any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("failed to marshal source value: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal to destination: %w", err)
	}
	return nil
}
