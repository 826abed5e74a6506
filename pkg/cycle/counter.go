package cycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter stores per-identity per-cycle usage counts. Counts only grow.
type Counter interface {
	Get(ctx context.Context, key string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
}

// MemoryCounter keeps counts in process memory.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key], nil
}

func (c *MemoryCounter) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

// RedisCounter shares counts across kernel replicas. Keys expire two days
// after their last increment, which outlives any cycle.
type RedisCounter struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCounter connects to Redis at addr.
func NewRedisCounter(addr, password string, db int) *RedisCounter {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCounter{client: rdb, prefix: "mobius:rate:", ttl: 48 * time.Hour}
}

// Ping checks connectivity.
func (c *RedisCounter) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Get(ctx, c.prefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter get: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Incr(ctx context.Context, key string) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, c.prefix+key)
	pipe.Expire(ctx, c.prefix+key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis counter incr: %w", err)
	}
	return incr.Val(), nil
}

func counterKey(cycleID, identityID, limit string) string {
	return cycleID + ":" + identityID + ":" + limit
}
