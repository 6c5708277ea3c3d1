package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yairfalse/cirrus/internal/clock"
	"github.com/yairfalse/cirrus/pkg/resource"
)

// Cache stores snapshots for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) (resource.MetricsSnapshot, bool, error)
	Set(ctx context.Context, key string, snap resource.MetricsSnapshot, ttl time.Duration) error
}

type memoryEntry struct {
	snap      resource.MetricsSnapshot
	expiresAt time.Time
}

// MemoryCache is an in-process TTL map.
type MemoryCache struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memoryEntry
}

// NewMemoryCache creates an empty cache reading time from c.
func NewMemoryCache(c clock.Clock) *MemoryCache {
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryCache{clock: c, entries: make(map[string]memoryEntry)}
}

// Get returns the entry if it has not expired. Expired entries are dropped.
func (m *MemoryCache) Get(_ context.Context, key string) (resource.MetricsSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return resource.MetricsSnapshot{}, false, nil
	}
	if !m.clock.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return resource.MetricsSnapshot{}, false, nil
	}
	return e.snap, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, snap resource.MetricsSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{snap: snap, expiresAt: m.clock.Now().Add(ttl)}
	return nil
}

const redisKeyPrefix = "cirrus:metrics:"

// RedisCache shares snapshots between processes. Values are JSON with a
// server-side TTL.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache connects to the given redis URL and pings it.
func NewRedisCache(ctx context.Context, url string) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (resource.MetricsSnapshot, bool, error) {
	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return resource.MetricsSnapshot{}, false, nil
	}
	if err != nil {
		return resource.MetricsSnapshot{}, false, fmt.Errorf("get %s: %w", key, err)
	}

	var snap resource.MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return resource.MetricsSnapshot{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return snap, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, snap resource.MetricsSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Close releases the redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
