package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// CacheStore is the TTL cache surface used by services; Cache implements it
// against Redis, LocalCache in process memory.
type CacheStore interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

var (
	_ CacheStore = (*Cache)(nil)
	_ CacheStore = (*LocalCache)(nil)
)

type localEntry struct {
	data      []byte
	expiresAt time.Time
}

// LocalCache is the in-process fallback used when Redis is unreachable.
type LocalCache struct {
	mu      sync.Mutex
	entries map[string]localEntry
	now     func() time.Time
}

// NewLocalCache creates an empty in-process cache.
func NewLocalCache() *LocalCache {
	return &LocalCache{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

// Get returns the cached value for key, with hit=false on miss or expiry.
func (c *LocalCache) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return json.RawMessage(entry.data), true, nil
}

// Set stores a JSON-serializable value under key with the given TTL.
func (c *LocalCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = localEntry{data: data, expiresAt: c.now().Add(ttl)}
	return nil
}

// TTL returns the remaining lifetime of key, zero when absent or expired.
func (c *LocalCache) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return 0, nil
	}
	remaining := entry.expiresAt.Sub(c.now())
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}
