package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is applied when a caller passes ttl <= 0.
const DefaultCacheTTL = 300 * time.Second

// Cache is the Redis-backed TTL cache for tool results and other JSON blobs.
type Cache struct {
	client *redis.Client
}

// NewCache creates a cache over the shared Redis client.
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get returns the cached JSON value for key, with hit=false on miss.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	data, err := c.client.Get(ctx, "halcyon:cache:"+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return json.RawMessage(data), true, nil
}

// Set stores a JSON-serializable value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, "halcyon:cache:"+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// TTL returns the remaining lifetime of key. Absent or unexpiring keys
// report zero.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, "halcyon:cache:"+key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// NormalizeToolKey derives a deterministic cache key from a tool name and its
// arguments: `tool:<name>:<k>:<v>:...` with keys sorted, floats rounded to
// two decimals, and strings lowercased with non-alphanumerics collapsed to
// "_" and truncated to 50 chars. Equivalent argument maps always produce the
// same key.
func NormalizeToolKey(tool string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, 1+2*len(keys))
	parts = append(parts, "tool:"+tool)
	for _, k := range keys {
		parts = append(parts, k, normalizeValue(args[k]))
	}
	return strings.Join(parts, ":")
}

func normalizeValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return fmt.Sprintf("%.2f", val)
	case float32:
		return fmt.Sprintf("%.2f", float64(val))
	case int:
		return fmt.Sprintf("%.2f", float64(val))
	case int64:
		return fmt.Sprintf("%.2f", float64(val))
	case json.Number:
		if f, err := val.Float64(); err == nil && !math.IsNaN(f) {
			return fmt.Sprintf("%.2f", f)
		}
		return normalizeString(val.String())
	case string:
		return normalizeString(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		data, _ := json.Marshal(val)
		return normalizeString(string(data))
	}
}

func normalizeString(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 50 {
		out = out[:50]
	}
	return out
}
