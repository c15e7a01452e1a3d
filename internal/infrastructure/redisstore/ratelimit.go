package redisstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter is a per-key token bucket. Allow consumes one token and reports
// whether the request may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// tokenBucketScript performs an atomic refill+consume. Bucket state is a
// Redis hash {tokens, ts}; refill is proportional to elapsed time, capped at
// burst. Returns 1 when a token was consumed.
const tokenBucketScript = `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = burst
  ts = now
end

tokens = math.min(burst, tokens + (now - ts) * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call('HMSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)
return allowed
`

// RedisLimiter is the shared-store token bucket.
type RedisLimiter struct {
	client     *redis.Client
	script     *redis.Script
	ratePerMin int
	burst      int
	bucketTTL  time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, ratePerMin, burst int, bucketTTL time.Duration) *RedisLimiter {
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	if burst <= 0 {
		burst = ratePerMin
	}
	if bucketTTL <= 0 {
		bucketTTL = 120 * time.Second
	}
	return &RedisLimiter{
		client:     client,
		script:     redis.NewScript(tokenBucketScript),
		ratePerMin: ratePerMin,
		burst:      burst,
		bucketTTL:  bucketTTL,
	}
}

var _ Limiter = (*RedisLimiter)(nil)

// Allow consumes one token from the key's bucket.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.client,
		[]string{"halcyon:rl:" + key},
		float64(l.ratePerMin)/60.0,
		l.burst,
		now,
		int(l.bucketTTL.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script: %w", err)
	}
	return res == 1, nil
}

// LocalLimiter is the in-process fallback used when Redis is unavailable.
// Same refill semantics as the Lua script.
type LocalLimiter struct {
	mu         sync.Mutex
	buckets    map[string]*localBucket
	ratePerMin int
	burst      int
	bucketTTL  time.Duration
	now        func() time.Time
}

type localBucket struct {
	tokens float64
	ts     time.Time
}

// NewLocalLimiter creates an in-process limiter.
func NewLocalLimiter(ratePerMin, burst int, bucketTTL time.Duration) *LocalLimiter {
	if ratePerMin <= 0 {
		ratePerMin = 60
	}
	if burst <= 0 {
		burst = ratePerMin
	}
	if bucketTTL <= 0 {
		bucketTTL = 120 * time.Second
	}
	return &LocalLimiter{
		buckets:    make(map[string]*localBucket),
		ratePerMin: ratePerMin,
		burst:      burst,
		bucketTTL:  bucketTTL,
		now:        time.Now,
	}
}

var _ Limiter = (*LocalLimiter)(nil)

// Allow consumes one token from the key's bucket.
func (l *LocalLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok || now.Sub(b.ts) > l.bucketTTL {
		b = &localBucket{tokens: float64(l.burst), ts: now}
		l.buckets[key] = b
	}

	refill := now.Sub(b.ts).Seconds() * float64(l.ratePerMin) / 60.0
	b.tokens += refill
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.ts = now

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}
