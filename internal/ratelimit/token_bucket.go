// Package ratelimit throttles posting ingestion per source so a runaway
// scraper cannot flood the pipeline. Distributed token bucket on Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IngestLimiter is a token bucket keyed by ingestion source.
type IngestLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

func NewIngestLimiter(client *redis.Client, capacity int, refillPerSecond float64) *IngestLimiter {
	return &IngestLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      10 * time.Minute,
	}
}

// Allow consumes one token for the source if available. Returns the allowed
// flag and the remaining token count.
func (b *IngestLimiter) Allow(ctx context.Context, source string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{"ratelimit:ingest:" + source},
		b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, fmt.Errorf("token bucket script returned %T, want [allowed, tokens]", res)
	}
	flag, ok := arr[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("token bucket script returned %T for allowed flag", arr[0])
	}
	allowed := flag == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
