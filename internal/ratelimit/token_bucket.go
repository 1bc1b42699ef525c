// Package ratelimit implements the distributed admission check. Bucket
// state lives in redis and is mutated by a single Lua script, so
// concurrent admits from different gateway instances can never both
// consume the last token.
package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Refill is interval-based and non-cumulative: every full elapsed
// interval adds refill tokens, capped at capacity. Buckets are created
// lazily and expire from redis after the idle TTL.
const tokenBucketScript = `
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local data = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  ts = now
else
  local elapsed = now - ts
  if elapsed >= interval then
    local steps = math.floor(elapsed / interval)
    tokens = math.min(capacity, tokens + steps * refill)
    ts = ts + steps * interval
  end
end

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call("HMSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tokens}
`

type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{
		client: client,
		script: redis.NewScript(tokenBucketScript),
	}
}

// Take consumes one token from the bucket at key, refilling first based
// on now. It returns whether the request is admitted and how many tokens
// remain.
func (t *TokenBucket) Take(
	ctx context.Context,
	key string,
	now time.Time,
	capacity, refill int,
	interval, idleTTL time.Duration,
) (bool, int64, error) {
	if t == nil || t.client == nil {
		return false, 0, errors.New("rate limiter not configured")
	}
	if key == "" {
		return false, 0, errors.New("rate limiter key is empty")
	}
	if capacity <= 0 || refill <= 0 || interval <= 0 {
		return false, 0, errors.New("rate limiter bucket parameters must be positive")
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}

	res, err := t.script.Run(
		ctx,
		t.client,
		[]string{key},
		capacity,
		refill,
		int64(interval/time.Millisecond),
		int64(idleTTL/time.Millisecond),
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) < 2 {
		return false, 0, errors.New("invalid rate limit script response")
	}

	allowed, _ := res[0].(int64)
	remaining, _ := res[1].(int64)
	return allowed == 1, remaining, nil
}
