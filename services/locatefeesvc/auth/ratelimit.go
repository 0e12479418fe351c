package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript implements an atomic CAS token bucket in Redis, so no
// two replicas of this service can ever race a single client's allowance —
// spec §4.8 forbids per-replica local buckets for exactly this reason. The
// bucket refills continuously at rate/window and is capped at rate.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillPerSec = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call("HMGET", key, "tokens", "ts")
local tokens = tonumber(data[1])
local ts = tonumber(data[2])
if tokens == nil then
  tokens = capacity
  ts = now
end

local elapsed = math.max(0, now - ts)
tokens = math.min(capacity, tokens + elapsed * refillPerSec)

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "ts", now)
redis.call("PEXPIRE", key, ttl)

local retryAfter = 0
if tokens < requested then
  retryAfter = math.ceil((requested - tokens) / refillPerSec)
end
local resetSeconds = math.ceil((capacity - tokens) / refillPerSec)

return {allowed, tokens, retryAfter, resetSeconds}
`

// RateLimiter is the Redis-backed token-bucket limiter of spec §4.8: one
// bucket per client_id, capacity and refill rate taken from the caller's
// ApiKey.RateLimit (requests per minute), exactly one token consumed per
// call per the Open Question decision recorded in DESIGN.md.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter constructs a RateLimiter backed by rdb.
func NewRateLimiter(rdb *redis.Client) *RateLimiter {
	return &RateLimiter{rdb: rdb, script: redis.NewScript(tokenBucketScript), now: time.Now}
}

// Result reports the outcome of an Allow check, enough to populate
// X-RateLimit-* and Retry-After response headers.
type Result struct {
	Allowed    bool
	Remaining  int
	Limit      int
	RetryAfter int // seconds until the bucket again holds a whole token; 0 while at least one remains
	ResetSecs  int // seconds until the bucket refills to full capacity
}

// Allow consumes one token from clientID's bucket, sized to ratePerMinute.
func (l *RateLimiter) Allow(ctx context.Context, clientID string, ratePerMinute int) (Result, error) {
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	key := "ratelimit:" + clientID
	refillPerSec := float64(ratePerMinute) / 60.0
	now := float64(l.now().UnixNano()) / 1e9
	ttlMs := int64(2 * time.Minute / time.Millisecond)

	raw, err := l.script.Run(ctx, l.rdb, []string{key}, ratePerMinute, refillPerSec, now, 1, ttlMs).Result()
	if err != nil {
		return Result{}, fmt.Errorf("auth: rate limit check: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 4 {
		return Result{}, fmt.Errorf("auth: unexpected rate limit script result")
	}
	allowed, _ := vals[0].(int64)
	remaining := toInt(vals[1])
	retryAfter := toInt(vals[2])
	resetSecs := toInt(vals[3])

	return Result{
		Allowed:    allowed == 1,
		Remaining:  remaining,
		Limit:      ratePerMinute,
		RetryAfter: retryAfter,
		ResetSecs:  resetSecs,
	}, nil
}

// toInt tolerates both reply shapes go-redis may hand back for a Lua number
// (Redis truncates non-integer Lua numbers to an integer reply, but the
// client library's generic Script.Run decoding can surface it as either an
// int64 or a numeric string depending on the reply mode).
func toInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case string:
		var n int
		fmt.Sscanf(t, "%d", &n)
		return n
	default:
		return 0
	}
}
