package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow runs prune, count and record as one atomic step.
// KEYS[1] bucket key; ARGV: now ms, window ms, limit, member.
// Returns {allowed, count, oldest ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count >= limit then
	local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
	return {0, count, tonumber(oldest[2])}
end

redis.call("ZADD", key, now, ARGV[4])
redis.call("PEXPIRE", key, window)
return {1, count + 1, 0}
`)

// RedisStore shares buckets between server instances.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: "ratelimit:"}
}

func (s *RedisStore) Allow(ctx context.Context, key string, rule Rule, now time.Time) (Result, error) {
	nowMs := now.UnixMilli()
	res, err := slidingWindow.Run(ctx, s.rdb, []string{s.prefix + key},
		nowMs, rule.Window.Milliseconds(), rule.Count, fmt.Sprintf("%d-%s", nowMs, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit script: %w", err)
	}

	if res[0] == 0 {
		return Result{
			Allowed:    false,
			RetryAfter: retryAfter(rule.Window, now, time.UnixMilli(res[2])),
		}, nil
	}
	return Result{Allowed: true, Remaining: rule.Count - int(res[1])}, nil
}
