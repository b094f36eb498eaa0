package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript mirrors MemoryLimiter.Check on a hash with the fields
// failures, window_start_ms and blocked_until_ms.
var checkScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local max_attempts = tonumber(ARGV[2])
	local window_ms = tonumber(ARGV[3])
	local block_ms = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'failures', 'window_start_ms', 'blocked_until_ms')
	local failures = tonumber(state[1])
	local window_start = tonumber(state[2])
	local blocked_until = tonumber(state[3])

	if failures == nil or window_start == nil then
		return { 1, max_attempts, 0 }
	end

	if blocked_until ~= nil and blocked_until > 0 then
		if now_ms < blocked_until then
			return { 0, 0, blocked_until }
		end
		redis.call('DEL', key)
		return { 1, max_attempts, 0 }
	end

	if now_ms - window_start > window_ms then
		redis.call('DEL', key)
		return { 1, max_attempts, 0 }
	end

	if failures >= max_attempts then
		local until_ms = now_ms + block_ms
		redis.call('HSET', key, 'blocked_until_ms', until_ms)
		redis.call('PEXPIRE', key, block_ms + 1000)
		return { 0, 0, until_ms }
	end

	return { 1, max_attempts - failures, 0 }
`)

// recordScript mirrors MemoryLimiter.RecordFailure.
var recordScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local state = redis.call('HMGET', key, 'failures', 'window_start_ms', 'blocked_until_ms')
	local failures = tonumber(state[1])
	local window_start = tonumber(state[2])
	local blocked_until = tonumber(state[3])

	if blocked_until ~= nil and blocked_until > now_ms then
		return failures
	end

	if failures == nil or window_start == nil or (blocked_until ~= nil and blocked_until > 0) or now_ms - window_start > window_ms then
		redis.call('DEL', key)
		redis.call('HSET', key, 'failures', 1, 'window_start_ms', now_ms)
		redis.call('PEXPIRE', key, window_ms + 1000)
		return 1
	end

	return redis.call('HINCRBY', key, 'failures', 1)
`)

// RedisLimiter runs the same state machine as MemoryLimiter inside Redis so
// several server instances share one view of each client.  Keys expire on
// their own; there is nothing to sweep.
type RedisLimiter struct {
	rdb    redis.Cmdable
	policy Policy
	prefix string
	now    func() time.Time
}

// NewRedisLimiter returns a limiter storing entries under prefix.
func NewRedisLimiter(rdb redis.Cmdable, p Policy, prefix string, now func() time.Time) *RedisLimiter {
	if prefix == "" {
		prefix = "login"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{rdb: rdb, policy: p.normalized(), prefix: prefix, now: now}
}

func (l *RedisLimiter) key(id string) string { return l.prefix + ":" + id }

func (l *RedisLimiter) Check(ctx context.Context, id string) (Decision, error) {
	now := l.now()
	vals, err := checkScript.Run(ctx, l.rdb, []string{l.key(id)},
		now.UnixMilli(),
		l.policy.MaxAttempts,
		l.policy.Window.Milliseconds(),
		l.policy.Block.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit check: %w", err)
	}
	if len(vals) != 3 {
		return Decision{}, fmt.Errorf("ratelimit check: unexpected script result %#v", vals)
	}
	if asInt64(vals[0]) == 1 {
		return allowed(int(asInt64(vals[1]))), nil
	}
	return blocked(time.UnixMilli(asInt64(vals[2])), now), nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, id string) error {
	err := recordScript.Run(ctx, l.rdb, []string{l.key(id)},
		l.now().UnixMilli(),
		l.policy.Window.Milliseconds(),
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("ratelimit record: %w", err)
	}
	return nil
}

func (l *RedisLimiter) Clear(ctx context.Context, id string) error {
	if err := l.rdb.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("ratelimit clear: %w", err)
	}
	return nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
