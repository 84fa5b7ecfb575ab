package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// limitScript checks both constraints and records the attempt in a single
// round trip so concurrent callers cannot race past a nearly-full window.
// KEYS[1] window counter, KEYS[2] spacing marker.
// ARGV[1] window millis, ARGV[2] max attempts, ARGV[3] min interval millis.
// Returns -1 when the spacing constraint fails, -2 when the window is
// full, otherwise the new attempt count.
var limitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[2]) then
  return -2
end
if tonumber(ARGV[3]) > 0 and redis.call('EXISTS', KEYS[2]) == 1 then
  return -1
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
end
return count
`)

// RedisLimiter implements Limiter on a shared Redis instance, so the
// window survives process restarts and is consistent across replicas.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter builds a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Limit applies the policy to key. It returns ErrRateLimited on a policy
// violation and passes through storage errors unchanged.
func (l *RedisLimiter) Limit(ctx context.Context, key string, policy Policy) error {
	res, err := limitScript.Run(ctx, l.client,
		[]string{key + ":count", key + ":recent"},
		policy.Window.Milliseconds(), policy.Max, policy.MinInterval.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if res < 0 {
		return ErrRateLimited
	}
	return nil
}
