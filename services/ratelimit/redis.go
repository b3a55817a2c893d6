package ratelimit

import (
	"context"
	"fmt"
	"time"

	"kudos/pkg/rediskey"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

// windowScript applies a fixed window in one round trip.
// KEYS[1] window key; ARGV[1] max; ARGV[2] window ms; ARGV[3] requested.
// Returns {allowed, count, ttl_ms}.
var windowScript = redis.NewScript(`
local ttl = redis.call('PTTL', KEYS[1])
local count = 0
local fresh = ttl <= 0
if fresh then
  ttl = tonumber(ARGV[2])
else
  count = tonumber(redis.call('GET', KEYS[1]) or '0')
end
local max = tonumber(ARGV[1])
local requested = tonumber(ARGV[3])
if count + requested > max then
  return {0, count, ttl}
end
if fresh then
  redis.call('SET', KEYS[1], requested, 'PX', ttl)
else
  redis.call('INCRBY', KEYS[1], requested)
end
return {1, count + requested, ttl}
`)

// RedisLimiter shares windows between replicas through Redis.
type RedisLimiter struct {
	client redis.Scripter
	max    int
	period time.Duration
	clock  clockwork.Clock
}

func NewRedisLimiter(client redis.Scripter, max int, period time.Duration, clock clockwork.Clock) *RedisLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisLimiter{
		client: client,
		max:    max,
		period: period,
		clock:  clock,
	}
}

func (l *RedisLimiter) Check(ctx context.Context, workspaceID, actorID string, requested int) (Decision, error) {
	if l.max <= 0 || l.period <= 0 {
		return Decision{Allowed: true}, nil
	}

	res, err := windowScript.Run(ctx, l.client,
		[]string{rediskey.BuildRateLimitKey(workspaceID, actorID)},
		l.max, l.period.Milliseconds(), requested,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script: unexpected reply %v", res)
	}

	count := int(res[1])
	return Decision{
		Allowed:   res[0] == 1,
		ResetAt:   l.clock.Now().Add(time.Duration(res[2]) * time.Millisecond),
		Remaining: max(0, l.max-count),
	}, nil
}
