package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Окно хранится в ZSET: member - уникальный id запроса, score - время в мс.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	return {0, count, tonumber(oldest[2]) + window - now}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, 0}
`)

// Redis - лимитер, общий для всех инстансов сервиса.
type Redis struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedis создаёт лимитер; prefix отделяет области (например "exam:rl:auth:").
func NewRedis(rdb *redis.Client, prefix string, limit int, window time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	const op = "ratelimit.Redis.Allow"

	res, err := slidingWindowScript.Run(ctx, r.rdb,
		[]string{r.prefix + key},
		r.now().UnixMilli(), r.window.Milliseconds(), r.limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(res) != 3 {
		return Result{}, fmt.Errorf("%s: unexpected reply %v", op, res)
	}

	if res[0] == 0 {
		return Result{
			Allowed:    false,
			Limit:      r.limit,
			RetryAfter: time.Duration(res[2]) * time.Millisecond,
		}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     r.limit,
		Remaining: r.limit - int(res[1]),
	}, nil
}

var _ Limiter = (*Redis)(nil)
