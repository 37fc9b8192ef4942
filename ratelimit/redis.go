package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisLimiter is a fixed-window counter shared by every server instance.
// When Redis is unreachable it degrades to the fallback limiter.
type RedisLimiter struct {
	client   *redis.Client
	scope    string
	limit    int
	window   time.Duration
	fallback Limiter
	log      *zap.Logger
	now      func() time.Time
}

func NewRedisLimiter(client *redis.Client, scope string, limit int, window time.Duration, fallback Limiter, log *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:   client,
		scope:    scope,
		limit:    limit,
		window:   window,
		fallback: fallback,
		log:      log,
		now:      time.Now,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%s:%d", l.scope, key, windowStart.Unix())

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		if l.fallback == nil {
			return Decision{}, err
		}
		l.log.Warn("redis rate limiter unavailable, using fallback", zap.String("scope", l.scope), zap.Error(err))
		return l.fallback.Allow(ctx, key)
	}

	if incr.Val() > int64(l.limit) {
		retryAfter := windowStart.Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true}, nil
}
