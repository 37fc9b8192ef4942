package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const leaderboardVersionKey = "leaderboard:version"

// LeaderboardCache stores rendered leaderboard pages. Get returns the cache
// version it read so that Set never files a page computed before an
// Invalidate under the newer version.
type LeaderboardCache interface {
	Get(ctx context.Context, q LeaderboardQuery) (page *LeaderboardPage, version string, err error)
	Set(ctx context.Context, q LeaderboardQuery, version string, page *LeaderboardPage) error
	Invalidate(ctx context.Context) error
}

// RedisLeaderboardCache keys pages by a version counter that every accepted
// submission bumps, so pages expire logically on write and physically on TTL.
type RedisLeaderboardCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisLeaderboardCache(client *redis.Client, ttl time.Duration) *RedisLeaderboardCache {
	return &RedisLeaderboardCache{redis: client, ttl: ttl}
}

func (c *RedisLeaderboardCache) Get(ctx context.Context, q LeaderboardQuery) (*LeaderboardPage, string, error) {
	version, err := c.redis.Get(ctx, leaderboardVersionKey).Result()
	if err == redis.Nil {
		version = "0"
	} else if err != nil {
		return nil, "", err
	}

	data, err := c.redis.Get(ctx, pageKey(version, q)).Bytes()
	if err == redis.Nil {
		return nil, version, nil
	}
	if err != nil {
		return nil, version, err
	}

	var page LeaderboardPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, version, fmt.Errorf("failed to unmarshal leaderboard page: %w", err)
	}
	return &page, version, nil
}

func (c *RedisLeaderboardCache) Set(ctx context.Context, q LeaderboardQuery, version string, page *LeaderboardPage) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard page: %w", err)
	}
	return c.redis.Set(ctx, pageKey(version, q), data, c.ttl).Err()
}

func (c *RedisLeaderboardCache) Invalidate(ctx context.Context) error {
	return c.redis.Incr(ctx, leaderboardVersionKey).Err()
}

func pageKey(version string, q LeaderboardQuery) string {
	return fmt.Sprintf("leaderboard:v%s:%s:%d:%d", version, q.Type, q.Limit, q.Offset)
}
