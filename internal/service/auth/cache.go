package auth

import (
	"context"
	"strconv"
	"time"

	redisSvc "haine/internal/service/redis"

	"github.com/redis/go-redis/v9"
)

const tokenKeyPrefix = "haine:token:"

// RedisTokenCache keeps token to user id lookups off the primary store.
type RedisTokenCache struct {
	redis *redisSvc.RedisService
	ttl   time.Duration
}

func NewRedisTokenCache(redis *redisSvc.RedisService, ttl time.Duration) *RedisTokenCache {
	return &RedisTokenCache{redis: redis, ttl: ttl}
}

func (c *RedisTokenCache) Get(ctx context.Context, token string) (int64, bool, error) {
	v, err := c.redis.Get(ctx, tokenKeyPrefix+token)
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, userID int64) error {
	return c.redis.Set(ctx, tokenKeyPrefix+token, strconv.FormatInt(userID, 10), c.ttl)
}
