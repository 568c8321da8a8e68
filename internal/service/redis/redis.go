package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb redis.UniversalClient
	}
)

func NewRedis(rdb redis.UniversalClient) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// Get returns redis.Nil when the key is absent.
func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}

func (r *RedisService) Publish(ctx context.Context, channel string, message any) error {
	return r.rdb.Publish(ctx, channel, message).Err()
}

// PSubscribe waits for the subscription to be confirmed before returning.
func (r *RedisService) PSubscribe(ctx context.Context, patterns ...string) (*redis.PubSub, error) {
	ps := r.rdb.PSubscribe(ctx, patterns...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}

func (r *RedisService) Close() error {
	return r.rdb.Close()
}
