package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/consultly/internal/config"
	"go.uber.org/fx"
)

// Module provides the redis client, token bucket and lease locker. Without
// REDIS_ADDR every provider yields nil and callers run unlimited.
var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		func(client *redis.Client) *TokenBucket {
			if client == nil {
				return nil
			}
			return NewTokenBucket(client)
		},
		func(client *redis.Client) *Locker {
			if client == nil {
				return nil
			}
			return NewLocker(client)
		},
	),
)

func NewRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}
