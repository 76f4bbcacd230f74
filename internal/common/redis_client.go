package common

import (
	"context"
	"time"

	"infinite-experiment/logbook/internal/config"
	"infinite-experiment/logbook/internal/logging"

	"github.com/redis/go-redis/v9"
)

func NewRedisClient(cfg config.Redis) *redis.Client {
	log := logging.Component("redis")
	log.Infow("initializing redis client", "addr", cfg.Addr())

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnw("failed to ping redis", "error", err)
		return client // Still return the client, connection pool will try to reconnect
	}

	log.Infow("connected to redis")
	return client
}
