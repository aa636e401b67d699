package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const (
	redisConnectAttempts = 5
	redisRetryDelay      = time.Second
)

// NewRedisClient creates a Redis client and waits for the server to answer.
// Connection attempts are retried so the service survives Redis starting
// slightly after it.
func NewRedisClient(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	// Worker BLPOPs hold a connection each; keep room for request traffic.
	if opt.PoolSize == 0 {
		opt.PoolSize = 32
	}

	rdb := redis.NewClient(opt)

	for attempt := 1; ; attempt++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			break
		}
		if attempt == redisConnectAttempts || ctx.Err() != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("Redis not ready, retrying")

		select {
		case <-ctx.Done():
		case <-time.After(redisRetryDelay * time.Duration(attempt)):
		}
	}

	log.Info().
		Str("addr", opt.Addr).
		Int("db", opt.DB).
		Int("pool_size", opt.PoolSize).
		Msg("Redis connected")

	return rdb, nil
}
