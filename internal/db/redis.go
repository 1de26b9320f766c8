/**
 * @description
 * Redis connection manager using go-redis.
 * Backs vote guards, ballot receipt caching, sweep locks and the leaderboard.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9
 */

package db

import (
	"context"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/swarmbet/backend/internal/config"
	"github.com/swarmbet/backend/internal/logger"
)

// ConnectRedis initializes the Redis client
func ConnectRedis(cfg *config.Config) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}

	if opt.ReadTimeout == 0 {
		opt.ReadTimeout = 5 * time.Second
	}
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = 5 * time.Second
	}
	if opt.DialTimeout == 0 {
		opt.DialTimeout = 5 * time.Second
	}
	if opt.PoolTimeout == 0 {
		opt.PoolTimeout = 5 * time.Second
	}
	if opt.MaxRetries == 0 {
		opt.MaxRetries = 2
	}
	if opt.MinRetryBackoff == 0 {
		opt.MinRetryBackoff = 200 * time.Millisecond
	}
	if opt.MaxRetryBackoff == 0 {
		opt.MaxRetryBackoff = 2 * time.Second
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 20
	}
	if opt.MinIdleConns == 0 {
		opt.MinIdleConns = 5
	}

	client := redis.NewClient(opt)

	// Ping to verify connection
	ctx := context.Background()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("✅ Connected to Redis")
	return client, nil
}

// ConnectRedisOrEmbedded falls back to an in-process Redis when the configured one is
// unreachable. Meant for one-shot tools, never for long-running services: guards and
// locks held in the embedded instance are invisible to other processes.
func ConnectRedisOrEmbedded(cfg *config.Config) (*redis.Client, func(), error) {
	client, err := ConnectRedis(cfg)
	if err == nil {
		return client, func() { _ = client.Close() }, nil
	}
	logger.Warn("⚠️ Redis unavailable (%v), starting embedded instance", err)

	mr, runErr := miniredis.Run()
	if runErr != nil {
		return nil, nil, runErr
	}
	client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}
