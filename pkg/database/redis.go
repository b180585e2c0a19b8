// ==============================================
// pkg/database/redis.go
// ==============================================
package database

import (
	"context"
	"fmt"
	"sync"

	"vidmatch/internal/config"
	"vidmatch/pkg/logger"

	"github.com/redis/go-redis/v9"
)

var (
	redisClient *redis.Client
	redisOnce   sync.Once
)

// InitRedis initializes the Redis connection
func InitRedis(cfg config.RedisConfig) error {
	var err error

	redisOnce.Do(func() {
		redisClient, err = ConnectRedis(cfg)
	})

	return err
}

// ConnectRedis builds a client from REDIS_URL and verifies the connection
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"addr": opts.Addr,
		"db":   opts.DB,
	}).Info("Connected to Redis")
	return c, nil
}

// GetRedis returns the Redis client
func GetRedis() *redis.Client {
	if redisClient == nil {
		logger.Fatal("Redis not initialized. Call InitRedis first.")
	}
	return redisClient
}

// CloseRedis closes the Redis connection
func CloseRedis() error {
	if redisClient != nil {
		return redisClient.Close()
	}
	return nil
}

