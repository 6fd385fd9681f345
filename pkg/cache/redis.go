// Package cache wraps the redis client used for distributed per-entity locks.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/consigfacil/creditengine/pkg/logger"
)

// Config mirrors config.RedisConfig.
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	MaxPoolSize  int
	ConnTimeout  int
	ReadTimeout  int
	WriteTimeout int
}

// RedisCache holds the client connection.
type RedisCache struct {
	client *redis.Client
	config Config
}

// New connects to redis and verifies the connection.
func New(cfg Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.MaxPoolSize,
		ConnMaxIdleTime: time.Duration(cfg.ConnTimeout) * time.Second,
		ReadTimeout:     time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.WriteTimeout) * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info(context.Background(), "redis connected", "addr", client.Options().Addr)
	return &RedisCache{client: client, config: cfg}, nil
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// AcquireLock takes a best-effort distributed lock on key with the given TTL.
// It returns a release func and ok=false when the lock is already held.
// Release only deletes the key if the token still matches, so an expired lock
// reacquired by another holder is never released by the first one.
func (c *RedisCache) AcquireLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	token := uuid.New().String()
	set, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func() {
		script := redis.NewScript(`
			if redis.call("get", KEYS[1]) == ARGV[1] then
				return redis.call("del", KEYS[1])
			end
			return 0
		`)
		if err := script.Run(context.Background(), c.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
			logger.Warn(context.Background(), "failed to release redis lock", "key", key, "error", err)
		}
	}
	return release, true, nil
}
