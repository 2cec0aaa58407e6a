// Package cache wraps Redis for lookup caching and short-lived processing locks.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis configuration
type Config struct {
	Addr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
	Prefix   string `envconfig:"REDIS_KEY_PREFIX" default:"payplatform:"`
}

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Client is a JSON cache and lock helper over go-redis.
type Client struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	logger.Info("redis connection established", "addr", cfg.Addr)
	return NewWithClient(rdb, cfg.Prefix, logger), nil
}

// NewWithClient wraps an existing go-redis client.
func NewWithClient(rdb *redis.Client, prefix string, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, prefix: prefix, logger: logger}
}

// Close closes the underlying client
func (c *Client) Close() error {
	return c.rdb.Close()
}

// HealthCheck pings Redis
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetJSON decodes the cached value at key into v.
func (c *Client) GetJSON(ctx context.Context, key string, v any) error {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return nil
}

// SetJSON stores v at key with a TTL.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, c.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// TryLock takes a best-effort lease on key. The returned release func is a no-op when not acquired.
func (c *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	lockKey := c.prefix + "lock:" + key
	ok, err := c.rdb.SetNX(ctx, lockKey, "1", ttl).Result()
	if err != nil {
		return false, func() {}, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !ok {
		return false, func() {}, nil
	}
	return true, func() {
		if err := c.rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
			c.logger.Warn("failed to release lock", "key", key, "error", err)
		}
	}, nil
}
