// Package redis is the shared cache tier: it sits between the process-local
// caches and the durable map store, and carries replicated index location
// metadata between regions. Everything here is best-effort; callers treat a
// failed read as a miss.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenantgrid/index-pipeline/pkg/config"
)

// connectTimeout bounds the startup ping. Services keep booting without the
// shared tier, so failing fast here matters more than being patient.
const connectTimeout = 5 * time.Second

type Client struct {
	rdb *redis.Client
}

// NewClient connects and pings. An unreachable server is an error; callers
// decide whether that degrades the service or stops it.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns the value at key. A missing key surfaces as an error that
// IsNilError recognizes.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores value under key. A zero ttl means no expiry.
func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Del removes the given keys; missing keys are not an error.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsNilError reports whether err means the key was absent rather than the
// read failing.
func IsNilError(err error) bool {
	return errors.Is(err, redis.Nil)
}
