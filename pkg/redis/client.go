package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Client struct {
	rdb        *redis.Client
	KeyBuilder *KeyBuilder
	log        *zap.Logger
}

// Nil is returned by Get when the key does not exist
var Nil = redis.Nil

// NewClient creates a new Redis client
func NewClient(redisURL string, environment string, log *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Client{rdb: rdb, KeyBuilder: NewKeyBuilder(environment), log: log}, nil
}

// IsNil reports whether err means "key not found"
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// Get retrieves a value from Redis. A missing key returns Nil.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		c.observe("get", key, start, nil, zap.Bool("hit", false))
		return val, err
	}
	c.observe("get", key, start, err, zap.Bool("hit", err == nil))
	return val, err
}

// Set stores a value in Redis with TTL
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	c.observe("set", key, start, err, zap.Duration("ttl", ttl))
	return err
}

// SetNX sets a value only if it doesn't exist (idempotency flags, migration markers)
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	c.observe("setnx", key, start, err, zap.Bool("result", ok))
	return ok, err
}

// Delete removes keys from Redis. A single DEL is atomic across all keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	c.observe("del", keys[0], start, err, zap.Int("keys", len(keys)))
	return err
}

// Health checks the Redis connection
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	c.observe("ping", "", start, err)
	return err
}

// observe logs one command: failures at Info, everything else at Debug
func (c *Client) observe(op, key string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("key", redactKey(key)),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		c.log.Info("redis_"+op, append(fields, zap.Error(err))...)
		return
	}
	c.log.Debug("redis_"+op, fields...)
}

// redactKey masks the client id and email hash segments of a key so logs
// never tie state to a browser or an address
func redactKey(key string) string {
	parts := strings.Split(key, ":")
	for i := 1; i < len(parts)-1; i++ {
		switch parts[i] {
		case "client":
			parts[i+1] = "*"
		case "email":
			parts[i+1] = "*"
		}
	}
	return strings.Join(parts, ":")
}
