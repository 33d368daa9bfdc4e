package clientstate

import (
	"context"
	"time"

	"nutri-auth/pkg/redis"
)

// RedisStore keeps client state in Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Store backed by client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key)
	if redis.IsNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl)
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl)
}

// Delete issues a single DEL, which Redis applies atomically
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	return s.client.Delete(ctx, keys...)
}
