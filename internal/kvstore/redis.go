package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

var errMissingRedisClient = errors.New("kvstore: redis client is required")

// RedisStore implements Store with a pooled go-redis client that is safe for concurrent use.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses a redis:// URL and builds a client for it.
func NewRedisStore(rawURL string) (*RedisStore, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return nil, fmt.Errorf("kvstore: redis url is required")
	}
	options, err := redis.ParseURL(trimmed)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(options))
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("kvstore: get %q: %w", key, err)
	}
	return value, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: exists %q: %w", key, err)
	}
	return count > 0, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key, value string) (bool, error) {
	created, err := s.client.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: set if absent %q: %w", key, err)
	}
	return created, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) (bool, error) {
	if len(fields) == 0 {
		return false, ErrEmptyHash
	}
	values := make([]any, 0, len(fields)*2)
	for field, value := range fields {
		values = append(values, field, value)
	}
	if err := s.client.HSet(ctx, key, values...).Err(); err != nil {
		return false, fmt.Errorf("kvstore: hash set %q: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("kvstore: hash get all %q: %w", key, err)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
