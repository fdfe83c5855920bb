package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"endless-chat/internal/domain"
	"endless-chat/internal/domain/ports/repository"
)

var _ repository.KeyValueStore = (*KVStore)(nil)

// KVStore keeps the session keys under a common prefix and refreshes
// their TTL on every write.
type KVStore struct {
	client RedisClient
	prefix string
	ttl    time.Duration
}

func NewKVStore(client RedisClient, prefix string, ttl time.Duration) *KVStore {
	return &KVStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.prefix+key)
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return []byte(v), nil
}

func (s *KVStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
