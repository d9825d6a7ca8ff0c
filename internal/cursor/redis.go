package cursor

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// RedisStore keeps cursors as plain string keys, one SET per save.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

// NewRedisStore stores keys as prefix+key. An empty prefix defaults to
// "symptomradar:cursor:".
func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "symptomradar:cursor:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Load(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get cursor %s: %w", key, err)
	}
	id, err := parse(key, raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, id int64) error {
	if err := s.client.Set(ctx, s.prefix+key, format(id), 0).Err(); err != nil {
		return fmt.Errorf("redis set cursor %s: %w", key, err)
	}
	return nil
}
