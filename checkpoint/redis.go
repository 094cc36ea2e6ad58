package checkpoint

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/gradsync/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore keeps each blob under one key. SET replaces a value
// atomically.
func NewRedisStore(client redis.Cmdable, prefix string) Store {
	return &redisStore{client: client, prefix: prefix}
}

func ConnectRedis(addr, password string, db int, prefix string) (Store, *redis.Client) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewRedisStore(client, prefix), client
}

func (s *redisStore) key(name string) string {
	return s.prefix + name
}

func (s *redisStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.client.Set(ctx, s.key(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write redis key %s: %w", s.key(name), err)
	}

	return nil
}

func (s *redisStore) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, fmt.Errorf("redis key %s: %w", s.key(name), pkgerrors.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("failed to read redis key %s: %w", s.key(name), err)
	}

	return data, nil
}
