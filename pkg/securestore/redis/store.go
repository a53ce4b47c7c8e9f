// Package redis is a securestore driver for processes that share a session
// through Redis.
package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/rbs/pkg/securestore"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces keys written by the SDK.
const DefaultPrefix = "rbs:"

type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ securestore.Store = (*Store)(nil)

// NewStore wraps client. An empty prefix uses DefaultPrefix.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Dial connects to a single Redis node and verifies it responds. An empty
// prefix uses DefaultPrefix.
func Dial(ctx context.Context, addr, password string, db int, prefix string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(client, prefix), nil
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, securestore.ErrInvalidKey
	}

	result, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, securestore.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return result, nil
}

// Set stores value without a TTL; token expiry is decided by the session.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return securestore.ErrInvalidKey
	}
	if err := s.client.Set(ctx, s.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return securestore.ErrInvalidKey
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
