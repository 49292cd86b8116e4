// Package redis provides a Redis implementation of storage.Store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/triage-garden/internal/storage"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "triagegarden:state:"

// Config contains Redis connection configuration.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store implements storage.Store on Redis string keys.
type Store struct {
	client *goredis.Client
	prefix string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}, nil
}

// Key returns the fully qualified Redis key for a record.
func (s *Store) Key(key string) string {
	return s.prefix + key
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.Key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get state record: %w", err)
	}
	return value, nil
}

// Put stores the record without expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.Key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("put state record: %w", err)
	}
	return nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.Key(key)).Err(); err != nil {
		return fmt.Errorf("delete state record: %w", err)
	}
	return nil
}

// Ping checks Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
