package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/triage-garden/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements storage.Store using PostgreSQL. Values must be JSON documents.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a store on top of an existing pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Pool exposes the underlying pool for metrics collection.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(ctx, `SELECT value FROM state_records WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get state record: %w", err)
	}
	return value, nil
}

// Put inserts or replaces the record stored under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO state_records (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("put state record: %w", err)
	}
	return nil
}

// Delete removes the record stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM state_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete state record: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}
