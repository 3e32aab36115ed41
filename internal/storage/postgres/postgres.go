// Package postgres is the remote document store shared between machines.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"techsheet/internal/storage"
)

type Config struct {
	ConnectionString string
	MaxConnections   int32
	ConnectTimeout   time.Duration
}

type Store struct {
	pool *pgxpool.Pool
}

var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Timestamped = (*Store)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS techsheet_documents (
	key        TEXT PRIMARY KEY,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Open connects, pings and creates the table when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 4
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(timeoutCtx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO techsheet_documents (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, string(value), time.Now().UTC(),
	)
	return err
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, storage.ErrEmptyKey
	}
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value::text FROM techsheet_documents WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(value), nil
}

// UpdatedAt reports when a key was last written, by the writer's clock so
// it compares with the local store.
func (s *Store) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var ts time.Time
	err := s.pool.QueryRow(ctx, `SELECT updated_at FROM techsheet_documents WHERE key = $1`, key).Scan(&ts)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return storage.ErrEmptyKey
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM techsheet_documents WHERE key = $1`, key)
	return err
}
