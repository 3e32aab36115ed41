// Package storage persists the learner's JSON snapshots under string keys.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrEmptyKey = errors.New("storage: empty key")
)

// Store is a key/value document store. Values are opaque JSON documents.
type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Timestamped stores report when a key was last written. The gateway uses
// it to pick the newer copy when both stores hold a key.
type Timestamped interface {
	UpdatedAt(ctx context.Context, key string) (time.Time, error)
}

// MemoryStore keeps documents in process. It backs tests and runs without
// a configured database.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string][]byte
	updated map[string]time.Time
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string][]byte),
		updated: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *MemoryStore) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = append([]byte(nil), value...)
	m.updated[key] = m.now().UTC()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, key)
	delete(m.updated, key)
	return nil
}

func (m *MemoryStore) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.updated[key]
	if !ok {
		return time.Time{}, ErrNotFound
	}
	return ts, nil
}

func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.docs))
	for k := range m.docs {
		keys = append(keys, k)
	}
	return keys
}
