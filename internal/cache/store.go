// Package cache provides the content-addressed, versioned, LRU-bounded
// result cache that fronts the extraction pipeline, plus the durable
// key/value stores it persists to.
package cache

import (
	"context"
	"fmt"
	"sync"
)

// Store is the durable storage contract. Any key/value backend satisfying
// this shape is acceptable; the cache persists its full table under a
// single key, so the store needs no enumeration support.
type Store interface {
	// GetItem returns the value for key and whether it exists.
	GetItem(ctx context.Context, key string) (string, bool, error)
	// SetItem writes or replaces the value for key.
	SetItem(ctx context.Context, key, value string) error
	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}

// removeBatchSize caps the number of deletes issued per backend call when
// bulk-cleaning, keeping batched external stores under their per-call
// operation limits.
const removeBatchSize = 100

// RemoveMany deletes keys through the store in bounded chunks.
func RemoveMany(ctx context.Context, s Store, keys []string) error {
	for start := 0; start < len(keys); start += removeBatchSize {
		end := start + removeBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		for _, k := range keys[start:end] {
			if err := s.RemoveItem(ctx, k); err != nil {
				return fmt.Errorf("removing key %s: %w", k, err)
			}
		}
	}
	return nil
}

// MemStore is an in-memory Store for tests and cache-less deployments.
// Safe for concurrent use; persistence flushes run off the request path.
type MemStore struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string]string)}
}

func (m *MemStore) GetItem(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *MemStore) SetItem(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemStore) RemoveItem(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
