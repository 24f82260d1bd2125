package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore implements Store in process memory
type MemoryStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[namespaced(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Set implements Store
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	return m.Batch(ctx, []Op{SetOp(key, value)})
}

// Delete implements Store
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	return m.Batch(ctx, []Op{DeleteOp(key)})
}

// Batch implements Store; operations are validated before any is applied
func (m *MemoryStore) Batch(ctx context.Context, ops []Op) error {
	for _, op := range ops {
		if op.Type != OpSet && op.Type != OpDelete {
			return fmt.Errorf("unknown batch operation %d", op.Type)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		key := namespaced(op.Key)
		if op.Type == OpSet {
			value := make([]byte, len(op.Value))
			copy(value, op.Value)
			m.data[key] = value
		} else {
			delete(m.data, key)
		}
	}
	return nil
}

// Keys returns the stored keys without the namespace prefix, sorted
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k[len(KeyPrefix):])
	}
	sort.Strings(keys)
	return keys
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
