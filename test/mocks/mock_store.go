package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/mosiko1234/cfa/console/internal/store"
)

// MockStore is an in-memory store.Store with injectable failures
type MockStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	closed   bool
	getErr   error
	setErr   error
	batchErr error
	batches  int
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

// SetGetError makes every Get fail with err
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetSetError makes every Set fail with err
func (m *MockStore) SetSetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// SetBatchError makes every Batch fail with err; nothing is applied
func (m *MockStore) SetBatchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchErr = err
}

// Get implements store.Store
func (m *MockStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	value, exists := m.data[key]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Return a copy to prevent external modification
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set implements store.Store
func (m *MockStore) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements store.Store
func (m *MockStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Batch implements store.Store
func (m *MockStore) Batch(ctx context.Context, ops []store.Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.batchErr != nil {
		return m.batchErr
	}
	m.batches++
	for _, op := range ops {
		switch op.Type {
		case store.OpSet:
			m.data[op.Key] = append([]byte(nil), op.Value...)
		case store.OpDelete:
			delete(m.data, op.Key)
		}
	}
	return nil
}

// Close implements store.Store
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Batches returns the number of applied batches
func (m *MockStore) Batches() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.batches
}

// Keys returns the stored keys, sorted
func (m *MockStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove deletes a key behind the session's back, as another process would
func (m *MockStore) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
}
