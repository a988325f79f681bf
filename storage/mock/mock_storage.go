// Package mock provides a mock implementation of storage.PendingRequestStore for testing.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/oidc-engine/storage"
)

// SetCall records the arguments of a Set invocation
type SetCall struct {
	Key       string
	Value     []byte
	ExpiresAt time.Time
}

// MockPendingRequestStore is a mock implementation of PendingRequestStore for testing.
// The default functions behave like a map without expiry; override them to inject failures.
type MockPendingRequestStore struct {
	mu      sync.RWMutex
	entries map[string][]byte

	GetFunc    func(ctx context.Context, key string) ([]byte, error)
	SetFunc    func(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	RemoveFunc func(ctx context.Context, key string) error

	CallCounts map[string]int
	SetCalls   []SetCall
	Removed    []string
}

var _ storage.PendingRequestStore = (*MockPendingRequestStore)(nil)

// NewMockPendingRequestStore creates a new mock pending request store
func NewMockPendingRequestStore() *MockPendingRequestStore {
	m := &MockPendingRequestStore{
		entries:    make(map[string][]byte),
		CallCounts: make(map[string]int),
	}

	// Set default implementations
	m.GetFunc = func(_ context.Context, key string) ([]byte, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		value, ok := m.entries[key]
		if !ok {
			return nil, storage.ErrNotFound
		}
		return value, nil
	}

	m.SetFunc = func(_ context.Context, key string, value []byte, _ time.Time) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.entries[key] = value
		return nil
	}

	m.RemoveFunc = func(_ context.Context, key string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.entries, key)
		return nil
	}

	return m
}

// Get calls GetFunc
func (m *MockPendingRequestStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.record("Get")
	return m.GetFunc(ctx, key)
}

// Set calls SetFunc
func (m *MockPendingRequestStore) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	m.mu.Lock()
	m.CallCounts["Set"]++
	m.SetCalls = append(m.SetCalls, SetCall{Key: key, Value: value, ExpiresAt: expiresAt})
	m.mu.Unlock()
	return m.SetFunc(ctx, key, value, expiresAt)
}

// Remove calls RemoveFunc
func (m *MockPendingRequestStore) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	m.CallCounts["Remove"]++
	m.Removed = append(m.Removed, key)
	m.mu.Unlock()
	return m.RemoveFunc(ctx, key)
}

// Put stores a raw value directly, bypassing call recording
func (m *MockPendingRequestStore) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
}

// Raw returns the raw value stored under key
func (m *MockPendingRequestStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.entries[key]
	return value, ok
}

// Len returns the number of stored entries
func (m *MockPendingRequestStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Calls returns how often method was invoked
func (m *MockPendingRequestStore) Calls(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.CallCounts[method]
}

func (m *MockPendingRequestStore) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCounts[method]++
}
