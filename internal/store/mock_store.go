// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	calls map[string]*CallRecord // keyed by call ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		calls: make(map[string]*CallRecord),
	}
}

// RecordCall stores a copy of rec.
func (m *MockStore) RecordCall(_ context.Context, rec *CallRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.calls[rec.ID] = &cp
	return nil
}

// GetCall returns a copy of the record or ErrNotFound.
func (m *MockStore) GetCall(_ context.Context, id string) (*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.calls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListCalls returns records newest first.
func (m *MockStore) ListCalls(_ context.Context, limit int) ([]*CallRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*CallRecord, 0, len(m.calls))
	for _, rec := range m.calls {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op.
func (m *MockStore) Close() error { return nil }

var _ Store = (*MockStore)(nil)
