package testutil

import (
	"context"
	"sync"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
)

// MockProjectionStore wraps an in-memory projection store and injects errors.
type MockProjectionStore struct {
	mu        sync.Mutex
	upsertErr error
	Upserts   int

	*memory.ProjectionStore
}

// Ensure MockProjectionStore implements adapters.ProjectionStore.
var _ adapters.ProjectionStore = (*MockProjectionStore)(nil)

// NewMockProjectionStore creates a MockProjectionStore over a fresh in-memory store.
func NewMockProjectionStore() *MockProjectionStore {
	return &MockProjectionStore{ProjectionStore: memory.NewProjectionStore()}
}

// FailUpserts makes every following Upsert return err. Pass nil to recover.
func (m *MockProjectionStore) FailUpserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// Upsert implements adapters.ProjectionStore.
func (m *MockProjectionStore) Upsert(ctx context.Context, record *adapters.OrderRecord) error {
	m.mu.Lock()
	m.Upserts++
	err := m.upsertErr
	m.mu.Unlock()

	if err != nil {
		return err
	}
	return m.ProjectionStore.Upsert(ctx, record)
}
