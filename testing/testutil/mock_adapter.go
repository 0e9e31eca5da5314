package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
)

// MockAdapter wraps an in-memory adapter and injects errors per operation.
// Zero-valued error fields pass the call through to the in-memory adapter.
type MockAdapter struct {
	mu sync.Mutex

	AppendErr         error
	LoadErr           error
	LoadByTypeErr     error
	LoadInRangeErr    error
	CurrentVersionErr error
	AggregateIDsErr   error

	// BeforeAppend runs before every Append reaches the backing adapter.
	BeforeAppend func(aggregateID string, expectedVersion int64)

	// BeforeDelete runs before every DeleteStream reaches the backing adapter.
	BeforeDelete func(aggregateID string, expectedVersion int64)

	AppendCalls int

	backing *memory.MemoryAdapter
}

// Ensure MockAdapter implements the adapter interfaces.
var (
	_ adapters.EventStoreAdapter = (*MockAdapter)(nil)
	_ adapters.Purger            = (*MockAdapter)(nil)
)

// NewMockAdapter creates a MockAdapter over a fresh in-memory adapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{backing: memory.NewAdapter()}
}

// Backing returns the wrapped in-memory adapter.
func (m *MockAdapter) Backing() *memory.MemoryAdapter {
	return m.backing
}

// SetAppendErr changes the error returned by Append.
func (m *MockAdapter) SetAppendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendErr = err
}

// Append implements adapters.EventStoreAdapter.
func (m *MockAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	m.mu.Lock()
	m.AppendCalls++
	err := m.AppendErr
	hook := m.BeforeAppend
	m.mu.Unlock()

	if hook != nil {
		hook(aggregateID, expectedVersion)
	}
	if err != nil {
		return nil, err
	}
	return m.backing.Append(ctx, aggregateID, events, expectedVersion)
}

// Load implements adapters.EventStoreAdapter.
func (m *MockAdapter) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.backing.Load(ctx, aggregateID, fromSequence)
}

// LoadByType implements adapters.EventStoreAdapter.
func (m *MockAdapter) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	if m.LoadByTypeErr != nil {
		return nil, m.LoadByTypeErr
	}
	return m.backing.LoadByType(ctx, eventType)
}

// LoadInRange implements adapters.EventStoreAdapter.
func (m *MockAdapter) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	if m.LoadInRangeErr != nil {
		return nil, m.LoadInRangeErr
	}
	return m.backing.LoadInRange(ctx, start, end)
}

// CurrentVersion implements adapters.EventStoreAdapter.
func (m *MockAdapter) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if m.CurrentVersionErr != nil {
		return 0, m.CurrentVersionErr
	}
	return m.backing.CurrentVersion(ctx, aggregateID)
}

// AggregateIDs implements adapters.EventStoreAdapter.
func (m *MockAdapter) AggregateIDs(ctx context.Context) ([]string, error) {
	if m.AggregateIDsErr != nil {
		return nil, m.AggregateIDsErr
	}
	return m.backing.AggregateIDs(ctx)
}

// DeleteStream implements adapters.Purger.
func (m *MockAdapter) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	if m.BeforeDelete != nil {
		m.BeforeDelete(aggregateID, expectedVersion)
	}
	return m.backing.DeleteStream(ctx, aggregateID, expectedVersion)
}

// Initialize implements adapters.EventStoreAdapter.
func (m *MockAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Close implements adapters.EventStoreAdapter.
func (m *MockAdapter) Close() error {
	return m.backing.Close()
}
