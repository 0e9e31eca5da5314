package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/AshkanYarmoradi/orderstream/adapters"
)

// Ensure interface compliance at compile time.
var _ adapters.ProjectionStore = (*ProjectionStore)(nil)

// ProjectionStore provides an in-memory implementation of adapters.ProjectionStore.
type ProjectionStore struct {
	mu      sync.RWMutex
	records map[string]*adapters.OrderRecord
}

// NewProjectionStore creates a new in-memory projection store.
func NewProjectionStore() *ProjectionStore {
	return &ProjectionStore{
		records: make(map[string]*adapters.OrderRecord),
	}
}

// Upsert creates or overwrites the record keyed by OrderID unless the stored
// record has a higher version.
func (s *ProjectionStore) Upsert(ctx context.Context, record *adapters.OrderRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record == nil || record.OrderID == "" {
		return adapters.ErrEmptyAggregateID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.records[record.OrderID]; ok && current.Version > record.Version {
		return adapters.ErrStaleRecord
	}
	s.records[record.OrderID] = adapters.CopyRecord(record)
	return nil
}

// Get returns a copy of the record, or ErrRecordNotFound.
func (s *ProjectionStore) Get(ctx context.Context, orderID string) (*adapters.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[orderID]
	if !ok {
		return nil, adapters.ErrRecordNotFound
	}
	return adapters.CopyRecord(record), nil
}

// List returns copies of the records matching the filter, ordered by OrderID.
func (s *ProjectionStore) List(ctx context.Context, filter adapters.RecordFilter) ([]*adapters.OrderRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*adapters.OrderRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.Matches(record) {
			result = append(result, adapters.CopyRecord(record))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OrderID < result[j].OrderID
	})

	return adapters.Page(result, filter), nil
}

// Delete removes a record.
func (s *ProjectionStore) Delete(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, orderID)
	return nil
}

// Clear removes all records.
func (s *ProjectionStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*adapters.OrderRecord)
	return nil
}

// Len returns the number of stored records.
func (s *ProjectionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
