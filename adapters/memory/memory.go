// Package memory provides in-memory implementations of the event store and projection store adapters.
// These adapters are primarily intended for testing and development purposes.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/orderstream/adapters"
)

// Version constants for optimistic concurrency control.
// These are re-exported from the adapters package for convenience.
const (
	AnyVersion = adapters.AnyVersion
	NoStream   = adapters.NoStream
)

// Ensure MemoryAdapter implements all required interfaces.
var (
	_ adapters.EventStoreAdapter = (*MemoryAdapter)(nil)
	_ adapters.Purger            = (*MemoryAdapter)(nil)
	_ adapters.HealthChecker     = (*MemoryAdapter)(nil)
)

// MemoryAdapter is an in-memory implementation of EventStoreAdapter.
// It is thread-safe and suitable for unit testing.
type MemoryAdapter struct {
	mu             sync.RWMutex
	streams        map[string][]adapters.StoredEvent
	globalEvents   []adapters.StoredEvent
	globalPosition uint64
	closed         bool
	now            func() time.Time
}

// Option configures a MemoryAdapter.
type Option func(*MemoryAdapter)

// WithClock sets the clock used for RecordedAt timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *MemoryAdapter) {
		a.now = now
	}
}

// NewAdapter creates a new in-memory event store adapter.
func NewAdapter(opts ...Option) *MemoryAdapter {
	adapter := &MemoryAdapter{
		streams:      make(map[string][]adapters.StoredEvent),
		globalEvents: make([]adapters.StoredEvent, 0),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize is a no-op for the memory adapter.
func (a *MemoryAdapter) Initialize(ctx context.Context) error {
	return nil
}

// Append stores events for the aggregate with optimistic concurrency control.
// The version check and the write share one critical section.
func (a *MemoryAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := adapters.ValidateAppend(aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	stream := a.streams[aggregateID]
	currentVersion := int64(len(stream))

	if err := adapters.CheckVersion(aggregateID, expectedVersion, currentVersion); err != nil {
		return nil, err
	}

	now := a.now().UTC()
	storedEvents := make([]adapters.StoredEvent, len(events))

	for i, event := range events {
		a.globalPosition++
		currentVersion++

		stored := adapters.CopyStoredEvent(adapters.StoredEvent{
			ID:             uuid.New().String(),
			AggregateID:    aggregateID,
			Type:           event.Type,
			Data:           event.Data,
			Metadata:       event.Metadata,
			Sequence:       currentVersion,
			GlobalPosition: a.globalPosition,
			OccurredAt:     event.OccurredAt.UTC(),
			RecordedAt:     now,
		})

		stream = append(stream, stored)
		a.globalEvents = append(a.globalEvents, stored)
		storedEvents[i] = adapters.CopyStoredEvent(stored)
	}

	a.streams[aggregateID] = stream

	return storedEvents, nil
}

// Load retrieves events of an aggregate with a sequence greater than fromSequence.
func (a *MemoryAdapter) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if aggregateID == "" {
		return nil, adapters.ErrEmptyAggregateID
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	events := make([]adapters.StoredEvent, 0)
	for _, event := range a.streams[aggregateID] {
		if event.Sequence > fromSequence {
			events = append(events, adapters.CopyStoredEvent(event))
		}
	}

	return events, nil
}

// LoadByType retrieves every event of the given type in global order.
func (a *MemoryAdapter) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	return a.filter(ctx, func(e adapters.StoredEvent) bool {
		return e.Type == eventType
	})
}

// LoadInRange retrieves every event that occurred in [start, end] in global order.
func (a *MemoryAdapter) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	return a.filter(ctx, func(e adapters.StoredEvent) bool {
		return !e.OccurredAt.Before(start) && !e.OccurredAt.After(end)
	})
}

func (a *MemoryAdapter) filter(ctx context.Context, keep func(adapters.StoredEvent) bool) ([]adapters.StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	events := make([]adapters.StoredEvent, 0)
	for _, event := range a.globalEvents {
		if keep(event) {
			events = append(events, adapters.CopyStoredEvent(event))
		}
	}
	return events, nil
}

// CurrentVersion returns the number of events stored for the aggregate.
func (a *MemoryAdapter) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	return int64(len(a.streams[aggregateID])), nil
}

// AggregateIDs returns every aggregate ID with at least one event, sorted.
func (a *MemoryAdapter) AggregateIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	ids := make([]string, 0, len(a.streams))
	for id := range a.streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteStream removes every event of the aggregate if it is still at
// expectedVersion. The check and the delete share one critical section.
func (a *MemoryAdapter) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, adapters.ErrAdapterClosed
	}

	removed := int64(len(a.streams[aggregateID]))
	if err := adapters.CheckVersion(aggregateID, expectedVersion, removed); err != nil {
		return 0, err
	}
	if removed == 0 {
		return 0, nil
	}
	delete(a.streams, aggregateID)

	kept := a.globalEvents[:0]
	for _, event := range a.globalEvents {
		if event.AggregateID != aggregateID {
			kept = append(kept, event)
		}
	}
	a.globalEvents = kept

	return removed, nil
}

// Close releases any resources held by the adapter.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	return nil
}

// Ping checks if the adapter is healthy.
func (a *MemoryAdapter) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return adapters.ErrAdapterClosed
	}

	return nil
}

// Reset clears all data. Useful for testing.
func (a *MemoryAdapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.streams = make(map[string][]adapters.StoredEvent)
	a.globalEvents = make([]adapters.StoredEvent, 0)
	a.globalPosition = 0
}

// EventCount returns the total number of events stored.
func (a *MemoryAdapter) EventCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.globalEvents)
}

// AggregateCount returns the number of aggregates with events.
func (a *MemoryAdapter) AggregateCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}
