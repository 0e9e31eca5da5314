package orderstream

import (
	"context"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// EventStore is the typed entry point to the append-only event log.
// It serializes order events for the adapter and decodes them on the way back.
type EventStore struct {
	adapter    adapters.EventStoreAdapter
	serializer Serializer
	logger     Logger
	now        func() time.Time
}

// Option configures an EventStore.
type Option func(*EventStore)

// WithSerializer sets a custom serializer.
func WithSerializer(s Serializer) Option {
	return func(es *EventStore) {
		es.serializer = s
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(es *EventStore) {
		es.logger = l
	}
}

// WithStoreClock sets the clock used for envelopes that carry no occurrence time.
func WithStoreClock(now func() time.Time) Option {
	return func(es *EventStore) {
		es.now = now
	}
}

// New creates a new EventStore with the given adapter and options.
func New(adapter adapters.EventStoreAdapter, opts ...Option) *EventStore {
	es := &EventStore{
		adapter:    adapter,
		serializer: NewJSONSerializer(),
		logger:     &noopLogger{},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(es)
	}

	return es
}

// Serializer returns the event store's serializer.
func (s *EventStore) Serializer() Serializer {
	return s.serializer
}

// Adapter returns the underlying adapter.
func (s *EventStore) Adapter() adapters.EventStoreAdapter {
	return s.adapter
}

// Append stores one event for the aggregate and returns its event ID.
// The append succeeds only if the aggregate's current version equals
// expectedVersion; otherwise it fails with a ConcurrencyError.
func (s *EventStore) Append(ctx context.Context, aggregateID string, env order.Envelope, expectedVersion int64) (string, error) {
	stored, err := s.AppendAll(ctx, aggregateID, []order.Envelope{env}, expectedVersion)
	if err != nil {
		return "", err
	}
	return stored[0].ID, nil
}

// AppendAll stores a batch of events atomically: either all of them are
// written at expectedVersion+1.. or none is.
func (s *EventStore) AppendAll(ctx context.Context, aggregateID string, envs []order.Envelope, expectedVersion int64) ([]Event, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	if len(envs) == 0 {
		return nil, ErrNoEvents
	}

	metadata := MetadataFromContext(ctx)
	records := make([]adapters.EventRecord, len(envs))
	for i, env := range envs {
		if env.AggregateID != "" && env.AggregateID != aggregateID {
			return nil, fmt.Errorf("%w: %q appended to %q", ErrAggregateMismatch, env.AggregateID, aggregateID)
		}
		if env.Payload == nil {
			return nil, fmt.Errorf("orderstream: event %d has no payload: %w", i, ErrNoEvents)
		}

		data, err := s.serializer.Serialize(env.Payload)
		if err != nil {
			return nil, err
		}

		occurredAt := env.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = s.now()
		}

		records[i] = adapters.EventRecord{
			Type:       env.Payload.EventType().String(),
			Data:       data,
			Metadata:   metadata,
			OccurredAt: occurredAt.UTC(),
		}
	}

	stored, err := s.adapter.Append(ctx, aggregateID, records, expectedVersion)
	if err != nil {
		s.logger.Debug("Append rejected", "aggregateId", aggregateID, "expectedVersion", expectedVersion, "error", err)
		return nil, adapters.WrapStoreError("append", err)
	}

	events := make([]Event, len(stored))
	for i, st := range stored {
		events[i] = Event{
			ID:             st.ID,
			AggregateID:    st.AggregateID,
			Type:           order.EventType(st.Type),
			Sequence:       st.Sequence,
			GlobalPosition: st.GlobalPosition,
			OccurredAt:     st.OccurredAt,
			RecordedAt:     st.RecordedAt,
			Metadata:       st.Metadata,
			Payload:        envs[i].Payload,
		}
	}

	s.logger.Debug("Appended events", "aggregateId", aggregateID, "count", len(events),
		"version", events[len(events)-1].Sequence)
	return events, nil
}

// GetEvents returns the aggregate's events in ascending sequence order.
// An aggregate without history yields an empty slice, not an error.
func (s *EventStore) GetEvents(ctx context.Context, aggregateID string) ([]Event, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	stored, err := s.adapter.Load(ctx, aggregateID, 0)
	if err != nil {
		return nil, adapters.WrapStoreError("load", err)
	}
	return s.decode(stored)
}

// AggregateExists reports whether at least one event exists for the aggregate.
func (s *EventStore) AggregateExists(ctx context.Context, aggregateID string) (bool, error) {
	version, err := s.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return false, err
	}
	return version > 0, nil
}

// CurrentVersion returns the aggregate's highest sequence, 0 if it has no events.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if aggregateID == "" {
		return 0, ErrEmptyAggregateID
	}
	version, err := s.adapter.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return 0, adapters.WrapStoreError("current version", err)
	}
	return version, nil
}

// GetEventsByType returns every event of the given type across all aggregates,
// ordered by global position.
func (s *EventStore) GetEventsByType(ctx context.Context, eventType order.EventType) ([]Event, error) {
	stored, err := s.adapter.LoadByType(ctx, eventType.String())
	if err != nil {
		return nil, adapters.WrapStoreError("load by type", err)
	}
	return s.decode(stored)
}

// GetEventsInDateRange returns every event whose occurrence time lies in
// [start, end], both bounds inclusive, ordered by global position.
func (s *EventStore) GetEventsInDateRange(ctx context.Context, start, end time.Time) ([]Event, error) {
	if end.Before(start) {
		return []Event{}, nil
	}
	stored, err := s.adapter.LoadInRange(ctx, start, end)
	if err != nil {
		return nil, adapters.WrapStoreError("load in range", err)
	}
	return s.decode(stored)
}

// AggregateIDs returns every aggregate ID known to the store, sorted.
func (s *EventStore) AggregateIDs(ctx context.Context) ([]string, error) {
	ids, err := s.adapter.AggregateIDs(ctx)
	if err != nil {
		return nil, adapters.WrapStoreError("aggregate ids", err)
	}
	return ids, nil
}

// LoadOrder rebuilds the order from its full history.
// An order without history is returned empty, at version 0.
func (s *EventStore) LoadOrder(ctx context.Context, aggregateID string, opts ...order.Option) (*order.Order, error) {
	events, err := s.GetEvents(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	return order.Rehydrate(aggregateID, Envelopes(events), opts...)
}

// ReplayResult reports the outcome of ReplayEvents.
type ReplayResult struct {
	Success        bool
	EventsReplayed int
	State          order.State
}

// ReplayEvents folds the aggregate's history and returns the result.
// Nothing is written: neither the store nor any projection is touched.
func (s *EventStore) ReplayEvents(ctx context.Context, aggregateID string) (ReplayResult, error) {
	events, err := s.GetEvents(ctx, aggregateID)
	if err != nil {
		return ReplayResult{}, err
	}

	state, err := order.Fold(Envelopes(events))
	if err != nil {
		s.logger.Warn("Replay failed", "aggregateId", aggregateID, "events", len(events), "error", err)
		return ReplayResult{EventsReplayed: len(events)}, err
	}

	return ReplayResult{
		Success:        true,
		EventsReplayed: len(events),
		State:          state,
	}, nil
}

// Initialize prepares the adapter's storage.
func (s *EventStore) Initialize(ctx context.Context) error {
	return s.adapter.Initialize(ctx)
}

// Ping checks the adapter's backend when the adapter supports health checks.
func (s *EventStore) Ping(ctx context.Context) error {
	if hc, ok := s.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Close releases the adapter's resources.
func (s *EventStore) Close() error {
	return s.adapter.Close()
}

func (s *EventStore) decode(stored []adapters.StoredEvent) ([]Event, error) {
	events := make([]Event, len(stored))
	for i, st := range stored {
		payload, err := s.serializer.Deserialize(st.Data, st.Type)
		if err != nil {
			return nil, fmt.Errorf("orderstream: event %s of %q at sequence %d: %w", st.ID, st.AggregateID, st.Sequence, err)
		}
		events[i] = Event{
			ID:             st.ID,
			AggregateID:    st.AggregateID,
			Type:           order.EventType(st.Type),
			Sequence:       st.Sequence,
			GlobalPosition: st.GlobalPosition,
			OccurredAt:     st.OccurredAt,
			RecordedAt:     st.RecordedAt,
			Metadata:       st.Metadata,
			Payload:        payload,
		}
	}
	return events, nil
}
