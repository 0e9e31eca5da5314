package orderstream

import (
	"context"
	"time"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Metadata contains contextual information about an event.
type Metadata = adapters.Metadata

// Event is a stored event with its payload decoded.
type Event struct {
	// ID is the store-assigned unique identifier.
	ID string

	AggregateID string
	Type        order.EventType

	// Sequence is the 1-based position within the aggregate's history.
	Sequence int64

	// GlobalPosition orders events across all aggregates.
	GlobalPosition uint64

	OccurredAt time.Time
	RecordedAt time.Time
	Metadata   Metadata
	Payload    order.Event
}

// Envelope returns the event in the form the aggregate folds.
func (e Event) Envelope() order.Envelope {
	return order.Envelope{
		AggregateID: e.AggregateID,
		Sequence:    e.Sequence,
		OccurredAt:  e.OccurredAt,
		Payload:     e.Payload,
	}
}

// Envelopes converts events to envelopes, preserving order.
func Envelopes(events []Event) []order.Envelope {
	envs := make([]order.Envelope, len(events))
	for i, e := range events {
		envs[i] = e.Envelope()
	}
	return envs
}

type metadataKey struct{}

// ContextWithMetadata returns a context whose appends carry m.
func ContextWithMetadata(ctx context.Context, m Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, m)
}

// MetadataFromContext returns the metadata set by ContextWithMetadata.
func MetadataFromContext(ctx context.Context) Metadata {
	if m, ok := ctx.Value(metadataKey{}).(Metadata); ok {
		return m
	}
	return Metadata{}
}
