// Package adapters provides interfaces for event store and projection backends.
package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// Sentinel errors for adapter implementations.
// Adapters should return these (or errors that match via errors.Is)
// to enable consistent error handling across different backends.
var (
	// ErrConcurrencyConflict is returned when optimistic concurrency check fails.
	ErrConcurrencyConflict = errors.New("orderstream: concurrency conflict")

	// ErrStoreUnavailable is returned when the durability layer fails.
	ErrStoreUnavailable = errors.New("orderstream: store unavailable")

	// ErrEmptyAggregateID is returned when an empty aggregate ID is provided.
	ErrEmptyAggregateID = errors.New("orderstream: aggregate ID is required")

	// ErrNoEvents is returned when attempting to append zero events.
	ErrNoEvents = errors.New("orderstream: no events to append")

	// ErrInvalidVersion is returned when an invalid version is specified.
	ErrInvalidVersion = errors.New("orderstream: invalid version")

	// ErrAdapterClosed is returned when operations are attempted on a closed adapter.
	ErrAdapterClosed = errors.New("orderstream: adapter is closed")

	// ErrRecordNotFound is returned when a projection record does not exist.
	ErrRecordNotFound = errors.New("orderstream: projection record not found")

	// ErrStaleRecord is returned by Upsert when the stored record has a higher
	// version than the one being written. The stored record is left untouched.
	ErrStaleRecord = errors.New("orderstream: projection record is newer")
)

// Metadata contains event context for tracing and auditing.
type Metadata struct {
	// CorrelationID links related events across services.
	CorrelationID string `json:"correlationId,omitempty"`

	// CausationID identifies the command or event that caused this event.
	CausationID string `json:"causationId,omitempty"`

	// UserID identifies who triggered this event.
	UserID string `json:"userId,omitempty"`

	// Custom holds any additional metadata.
	Custom map[string]string `json:"custom,omitempty"`
}

// EventRecord represents an event to be appended to an aggregate's stream.
type EventRecord struct {
	// Type is the event type identifier (e.g. "OrderPaid").
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains optional contextual information.
	Metadata Metadata

	// OccurredAt is when the fact happened, assigned by the aggregate.
	OccurredAt time.Time
}

// StoredEvent represents a persisted event with its storage metadata.
type StoredEvent struct {
	// ID is the unique event identifier.
	ID string

	// AggregateID is the aggregate this event belongs to.
	AggregateID string

	// Type is the event type identifier.
	Type string

	// Data is the serialized event payload.
	Data []byte

	// Metadata contains contextual information.
	Metadata Metadata

	// Sequence is the position within the aggregate's history (1-based, contiguous).
	Sequence int64

	// GlobalPosition is the ordering position across all aggregates.
	GlobalPosition uint64

	// OccurredAt is when the fact happened.
	OccurredAt time.Time

	// RecordedAt is when the event was written to the store.
	RecordedAt time.Time
}

// EventStoreAdapter is the interface that storage backends must implement.
type EventStoreAdapter interface {
	// Append stores events for the aggregate with optimistic concurrency control.
	// The version check and the write happen as one atomic operation.
	// expectedVersion specifies the expected current version of the aggregate:
	//   - AnyVersion (-1): skip version check
	//   - NoStream (0): aggregate must have no events
	//   - any positive number: aggregate must be at exactly this version
	Append(ctx context.Context, aggregateID string, events []EventRecord, expectedVersion int64) ([]StoredEvent, error)

	// Load retrieves events of an aggregate with a sequence greater than fromSequence,
	// in ascending sequence order. Use fromSequence=0 to load the full history.
	// Returns an empty slice if the aggregate has no events.
	Load(ctx context.Context, aggregateID string, fromSequence int64) ([]StoredEvent, error)

	// LoadByType retrieves all events of the given type across aggregates,
	// ordered by global position.
	LoadByType(ctx context.Context, eventType string) ([]StoredEvent, error)

	// LoadInRange retrieves all events whose OccurredAt lies in [start, end],
	// ordered by global position.
	LoadInRange(ctx context.Context, start, end time.Time) ([]StoredEvent, error)

	// CurrentVersion returns the highest sequence of the aggregate, 0 if none.
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)

	// AggregateIDs returns every distinct aggregate ID known to the store, sorted.
	AggregateIDs(ctx context.Context) ([]string, error)

	// Initialize sets up the required storage schema.
	Initialize(ctx context.Context) error

	// Close releases any resources held by the adapter.
	Close() error
}

// Purger is implemented by adapters that support administrative retention cleanup.
// It is never used on the command path.
type Purger interface {
	// DeleteStream removes every event of the aggregate and returns the number
	// removed. The delete only happens if the aggregate is still at
	// expectedVersion, checked atomically with the delete; otherwise it returns
	// a ConcurrencyError and removes nothing. AnyVersion skips the check.
	DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error)
}

// HealthChecker provides health check capabilities.
type HealthChecker interface {
	// Ping checks if the adapter can reach its backend.
	Ping(ctx context.Context) error
}

// OrderRecord is the denormalized projection row of one order.
type OrderRecord struct {
	OrderID              string              `json:"orderId"`
	Status               order.Status        `json:"status"`
	CustomerID           string              `json:"customerId"`
	Items                []order.LineItem    `json:"items"`
	TotalAmount          decimal.Decimal     `json:"totalAmount"`
	ShippingAddress      string              `json:"shippingAddress"`
	PaymentMethod        string              `json:"paymentMethod,omitempty"`
	TransactionID        string              `json:"transactionId,omitempty"`
	TrackingNumber       string              `json:"trackingNumber,omitempty"`
	Carrier              string              `json:"carrier,omitempty"`
	DeliveryConfirmation string              `json:"deliveryConfirmation,omitempty"`
	CancellationReason   string              `json:"cancellationReason,omitempty"`
	RefundAmount         decimal.NullDecimal `json:"refundAmount"`
	RefundReason         string              `json:"refundReason,omitempty"`
	Version              int64               `json:"version"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// RecordFilter narrows a projection listing.
// Zero values mean "no constraint".
type RecordFilter struct {
	Status     order.Status
	CustomerID string

	// UpdatedBefore keeps records whose UpdatedAt is strictly before the given time.
	UpdatedBefore time.Time

	Limit  int
	Offset int
}

// Matches reports whether the record satisfies the filter's predicates.
// Limit and Offset are not considered.
func (f RecordFilter) Matches(r *OrderRecord) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.CustomerID != "" && r.CustomerID != f.CustomerID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// ProjectionStore persists order projection records.
// Implementations must return records ordered by OrderID from List.
type ProjectionStore interface {
	// Upsert creates or overwrites the record keyed by OrderID. A stored record
	// with a higher Version is kept and ErrStaleRecord is returned, so writes
	// that finish out of order never move a record backwards.
	Upsert(ctx context.Context, record *OrderRecord) error

	// Get returns the record, or ErrRecordNotFound.
	Get(ctx context.Context, orderID string) (*OrderRecord, error)

	// List returns the records matching the filter, ordered by OrderID.
	List(ctx context.Context, filter RecordFilter) ([]*OrderRecord, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, orderID string) error

	// Clear removes all records.
	Clear(ctx context.Context) error
}
