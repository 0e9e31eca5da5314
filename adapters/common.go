package adapters

import (
	"context"
	"errors"
	"fmt"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking. Reserved for administrative imports.
	AnyVersion int64 = -1

	// NoStream requires the aggregate to have no events yet.
	NoStream int64 = 0
)

// ConcurrencyError provides details about a concurrency conflict.
// It is returned when an optimistic concurrency check fails during Append.
type ConcurrencyError struct {
	AggregateID     string
	ExpectedVersion int64
	ActualVersion   int64
}

// NewConcurrencyError creates a new ConcurrencyError.
func NewConcurrencyError(aggregateID string, expected, actual int64) *ConcurrencyError {
	return &ConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// Error implements the error interface.
func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("orderstream: concurrency conflict on aggregate %q: expected version %d, got %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// Is implements errors.Is compatibility.
// Returns true when compared with ErrConcurrencyConflict.
func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

// StoreError wraps a backend failure. It matches ErrStoreUnavailable.
type StoreError struct {
	Op    string
	Cause error
}

// NewStoreError creates a new StoreError for the named operation.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Cause: cause}
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("orderstream: store unavailable during %s: %v", e.Op, e.Cause)
}

// Is implements errors.Is compatibility.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

// Unwrap returns the backend error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WrapStoreError converts a backend error into a StoreError unless it already
// carries one of the adapter-level sentinels callers need to distinguish.
// Context cancellation and deadlines belong to the caller and pass through.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrConcurrencyConflict),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrAdapterClosed),
		errors.Is(err, ErrEmptyAggregateID),
		errors.Is(err, ErrNoEvents),
		errors.Is(err, ErrInvalidVersion),
		errors.Is(err, ErrRecordNotFound),
		errors.Is(err, ErrStaleRecord),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return NewStoreError(op, err)
}

// CheckVersion validates the expected version against the current version.
// This implements the optimistic concurrency control logic shared by all adapters.
// Adapters must call it inside the same critical section (lock or transaction)
// that performs the write.
func CheckVersion(aggregateID string, expected, current int64) error {
	switch {
	case expected == AnyVersion:
		return nil
	case expected < 0:
		return ErrInvalidVersion
	case current != expected:
		return NewConcurrencyError(aggregateID, expected, current)
	}
	return nil
}

// ValidateAppend performs the argument checks shared by all adapters.
func ValidateAppend(aggregateID string, events []EventRecord, expectedVersion int64) error {
	if aggregateID == "" {
		return ErrEmptyAggregateID
	}
	if len(events) == 0 {
		return ErrNoEvents
	}
	if expectedVersion < AnyVersion {
		return ErrInvalidVersion
	}
	return nil
}

// Page applies the filter's offset and limit to an already ordered slice.
func Page[T any](items []T, filter RecordFilter) []T {
	if filter.Offset > 0 {
		if filter.Offset >= len(items) {
			return []T{}
		}
		items = items[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(items) {
		items = items[:filter.Limit]
	}
	return items
}

// CopyRecord creates a deep copy of an OrderRecord.
// This is useful to avoid external mutations of stored records.
func CopyRecord(record *OrderRecord) *OrderRecord {
	if record == nil {
		return nil
	}
	cp := *record
	if record.Items != nil {
		cp.Items = append(cp.Items[:0:0], record.Items...)
	}
	return &cp
}

// CopyStoredEvent returns a copy of event that shares no memory with it.
func CopyStoredEvent(event StoredEvent) StoredEvent {
	cp := event
	if event.Data != nil {
		cp.Data = append([]byte(nil), event.Data...)
	}
	if event.Metadata.Custom != nil {
		cp.Metadata.Custom = make(map[string]string, len(event.Metadata.Custom))
		for k, v := range event.Metadata.Custom {
			cp.Metadata.Custom[k] = v
		}
	}
	return cp
}
