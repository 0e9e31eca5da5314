package orderstream

import (
	"errors"
	"fmt"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Version constants for optimistic concurrency control.
const (
	// AnyVersion skips version checking. Reserved for administrative imports.
	AnyVersion = adapters.AnyVersion

	// NoStream indicates the aggregate must have no events yet.
	NoStream = adapters.NoStream
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrInvalidStateTransition indicates a command is not allowed from the order's status.
	ErrInvalidStateTransition = order.ErrInvalidStateTransition

	// ErrInvalidArgument indicates a business-rule violation in a command's arguments.
	ErrInvalidArgument = order.ErrInvalidArgument

	// ErrCorruptHistory indicates a stored history that cannot be folded.
	ErrCorruptHistory = order.ErrCorruptHistory

	// ErrUnknownEventType indicates a stored event type with no payload mapping.
	ErrUnknownEventType = order.ErrUnknownEventType

	// ErrConcurrencyConflict indicates an optimistic concurrency violation.
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict

	// ErrStoreUnavailable indicates the durability layer failed.
	ErrStoreUnavailable = adapters.ErrStoreUnavailable

	// ErrEmptyAggregateID indicates an empty aggregate ID was provided.
	ErrEmptyAggregateID = adapters.ErrEmptyAggregateID

	// ErrNoEvents indicates no events were provided for append.
	ErrNoEvents = adapters.ErrNoEvents

	// ErrInvalidVersion indicates an invalid expected version was provided.
	ErrInvalidVersion = adapters.ErrInvalidVersion

	// ErrAdapterClosed indicates the adapter has been closed.
	ErrAdapterClosed = adapters.ErrAdapterClosed

	// ErrStaleRecord indicates a projection write older than the stored entry.
	ErrStaleRecord = adapters.ErrStaleRecord

	// ErrAggregateNotFound indicates a command other than CreateOrder targeted an order with no history.
	ErrAggregateNotFound = errors.New("orderstream: aggregate not found")

	// ErrAggregateMismatch indicates an envelope was appended under another aggregate's ID.
	ErrAggregateMismatch = errors.New("orderstream: envelope belongs to another aggregate")

	// ErrProjectionNotFound indicates the projection has no entry for the order.
	ErrProjectionNotFound = errors.New("orderstream: projection not found")

	// ErrSerializationFailed indicates event serialization/deserialization failed.
	ErrSerializationFailed = errors.New("orderstream: serialization failed")

	// ErrNilCommand indicates a nil command was passed.
	ErrNilCommand = errors.New("orderstream: nil command")

	// ErrHandlerPanicked indicates a command panicked during execution.
	ErrHandlerPanicked = errors.New("orderstream: handler panicked")

	// ErrPurgeNotSupported indicates the adapter cannot delete streams.
	ErrPurgeNotSupported = errors.New("orderstream: adapter does not support purging")
)

// ConcurrencyError provides details about a rejected append.
type ConcurrencyError = adapters.ConcurrencyError

// StoreError wraps a backend failure.
type StoreError = adapters.StoreError

// AggregateNotFoundError provides detailed information about a missing order.
type AggregateNotFoundError struct {
	AggregateID string
	CommandType string
}

// Error returns the error message.
func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("orderstream: cannot %s order %q: no history", e.CommandType, e.AggregateID)
}

// Is reports whether this error matches the target error.
func (e *AggregateNotFoundError) Is(target error) bool {
	return target == ErrAggregateNotFound
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *AggregateNotFoundError) Unwrap() error {
	return ErrAggregateNotFound
}

// NewAggregateNotFoundError creates a new AggregateNotFoundError.
func NewAggregateNotFoundError(aggregateID, commandType string) *AggregateNotFoundError {
	return &AggregateNotFoundError{AggregateID: aggregateID, CommandType: commandType}
}

// SerializationError provides detailed information about a serialization failure.
type SerializationError struct {
	EventType string
	Operation string // "serialize" or "deserialize"
	Cause     error
}

// Error returns the error message.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("orderstream: failed to %s event type %q: %v", e.Operation, e.EventType, e.Cause)
}

// Is reports whether this error matches the target error.
func (e *SerializationError) Is(target error) bool {
	return target == ErrSerializationFailed
}

// Unwrap returns the underlying cause for errors.Unwrap().
func (e *SerializationError) Unwrap() error {
	return e.Cause
}

// NewSerializationError creates a new SerializationError.
func NewSerializationError(eventType, operation string, cause error) *SerializationError {
	return &SerializationError{EventType: eventType, Operation: operation, Cause: cause}
}

// PanicError captures a panic raised while executing a command.
type PanicError struct {
	CommandType string
	Value       interface{}
	Stack       string
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("orderstream: command %q panicked: %v", e.CommandType, e.Value)
}

// Is reports whether this error matches the target error.
func (e *PanicError) Is(target error) bool {
	return target == ErrHandlerPanicked
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *PanicError) Unwrap() error {
	return ErrHandlerPanicked
}

// NewPanicError creates a new PanicError.
func NewPanicError(commandType string, value interface{}, stack string) *PanicError {
	return &PanicError{CommandType: commandType, Value: value, Stack: stack}
}

// IsRetryable reports whether the command may succeed when executed again.
// Only concurrency conflicts qualify; the next attempt reloads the history.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
