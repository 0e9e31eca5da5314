package order

import (
	"errors"
	"fmt"
)

// Sentinel errors raised by the aggregate. Use errors.Is to check for them.
var (
	// ErrInvalidStateTransition is returned when a command is not allowed from the current status.
	ErrInvalidStateTransition = errors.New("orderstream: invalid state transition")

	// ErrInvalidArgument is returned when a command violates a business rule.
	ErrInvalidArgument = errors.New("orderstream: invalid argument")

	// ErrCorruptHistory is returned when a history cannot be folded.
	ErrCorruptHistory = errors.New("orderstream: corrupt event history")
)

// TransitionError reports a command issued from a status that does not permit it.
type TransitionError struct {
	Command string
	From    Status
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("orderstream: cannot %s an order in status %s", e.Command, e.From)
}

// Is implements errors.Is compatibility.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

// ArgumentError reports a business-rule violation on a command argument.
type ArgumentError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ArgumentError) Error() string {
	return fmt.Sprintf("orderstream: invalid argument %s: %s", e.Field, e.Reason)
}

// Is implements errors.Is compatibility.
func (e *ArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

func invalidTransition(command string, from Status) error {
	return &TransitionError{Command: command, From: from}
}

func invalidArgument(field, reason string) error {
	return &ArgumentError{Field: field, Reason: reason}
}

func corruptHistory(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptHistory, fmt.Sprintf(format, args...))
}
