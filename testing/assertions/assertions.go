// Package assertions provides event assertion utilities for testing order histories.
// It includes helpers for comparing events, checking event types, and generating event diffs.
package assertions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// Payloads extracts the payloads of a history.
func Payloads(history []order.Envelope) []order.Event {
	events := make([]order.Event, len(history))
	for i, env := range history {
		events[i] = env.Payload
	}
	return events
}

// Equal reports whether two payloads have the same type and encoding.
// Decimals that differ only in trailing zeros are equal.
func Equal(expected, actual order.Event) bool {
	if reflect.TypeOf(expected) != reflect.TypeOf(actual) {
		return false
	}
	a, errA := json.Marshal(expected)
	b, errB := json.Marshal(actual)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(expected, actual)
	}
	return string(a) == string(b)
}

// AssertEventTypes checks that the events have the expected types in order.
func AssertEventTypes(t TB, events []order.Event, types ...order.EventType) {
	t.Helper()

	if len(events) != len(types) {
		t.Fatalf("Expected %d events, got %d", len(types), len(events))
	}

	for i, expectedType := range types {
		if actualType := typeOf(events[i]); actualType != expectedType {
			t.Errorf("Event %d: expected type %s, got %s", i, expectedType, actualType)
		}
	}
}

// AssertEventData checks that a specific event matches the expected data.
func AssertEventData[T order.Event](t TB, event order.Event, expected T) {
	t.Helper()

	actual, ok := event.(T)
	if !ok {
		t.Fatalf("Event is not of expected type %T, got %T", expected, event)
	}

	if !Equal(expected, actual) {
		t.Errorf("Event data mismatch:\nExpected: %+v\nActual: %+v", expected, actual)
	}
}

// AssertEventCount checks the number of events.
func AssertEventCount(t TB, events []order.Event, expected int) {
	t.Helper()

	if len(events) != expected {
		t.Errorf("Expected %d events, got %d", expected, len(events))
	}
}

// AssertNoEvents checks that no events were produced.
func AssertNoEvents(t TB, events []order.Event) {
	t.Helper()

	if len(events) > 0 {
		t.Errorf("Expected no events, got %d: %+v", len(events), events)
	}
}

// AssertLastEvent checks the last event matches the expected data.
func AssertLastEvent[T order.Event](t TB, events []order.Event, expected T) {
	t.Helper()

	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}

	AssertEventData(t, events[len(events)-1], expected)
}

// AssertContainsEventType checks that the events contain at least one event of the given type.
func AssertContainsEventType(t TB, events []order.Event, eventType order.EventType) {
	t.Helper()

	for _, event := range events {
		if typeOf(event) == eventType {
			return
		}
	}

	t.Errorf("Events do not contain event of type %s", eventType)
}

// AssertContiguous checks that a history belongs to one order and is
// numbered 1..n without gaps.
func AssertContiguous(t TB, orderID string, history []order.Envelope) {
	t.Helper()

	for i, env := range history {
		if env.AggregateID != orderID {
			t.Errorf("Event %d belongs to %q, expected %q", i, env.AggregateID, orderID)
		}
		if want := int64(i + 1); env.Sequence != want {
			t.Errorf("Event %d has sequence %d, expected %d", i, env.Sequence, want)
		}
	}
}

// EventDiff represents a difference between expected and actual events.
type EventDiff struct {
	Index    int
	Expected order.Event
	Actual   order.Event
	Type     DiffType
}

// DiffType represents the type of difference.
type DiffType int

const (
	// DiffMissing indicates an expected event was not present.
	DiffMissing DiffType = iota
	// DiffExtra indicates an unexpected event was present.
	DiffExtra
	// DiffMismatch indicates event data did not match.
	DiffMismatch
)

// String returns a human-readable representation of the diff type.
func (d DiffType) String() string {
	switch d {
	case DiffMissing:
		return "missing"
	case DiffExtra:
		return "extra"
	case DiffMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// DiffEvents compares two event slices and returns the differences.
func DiffEvents(expected, actual []order.Event) []EventDiff {
	var diffs []EventDiff

	maxLen := len(expected)
	if len(actual) > maxLen {
		maxLen = len(actual)
	}

	for i := 0; i < maxLen; i++ {
		switch {
		case i >= len(expected):
			diffs = append(diffs, EventDiff{Index: i, Actual: actual[i], Type: DiffExtra})
		case i >= len(actual):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Type: DiffMissing})
		case !Equal(expected[i], actual[i]):
			diffs = append(diffs, EventDiff{Index: i, Expected: expected[i], Actual: actual[i], Type: DiffMismatch})
		}
	}

	return diffs
}

// FormatDiffs formats event diffs as a human-readable string.
func FormatDiffs(diffs []EventDiff) string {
	if len(diffs) == 0 {
		return "no differences"
	}

	var buf strings.Builder
	buf.WriteString("Event differences:\n")

	for _, diff := range diffs {
		buf.WriteString(formatDiff(diff))
	}

	return buf.String()
}

func formatDiff(diff EventDiff) string {
	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("  Event %d (%s):\n", diff.Index, diff.Type))

	switch diff.Type {
	case DiffExtra:
		buf.WriteString(fmt.Sprintf("    + %s %+v (unexpected)\n", typeOf(diff.Actual), diff.Actual))
	case DiffMissing:
		buf.WriteString(fmt.Sprintf("    - %s %+v (missing)\n", typeOf(diff.Expected), diff.Expected))
	case DiffMismatch:
		buf.WriteString(fmt.Sprintf("    - %s %+v\n", typeOf(diff.Expected), diff.Expected))
		buf.WriteString(fmt.Sprintf("    + %s %+v\n", typeOf(diff.Actual), diff.Actual))
	}

	return buf.String()
}

// AssertEventsEqual compares two event slices and fails if they differ.
func AssertEventsEqual(t TB, expected, actual []order.Event) {
	t.Helper()

	diffs := DiffEvents(expected, actual)
	if len(diffs) > 0 {
		t.Error(FormatDiffs(diffs))
	}
}

// EventMatcher is a function that checks if an event matches certain criteria.
type EventMatcher func(event order.Event) bool

// MatchEventType returns a matcher that checks for a specific event type.
func MatchEventType(eventType order.EventType) EventMatcher {
	return func(event order.Event) bool {
		return typeOf(event) == eventType
	}
}

// MatchEvent returns a matcher that checks for payload equality.
func MatchEvent(expected order.Event) EventMatcher {
	return func(event order.Event) bool {
		return Equal(expected, event)
	}
}

// AssertAnyMatch checks that at least one event matches the matcher.
func AssertAnyMatch(t TB, events []order.Event, matcher EventMatcher) {
	t.Helper()

	for _, event := range events {
		if matcher(event) {
			return
		}
	}

	t.Error("No event matched the criteria")
}

// AssertNoneMatch checks that no events match the matcher.
func AssertNoneMatch(t TB, events []order.Event, matcher EventMatcher) {
	t.Helper()

	for i, event := range events {
		if matcher(event) {
			t.Errorf("Event %d unexpectedly matched: %+v", i, event)
		}
	}
}

// CountMatches returns the number of events that match the matcher.
func CountMatches(events []order.Event, matcher EventMatcher) int {
	count := 0
	for _, event := range events {
		if matcher(event) {
			count++
		}
	}
	return count
}

func typeOf(e order.Event) order.EventType {
	if e == nil {
		return "<nil>"
	}
	return e.EventType()
}
