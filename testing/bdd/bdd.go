// Package bdd provides BDD-style test fixtures for the order aggregate
// and the order service. It enables expressive Given-When-Then testing of
// command handling and aggregate behavior.
package bdd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// TB is an alias for testing.TB interface to allow mocking in tests
type TB = testing.TB

// Epoch is the occurrence time of the first given event.
// Each following given event occurs one second later.
var Epoch = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

// History wraps payloads into a contiguous history for orderID.
func History(orderID string, events ...order.Event) []order.Envelope {
	history := make([]order.Envelope, len(events))
	for i, e := range events {
		history[i] = order.Envelope{
			AggregateID: orderID,
			Sequence:    int64(i + 1),
			OccurredAt:  Epoch.Add(time.Duration(i) * time.Second),
			Payload:     e,
		}
	}
	return history
}

// TestFixture provides BDD-style testing for the order aggregate.
type TestFixture struct {
	t           TB
	orderID     string
	opts        []order.Option
	givenEvents []order.Event
	aggregate   *order.Order
	result      error
	executed    bool
}

// Given sets up an order with optional historical events.
// This establishes the "Given" state before executing a command.
func Given(t TB, orderID string, events ...order.Event) *TestFixture {
	t.Helper()
	return &TestFixture{
		t:           t,
		orderID:     orderID,
		givenEvents: events,
	}
}

// WithOptions passes aggregate options such as order.WithClock.
func (f *TestFixture) WithOptions(opts ...order.Option) *TestFixture {
	f.opts = append(f.opts, opts...)
	return f
}

// When rehydrates the order from the given events and runs the command against it.
func (f *TestFixture) When(command func(o *order.Order) error) *TestFixture {
	f.t.Helper()

	o, err := order.Rehydrate(f.orderID, History(f.orderID, f.givenEvents...), f.opts...)
	if err != nil {
		f.t.Fatalf("Failed to rehydrate given events: %v", err)
	}
	f.aggregate = o

	f.result = command(o)
	f.executed = true

	return f
}

// Order returns the aggregate under test. It is nil before When.
func (f *TestFixture) Order() *order.Order {
	return f.aggregate
}

// Then asserts that the command produced the expected events.
// Payloads are compared by type and JSON encoding, so decimals that differ
// only in trailing zeros are equal.
func (f *TestFixture) Then(expectedEvents ...order.Event) *TestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: Then() must be called after When() - no command was executed")
	}

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	uncommitted := f.aggregate.UncommittedEvents()
	if len(uncommitted) != len(expectedEvents) {
		f.t.Fatalf("Expected %d events, got %d.\nExpected: %+v\nActual: %+v",
			len(expectedEvents), len(uncommitted), expectedEvents, payloads(uncommitted))
	}

	for i, expected := range expectedEvents {
		if !samePayload(expected, uncommitted[i].Payload) {
			f.t.Errorf("Event %d mismatch:\nExpected: %+v\nActual: %+v",
				i, expected, uncommitted[i].Payload)
		}
	}
	return f
}

// ThenError asserts that the command produced the expected error and no events.
func (f *TestFixture) ThenError(expectedErr error) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenError() must be called after When() - no command was executed")
	}

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !errors.Is(f.result, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, f.result)
	}

	if f.aggregate.HasUncommittedEvents() {
		f.t.Errorf("Expected no events after failed command, got %d", len(f.aggregate.UncommittedEvents()))
	}
}

// ThenErrorContains asserts that the error message contains a substring.
func (f *TestFixture) ThenErrorContains(substring string) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenErrorContains() must be called after When() - no command was executed")
	}

	if f.result == nil {
		f.t.Fatal("Expected error but got success")
	}

	if !strings.Contains(f.result.Error(), substring) {
		f.t.Errorf("Expected error containing %q, got %q", substring, f.result.Error())
	}
}

// ThenNoEvents asserts that the command succeeded without producing events.
func (f *TestFixture) ThenNoEvents() {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenNoEvents() must be called after When() - no command was executed")
	}

	if f.result != nil {
		f.t.Fatalf("Expected success but got error: %v", f.result)
	}

	uncommitted := f.aggregate.UncommittedEvents()
	if len(uncommitted) > 0 {
		f.t.Errorf("Expected no events, got %d: %+v", len(uncommitted), payloads(uncommitted))
	}
}

// ThenState asserts the status and version of the aggregate after the command.
func (f *TestFixture) ThenState(status order.Status, version int64) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenState() must be called after When() - no command was executed")
	}

	if got := f.aggregate.Status(); got != status {
		f.t.Errorf("Expected status %s, got %s", status, got)
	}
	if got := f.aggregate.Version(); got != version {
		f.t.Errorf("Expected version %d, got %d", version, got)
	}
}

// CommandTestFixture provides BDD-style testing through the order service.
type CommandTestFixture struct {
	t           TB
	ctx         context.Context
	service     *orderstream.OrderService
	orderID     string
	givenEvents []order.Event
	result      order.State
	err         error
	executed    bool
}

// GivenCommand creates a new command test fixture for one order.
func GivenCommand(t TB, service *orderstream.OrderService, orderID string) *CommandTestFixture {
	t.Helper()
	return &CommandTestFixture{
		t:       t,
		ctx:     context.Background(),
		service: service,
		orderID: orderID,
	}
}

// WithContext sets a custom context for the command execution.
func (f *CommandTestFixture) WithContext(ctx context.Context) *CommandTestFixture {
	f.ctx = ctx
	return f
}

// WithExistingEvents seeds the event store with a history for the order.
func (f *CommandTestFixture) WithExistingEvents(events ...order.Event) *CommandTestFixture {
	f.givenEvents = append(f.givenEvents, events...)
	return f
}

// When executes the command.
func (f *CommandTestFixture) When(cmd orderstream.Command) *CommandTestFixture {
	f.t.Helper()

	if len(f.givenEvents) > 0 {
		store := f.service.Store()
		version, err := store.CurrentVersion(f.ctx, f.orderID)
		if err != nil {
			f.t.Fatalf("Failed to read current version: %v", err)
		}
		for _, env := range History(f.orderID, f.givenEvents...) {
			env.Sequence += version
			if _, err := store.Append(f.ctx, f.orderID, env, env.Sequence-1); err != nil {
				f.t.Fatalf("Failed to store given event %s: %v", env.Type(), err)
			}
		}
		f.givenEvents = nil
	}

	f.result, f.err = f.service.Execute(f.ctx, f.orderID, cmd)
	f.executed = true
	return f
}

// ThenSucceeds asserts the command succeeded.
func (f *CommandTestFixture) ThenSucceeds() *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenSucceeds() must be called after When() - no command was executed")
	}

	if f.err != nil {
		f.t.Fatalf("Expected success but got error: %v", f.err)
	}

	return f
}

// ThenFails asserts the command failed with the expected error.
func (f *CommandTestFixture) ThenFails(expectedErr error) {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenFails() must be called after When() - no command was executed")
	}

	if f.err == nil {
		f.t.Fatal("Expected failure but got success")
	}

	if !errors.Is(f.err, expectedErr) {
		f.t.Errorf("Expected error %v, got %v", expectedErr, f.err)
	}
}

// ThenReturnsStatus asserts the returned snapshot has the expected status.
func (f *CommandTestFixture) ThenReturnsStatus(expected order.Status) *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenReturnsStatus() must be called after When() - no command was executed")
	}

	if f.result.Status != expected {
		f.t.Errorf("Expected status %s, got %s", expected, f.result.Status)
	}

	return f
}

// ThenReturnsVersion asserts the returned snapshot has the expected version.
func (f *CommandTestFixture) ThenReturnsVersion(expected int64) *CommandTestFixture {
	f.t.Helper()

	if !f.executed {
		f.t.Fatal("bdd: ThenReturnsVersion() must be called after When() - no command was executed")
	}

	if f.result.Version != expected {
		f.t.Errorf("Expected version %d, got %d", expected, f.result.Version)
	}

	return f
}

// Result returns the snapshot returned by the command.
func (f *CommandTestFixture) Result() order.State {
	return f.result
}

func payloads(envs []order.Envelope) []order.Event {
	out := make([]order.Event, len(envs))
	for i, env := range envs {
		out[i] = env.Payload
	}
	return out
}

func samePayload(expected, actual order.Event) bool {
	if reflect.TypeOf(expected) != reflect.TypeOf(actual) {
		return false
	}
	a, errA := json.Marshal(expected)
	b, errB := json.Marshal(actual)
	if errA != nil || errB != nil {
		panic(fmt.Sprintf("bdd: cannot compare payloads: %v, %v", errA, errB))
	}
	return string(a) == string(b)
}
