// Package projections provides testing utilities for the order read model.
// A fixture records histories in an in-memory event store, keeps a projection
// store up to date the way the order service does, and verifies the resulting
// read-model entries.
package projections

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/bdd"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

// TB is an alias for testing.TB to enable easier mocking in tests.
type TB = testing.TB

// ProjectionTestFixture provides testing utilities for a projection store.
type ProjectionTestFixture struct {
	t          TB
	ctx        context.Context
	store      adapters.ProjectionStore
	events     *orderstream.EventStore
	projection *orderstream.Projection
}

// TestProjection creates a fixture over store. Histories are recorded in a
// fresh in-memory event store.
func TestProjection(t TB, store adapters.ProjectionStore) *ProjectionTestFixture {
	t.Helper()
	events := orderstream.New(memory.NewAdapter())
	return &ProjectionTestFixture{
		t:          t,
		ctx:        context.Background(),
		store:      store,
		events:     events,
		projection: orderstream.NewProjection(store, events),
	}
}

// WithContext sets a custom context.
func (f *ProjectionTestFixture) WithContext(ctx context.Context) *ProjectionTestFixture {
	f.ctx = ctx
	return f
}

// GivenHistory appends events to the order's history and updates the
// projection after each one, as the order service does after every commit.
func (f *ProjectionTestFixture) GivenHistory(orderID string, events ...order.Event) *ProjectionTestFixture {
	f.t.Helper()

	version, err := f.events.CurrentVersion(f.ctx, orderID)
	if err != nil {
		f.t.Fatalf("Failed to read current version of %s: %v", orderID, err)
	}

	for _, env := range bdd.History(orderID, events...) {
		env.Sequence += version
		if _, err := f.events.Append(f.ctx, orderID, env, env.Sequence-1); err != nil {
			f.t.Fatalf("Failed to append %s to %s: %v", env.Type(), orderID, err)
		}

		result, err := f.events.ReplayEvents(f.ctx, orderID)
		if err != nil {
			f.t.Fatalf("Failed to replay %s: %v", orderID, err)
		}
		if err := f.projection.Update(f.ctx, orderID, result.State); err != nil {
			f.t.Fatalf("Failed to project %s: %v", orderID, err)
		}
	}

	return f
}

// GivenUnprojectedHistory appends events without touching the projection,
// leaving the read model behind the event store.
func (f *ProjectionTestFixture) GivenUnprojectedHistory(orderID string, events ...order.Event) *ProjectionTestFixture {
	f.t.Helper()

	version, err := f.events.CurrentVersion(f.ctx, orderID)
	if err != nil {
		f.t.Fatalf("Failed to read current version of %s: %v", orderID, err)
	}

	for _, env := range bdd.History(orderID, events...) {
		env.Sequence += version
		if _, err := f.events.Append(f.ctx, orderID, env, env.Sequence-1); err != nil {
			f.t.Fatalf("Failed to append %s to %s: %v", env.Type(), orderID, err)
		}
	}

	return f
}

// WhenRebuilt rebuilds the whole projection from the event store.
func (f *ProjectionTestFixture) WhenRebuilt() orderstream.RebuildReport {
	f.t.Helper()

	report, err := f.projection.RebuildAll(f.ctx)
	if err != nil {
		f.t.Fatalf("Failed to rebuild projection: %v", err)
	}
	return report
}

// ThenStatus asserts the entry's status and version.
func (f *ProjectionTestFixture) ThenStatus(orderID string, status order.Status, version int64) {
	f.t.Helper()

	view := f.ThenExists(orderID)
	if view.Status != status {
		f.t.Errorf("Order %s: expected status %s, got %s", orderID, status, view.Status)
	}
	if view.Version != version {
		f.t.Errorf("Order %s: expected version %d, got %d", orderID, version, view.Version)
	}
}

// ThenExists asserts that an entry exists and returns it.
func (f *ProjectionTestFixture) ThenExists(orderID string) *orderstream.OrderView {
	f.t.Helper()

	view, err := f.projection.Get(f.ctx, orderID)
	if err != nil {
		f.t.Fatalf("Failed to get entry %s: %v", orderID, err)
	}
	return view
}

// ThenNotExists asserts that an entry does not exist.
func (f *ProjectionTestFixture) ThenNotExists(orderID string) {
	f.t.Helper()

	view, err := f.projection.Get(f.ctx, orderID)
	if err != nil && !errors.Is(err, orderstream.ErrProjectionNotFound) {
		f.t.Fatalf("Unexpected error: %v", err)
	}
	if view != nil {
		f.t.Errorf("Expected entry %s to not exist, but found: %+v", orderID, *view)
	}
}

// ThenListed asserts that filter selects exactly the given orders, in any order.
func (f *ProjectionTestFixture) ThenListed(filter orderstream.ListFilter, orderIDs ...string) {
	f.t.Helper()

	views, err := f.projection.List(f.ctx, filter)
	if err != nil {
		f.t.Fatalf("Failed to list entries: %v", err)
	}

	got := make([]string, len(views))
	for i, v := range views {
		got[i] = v.OrderID
	}
	want := append([]string(nil), orderIDs...)
	sort.Strings(got)
	sort.Strings(want)

	if len(got) != len(want) {
		f.t.Errorf("Expected orders %v, got %v", want, got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			f.t.Errorf("Expected orders %v, got %v", want, got)
			return
		}
	}
}

// ThenMatchesReplay asserts that the entry equals the state folded from the
// order's history.
func (f *ProjectionTestFixture) ThenMatchesReplay(orderID string) {
	f.t.Helper()

	result, err := f.events.ReplayEvents(f.ctx, orderID)
	if err != nil {
		f.t.Fatalf("Failed to replay %s: %v", orderID, err)
	}
	expected := orderstream.ViewFromState(result.State)
	expected.OrderID = orderID

	testutil.AssertRecordEqual(f.t, expected, f.ThenExists(orderID))
}

// Projection returns the projection under test.
func (f *ProjectionTestFixture) Projection() *orderstream.Projection {
	return f.projection
}

// EventStore returns the event store holding the recorded histories.
func (f *ProjectionTestFixture) EventStore() *orderstream.EventStore {
	return f.events
}
