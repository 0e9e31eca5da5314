package orderstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

type recordingProjectionMetrics struct {
	mu       sync.Mutex
	updates  int
	failures int
	rebuilds []int
}

func (m *recordingProjectionMetrics) RecordUpdate(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if !success {
		m.failures++
	}
}

func (m *recordingProjectionMetrics) RecordRebuild(orders int, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilds = append(m.rebuilds, orders)
}

func TestViewFromState(t *testing.T) {
	state, err := order.Fold([]order.Envelope{
		envelope("ord-1", 1, epoch, testutil.Created("ord-1")),
		envelope("ord-1", 2, epoch.Add(time.Minute), order.OrderCancelled{Reason: "customer request"}),
		envelope("ord-1", 3, epoch.Add(time.Hour), order.OrderRefunded{Amount: decimal.RequireFromString("10"), Reason: "goodwill"}),
	})
	require.NoError(t, err)

	view := ViewFromState(state)

	assert.Equal(t, "ord-1", view.OrderID)
	assert.Equal(t, order.StatusRefunded, view.Status)
	assert.Equal(t, "customer request", view.CancellationReason)
	assert.True(t, view.RefundAmount.Valid)
	assert.Equal(t, int64(3), view.Version)
	assert.True(t, epoch.Equal(view.CreatedAt))
	assert.True(t, epoch.Add(time.Hour).Equal(view.UpdatedAt))

	view.Items[0].Quantity = 99
	assert.Equal(t, 2, state.Items[0].Quantity)
}

func TestProjection_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrites the entry", func(t *testing.T) {
		metrics := &recordingProjectionMetrics{}
		projection := NewProjection(memory.NewProjectionStore(), New(memory.NewAdapter()), WithProjectionMetrics(metrics))
		state, err := order.Fold([]order.Envelope{envelope("ord-1", 1, epoch, testutil.Created("ord-1"))})
		require.NoError(t, err)

		require.NoError(t, projection.Update(ctx, "ord-1", state))
		state = order.Apply(state, envelope("ord-1", 2, epoch, order.OrderPaid{PaymentMethod: "card", TransactionID: "tx"}))
		require.NoError(t, projection.Update(ctx, "ord-1", state))

		view, err := projection.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, view.Status)
		assert.Equal(t, 2, metrics.updates)
	})

	t.Run("an older state does not overwrite a newer entry", func(t *testing.T) {
		metrics := &recordingProjectionMetrics{}
		projection := NewProjection(memory.NewProjectionStore(), New(memory.NewAdapter()), WithProjectionMetrics(metrics))
		created, err := order.Fold([]order.Envelope{envelope("ord-1", 1, epoch, testutil.Created("ord-1"))})
		require.NoError(t, err)
		paid := order.Apply(created, envelope("ord-1", 2, epoch.Add(time.Minute), order.OrderPaid{PaymentMethod: "card", TransactionID: "tx"}))

		require.NoError(t, projection.Update(ctx, "ord-1", paid))
		require.NoError(t, projection.Update(ctx, "ord-1", created))

		view, err := projection.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, view.Status)
		assert.Equal(t, int64(2), view.Version)
		assert.Zero(t, metrics.failures)
	})

	t.Run("rejects states without history", func(t *testing.T) {
		projection := NewProjection(memory.NewProjectionStore(), New(memory.NewAdapter()))

		err := projection.Update(ctx, "ord-1", order.State{})
		assert.ErrorIs(t, err, ErrAggregateNotFound)

		err = projection.Update(ctx, "", order.State{Version: 1})
		assert.ErrorIs(t, err, ErrEmptyAggregateID)
	})

	t.Run("store failures are reported", func(t *testing.T) {
		metrics := &recordingProjectionMetrics{}
		views := testutil.NewMockProjectionStore()
		views.FailUpserts(errors.New("redis down"))
		projection := NewProjection(views, New(memory.NewAdapter()), WithProjectionMetrics(metrics))
		state, err := order.Fold([]order.Envelope{envelope("ord-1", 1, epoch, testutil.Created("ord-1"))})
		require.NoError(t, err)

		err = projection.Update(ctx, "ord-1", state)

		assert.ErrorContains(t, err, "redis down")
		assert.Equal(t, 1, metrics.failures)
	})
}

func TestProjection_Rebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("removes entries of orders without history", func(t *testing.T) {
		views := memory.NewProjectionStore()
		require.NoError(t, views.Upsert(ctx, testutil.OrderRecord("ghost", "c1", order.StatusPaid, epoch)))
		projection := NewProjection(views, New(memory.NewAdapter()))

		require.NoError(t, projection.Rebuild(ctx, "ghost"))

		_, err := projection.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrProjectionNotFound)
	})

	t.Run("replaces an entry that claims a higher version", func(t *testing.T) {
		store := New(memory.NewAdapter())
		_, err := store.Append(ctx, "ord-1", envelope("ord-1", 1, epoch, testutil.Created("ord-1")), NoStream)
		require.NoError(t, err)
		views := memory.NewProjectionStore()
		bogus := testutil.OrderRecord("ord-1", "c1", order.StatusDelivered, epoch)
		bogus.Version = 9
		require.NoError(t, views.Upsert(ctx, bogus))

		require.NoError(t, NewProjection(views, store).Rebuild(ctx, "ord-1"))

		view, err := views.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCreated, view.Status)
		assert.Equal(t, int64(1), view.Version)
	})

	t.Run("corrupt history fails", func(t *testing.T) {
		store := New(memory.NewAdapter())
		_, err := store.Append(ctx, "ord-1", envelope("ord-1", 1, epoch, order.OrderDelivered{}), NoStream)
		require.NoError(t, err)

		err = NewProjection(memory.NewProjectionStore(), store).Rebuild(ctx, "ord-1")

		assert.ErrorIs(t, err, ErrCorruptHistory)
	})
}

func TestProjection_RebuildAll(t *testing.T) {
	ctx := context.Background()

	t.Run("matches a fold of every history", func(t *testing.T) {
		store := New(memory.NewAdapter())
		seed(t, store, "ord-1")
		seed(t, store, "ord-2")
		_, err := store.Append(ctx, "ord-3", envelope("ord-3", 1, epoch, testutil.Created("ord-3")), NoStream)
		require.NoError(t, err)

		views := memory.NewProjectionStore()
		require.NoError(t, views.Upsert(ctx, testutil.OrderRecord("stale", "c9", order.StatusCreated, epoch)))
		metrics := &recordingProjectionMetrics{}
		projection := NewProjection(views, store, WithProjectionMetrics(metrics), WithRebuildConcurrency(2))

		report, err := projection.RebuildAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, report.Orders)
		assert.Empty(t, report.Failed)
		assert.Equal(t, []int{3}, metrics.rebuilds)

		for _, id := range []string{"ord-1", "ord-2", "ord-3"} {
			result, err := store.ReplayEvents(ctx, id)
			require.NoError(t, err)

			view, err := projection.Get(ctx, id)
			require.NoError(t, err)
			testutil.AssertRecordEqual(t, ViewFromState(result.State), view)
		}

		_, err = projection.Get(ctx, "stale")
		assert.ErrorIs(t, err, ErrProjectionNotFound)
	})

	t.Run("is idempotent", func(t *testing.T) {
		store := New(memory.NewAdapter())
		seed(t, store, "ord-1")
		projection := NewProjection(memory.NewProjectionStore(), store)

		_, err := projection.RebuildAll(ctx)
		require.NoError(t, err)
		first, err := projection.List(ctx, ListFilter{})
		require.NoError(t, err)

		_, err = projection.RebuildAll(ctx)
		require.NoError(t, err)
		second, err := projection.List(ctx, ListFilter{})
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("reports failing orders and rebuilds the rest", func(t *testing.T) {
		store := New(memory.NewAdapter())
		seed(t, store, "ord-1")
		_, err := store.Append(ctx, "ord-bad", envelope("ord-bad", 1, epoch, order.OrderShipped{TrackingNumber: "T", Carrier: "C"}), NoStream)
		require.NoError(t, err)
		projection := NewProjection(memory.NewProjectionStore(), store)

		report, err := projection.RebuildAll(ctx)

		assert.ErrorIs(t, err, ErrCorruptHistory)
		assert.Equal(t, 1, report.Orders)
		assert.Equal(t, []string{"ord-bad"}, report.Failed)
		_, err = projection.Get(ctx, "ord-1")
		assert.NoError(t, err)
	})

	t.Run("listing failure aborts before clearing", func(t *testing.T) {
		adapter := testutil.NewMockAdapter()
		adapter.AggregateIDsErr = errors.New("timeout")
		views := memory.NewProjectionStore()
		require.NoError(t, views.Upsert(ctx, testutil.OrderRecord("ord-1", "c1", order.StatusPaid, epoch)))

		_, err := NewProjection(views, New(adapter)).RebuildAll(ctx)

		assert.ErrorIs(t, err, ErrStoreUnavailable)
		_, err = views.Get(ctx, "ord-1")
		assert.NoError(t, err)
	})
}

func TestProjection_List(t *testing.T) {
	ctx := context.Background()
	views := memory.NewProjectionStore()
	for _, r := range []struct {
		id, customer string
		status       order.Status
	}{
		{"ord-1", "c1", order.StatusPaid},
		{"ord-2", "c2", order.StatusPaid},
		{"ord-3", "c1", order.StatusCancelled},
	} {
		require.NoError(t, views.Upsert(ctx, testutil.OrderRecord(r.id, r.customer, r.status, epoch)))
	}
	projection := NewProjection(views, New(memory.NewAdapter()))

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all", ListFilter{}, []string{"ord-1", "ord-2", "ord-3"}},
		{"by status", ListFilter{Status: order.StatusPaid}, []string{"ord-1", "ord-2"}},
		{"by customer", ListFilter{CustomerID: "c1"}, []string{"ord-1", "ord-3"}},
		{"paged", ListFilter{Limit: 1, Offset: 1}, []string{"ord-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := projection.List(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, len(got))
			for i, v := range got {
				ids[i] = v.OrderID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
