package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// AdapterFactory returns a fresh, initialized and empty event store adapter.
type AdapterFactory func(t *testing.T) adapters.EventStoreAdapter

// ProjectionStoreFactory returns a fresh, empty projection store.
type ProjectionStoreFactory func(t *testing.T) adapters.ProjectionStore

// RunEventStoreAdapterSuite runs the behavior every event store adapter must share.
func RunEventStoreAdapterSuite(t *testing.T, newAdapter AdapterFactory) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("append assigns contiguous sequences", func(t *testing.T) {
		a := newAdapter(t)

		stored, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)
		require.Len(t, stored, 1)
		assert.Equal(t, int64(1), stored[0].Sequence)
		assert.Equal(t, "ord-1", stored[0].AggregateID)
		assert.NotEmpty(t, stored[0].ID)

		more, err := a.Append(ctx, "ord-1", RawRecords("OrderPaid", 2), 1)
		require.NoError(t, err)
		require.Len(t, more, 2)
		assert.Equal(t, int64(2), more[0].Sequence)
		assert.Equal(t, int64(3), more[1].Sequence)
		assert.Greater(t, more[0].GlobalPosition, stored[0].GlobalPosition)
		assert.Greater(t, more[1].GlobalPosition, more[0].GlobalPosition)

		events, err := a.Load(ctx, "ord-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	})

	t.Run("round trips payload, metadata and occurrence time", func(t *testing.T) {
		a := newAdapter(t)
		at := base.Add(123456 * time.Microsecond)
		record := Record(Created("ord-1"), at)
		record.Metadata = adapters.Metadata{
			CorrelationID: "corr-1",
			CausationID:   "cmd-1",
			UserID:        "user-1",
			Custom:        map[string]string{"source": "test"},
		}

		_, err := a.Append(ctx, "ord-1", []adapters.EventRecord{record}, adapters.NoStream)
		require.NoError(t, err)

		events, err := a.Load(ctx, "ord-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "OrderCreated", events[0].Type)
		assert.JSONEq(t, string(record.Data), string(events[0].Data))
		assert.Equal(t, record.Metadata, events[0].Metadata)
		assert.True(t, at.Equal(events[0].OccurredAt), "occurred at %s, want %s", events[0].OccurredAt, at)
		assert.False(t, events[0].RecordedAt.IsZero())
	})

	t.Run("load unknown aggregate returns empty slice", func(t *testing.T) {
		a := newAdapter(t)

		events, err := a.Load(ctx, "missing", 0)
		require.NoError(t, err)
		assert.NotNil(t, events)
		assert.Empty(t, events)

		version, err := a.CurrentVersion(ctx, "missing")
		require.NoError(t, err)
		assert.Equal(t, int64(0), version)
	})

	t.Run("load from sequence", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 4), adapters.NoStream)
		require.NoError(t, err)

		events, err := a.Load(ctx, "ord-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(3), events[0].Sequence)
	})

	t.Run("expected version mismatch is a concurrency conflict", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)

		_, err = a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		_, err = a.Append(ctx, "ord-1", RawRecords("OrderPaid", 1), 5)
		var concErr *adapters.ConcurrencyError
		require.ErrorAs(t, err, &concErr)
		assert.Equal(t, "ord-1", concErr.AggregateID)
		assert.Equal(t, int64(5), concErr.ExpectedVersion)

		version, err := a.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("any version skips the check", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.AnyVersion)
		require.NoError(t, err)
		stored, err := a.Append(ctx, "ord-1", RawRecords("OrderPaid", 1), adapters.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stored[0].Sequence)
	})

	t.Run("rejects invalid arguments", func(t *testing.T) {
		a := newAdapter(t)

		_, err := a.Append(ctx, "", RawRecords("OrderCreated", 1), adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrEmptyAggregateID)

		_, err = a.Append(ctx, "ord-1", nil, adapters.NoStream)
		assert.ErrorIs(t, err, adapters.ErrNoEvents)

		_, err = a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), -7)
		assert.ErrorIs(t, err, adapters.ErrInvalidVersion)
	})

	t.Run("queries by type in global order", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Append(ctx, "ord-2", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "ord-2", RawRecords("OrderPaid", 1), 1)
		require.NoError(t, err)

		created, err := a.LoadByType(ctx, "OrderCreated")
		require.NoError(t, err)
		require.Len(t, created, 2)
		assert.Equal(t, "ord-2", created[0].AggregateID)
		assert.Equal(t, "ord-1", created[1].AggregateID)

		none, err := a.LoadByType(ctx, "OrderRefunded")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("queries by inclusive date range", func(t *testing.T) {
		a := newAdapter(t)
		for i := 0; i < 4; i++ {
			rec := Record(order.OrderCancelled{Reason: fmt.Sprint(i)}, base.Add(time.Duration(i)*time.Hour))
			_, err := a.Append(ctx, fmt.Sprintf("ord-%d", i), []adapters.EventRecord{rec}, adapters.NoStream)
			require.NoError(t, err)
		}

		events, err := a.LoadInRange(ctx, base.Add(time.Hour), base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "ord-1", events[0].AggregateID)
		assert.Equal(t, "ord-2", events[1].AggregateID)

		empty, err := a.LoadInRange(ctx, base.Add(10*time.Hour), base.Add(11*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("lists aggregate ids sorted", func(t *testing.T) {
		a := newAdapter(t)
		for _, id := range []string{"ord-c", "ord-a", "ord-b"} {
			_, err := a.Append(ctx, id, RawRecords("OrderCreated", 1), adapters.NoStream)
			require.NoError(t, err)
		}

		ids, err := a.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-a", "ord-b", "ord-c"}, ids)
	})

	t.Run("concurrent appends at the same version admit exactly one writer", func(t *testing.T) {
		a := newAdapter(t)
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
			others    []error
		)
		start := make(chan struct{})
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := a.Append(ctx, "ord-1", RawRecords("OrderPaid", 1), 1)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, adapters.ErrConcurrencyConflict):
					conflicts++
				default:
					others = append(others, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Empty(t, others)
		assert.Equal(t, 1, successes)
		assert.Equal(t, writers-1, conflicts)

		events, err := a.Load(ctx, "ord-1", 0)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(2), events[1].Sequence)
	})

	t.Run("purges a stream", func(t *testing.T) {
		a := newAdapter(t)
		purger, ok := a.(adapters.Purger)
		if !ok {
			t.Skip("adapter does not support purging")
		}
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 3), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "ord-2", RawRecords("OrderCreated", 1), adapters.NoStream)
		require.NoError(t, err)

		removed, err := purger.DeleteStream(ctx, "ord-1", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(3), removed)

		ids, err := a.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-2"}, ids)

		removed, err = purger.DeleteStream(ctx, "ord-1", adapters.NoStream)
		require.NoError(t, err)
		assert.Equal(t, int64(0), removed)

		removed, err = purger.DeleteStream(ctx, "ord-2", adapters.AnyVersion)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)
	})

	t.Run("purge of a stream that moved is a concurrency conflict", func(t *testing.T) {
		a := newAdapter(t)
		purger, ok := a.(adapters.Purger)
		if !ok {
			t.Skip("adapter does not support purging")
		}
		_, err := a.Append(ctx, "ord-1", RawRecords("OrderCreated", 2), adapters.NoStream)
		require.NoError(t, err)
		_, err = a.Append(ctx, "ord-1", RawRecords("OrderRefunded", 1), 2)
		require.NoError(t, err)

		removed, err := purger.DeleteStream(ctx, "ord-1", 2)
		var concErr *adapters.ConcurrencyError
		require.ErrorAs(t, err, &concErr)
		assert.Equal(t, int64(2), concErr.ExpectedVersion)
		assert.Equal(t, int64(3), concErr.ActualVersion)
		assert.Equal(t, int64(0), removed)

		version, err := a.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), version)

		_, err = purger.DeleteStream(ctx, "ord-2", 1)
		assert.ErrorIs(t, err, adapters.ErrConcurrencyConflict)
	})
}

// RunProjectionStoreSuite runs the behavior every projection store must share.
func RunProjectionStoreSuite(t *testing.T, newStore ProjectionStoreFactory) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	t.Run("upsert and get round trip", func(t *testing.T) {
		s := newStore(t)
		record := OrderRecord("ord-1", "c1", order.StatusRefunded, base.Add(1500*time.Microsecond))
		record.PaymentMethod = "card"
		record.TransactionID = "tx-1"
		record.TrackingNumber = "TRK1"
		record.Carrier = "DHL"
		record.DeliveryConfirmation = "signed"
		record.RefundAmount = decimal.NewNullDecimal(decimal.RequireFromString("12.50"))
		record.RefundReason = "defect"
		record.Version = 5

		require.NoError(t, s.Upsert(ctx, record))

		got, err := s.Get(ctx, "ord-1")
		require.NoError(t, err)
		AssertRecordEqual(t, record, got)
	})

	t.Run("missing record", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, adapters.ErrRecordNotFound)
	})

	t.Run("upsert overwrites", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-1", "c1", order.StatusCreated, base)))

		next := OrderRecord("ord-1", "c1", order.StatusPaid, base.Add(time.Minute))
		next.Version = 2
		require.NoError(t, s.Upsert(ctx, next))

		got, err := s.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, got.Status)
		assert.Equal(t, int64(2), got.Version)
		assert.False(t, got.RefundAmount.Valid)
	})

	t.Run("older version does not overwrite newer", func(t *testing.T) {
		s := newStore(t)
		newer := OrderRecord("ord-1", "c1", order.StatusPaid, base.Add(time.Minute))
		newer.Version = 2
		require.NoError(t, s.Upsert(ctx, newer))

		older := OrderRecord("ord-1", "c1", order.StatusCreated, base)
		older.Version = 1
		assert.ErrorIs(t, s.Upsert(ctx, older), adapters.ErrStaleRecord)

		got, err := s.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, got.Status)
		assert.Equal(t, int64(2), got.Version)

		same := OrderRecord("ord-1", "c1", order.StatusPaid, base.Add(2*time.Minute))
		same.Version = 2
		same.PaymentMethod = "card"
		require.NoError(t, s.Upsert(ctx, same))

		got, err = s.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, "card", got.PaymentMethod)
	})

	t.Run("concurrent upserts keep the highest version", func(t *testing.T) {
		s := newStore(t)

		var wg sync.WaitGroup
		for v := int64(1); v <= 8; v++ {
			wg.Add(1)
			go func(v int64) {
				defer wg.Done()
				record := OrderRecord("ord-1", "c1", order.StatusCreated, base.Add(time.Duration(v)*time.Minute))
				record.Version = v
				err := s.Upsert(ctx, record)
				if err != nil && !errors.Is(err, adapters.ErrStaleRecord) {
					t.Errorf("upsert version %d: %v", v, err)
				}
			}(v)
		}
		wg.Wait()

		got, err := s.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(8), got.Version)
	})

	t.Run("list filters and orders by id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-3", "c1", order.StatusPaid, base.Add(3*time.Hour))))
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-1", "c1", order.StatusCreated, base.Add(time.Hour))))
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-2", "c2", order.StatusPaid, base.Add(2*time.Hour))))

		all, err := s.List(ctx, adapters.RecordFilter{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-1", "ord-2", "ord-3"}, recordIDs(all))

		paid, err := s.List(ctx, adapters.RecordFilter{Status: order.StatusPaid})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-2", "ord-3"}, recordIDs(paid))

		c1, err := s.List(ctx, adapters.RecordFilter{CustomerID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-1", "ord-3"}, recordIDs(c1))

		old, err := s.List(ctx, adapters.RecordFilter{UpdatedBefore: base.Add(2 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-1"}, recordIDs(old))

		page, err := s.List(ctx, adapters.RecordFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-2"}, recordIDs(page))
	})

	t.Run("delete and clear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-1", "c1", order.StatusCreated, base)))
		require.NoError(t, s.Upsert(ctx, OrderRecord("ord-2", "c1", order.StatusCreated, base)))

		require.NoError(t, s.Delete(ctx, "ord-1"))
		require.NoError(t, s.Delete(ctx, "ord-1"))
		_, err := s.Get(ctx, "ord-1")
		assert.ErrorIs(t, err, adapters.ErrRecordNotFound)

		require.NoError(t, s.Clear(ctx))
		all, err := s.List(ctx, adapters.RecordFilter{})
		require.NoError(t, err)
		assert.Empty(t, all)
	})
}

// AssertRecordEqual compares records field by field. Decimals and times are
// compared by value, so representations that differ after a storage round trip
// are equal.
func AssertRecordEqual(t testing.TB, expected, actual *adapters.OrderRecord) {
	t.Helper()
	require.NotNil(t, actual)

	assert.Equal(t, expected.OrderID, actual.OrderID)
	assert.Equal(t, expected.Status, actual.Status)
	assert.Equal(t, expected.CustomerID, actual.CustomerID)
	assert.Equal(t, expected.ShippingAddress, actual.ShippingAddress)
	assert.Equal(t, expected.PaymentMethod, actual.PaymentMethod)
	assert.Equal(t, expected.TransactionID, actual.TransactionID)
	assert.Equal(t, expected.TrackingNumber, actual.TrackingNumber)
	assert.Equal(t, expected.Carrier, actual.Carrier)
	assert.Equal(t, expected.DeliveryConfirmation, actual.DeliveryConfirmation)
	assert.Equal(t, expected.CancellationReason, actual.CancellationReason)
	assert.Equal(t, expected.RefundReason, actual.RefundReason)
	assert.Equal(t, expected.Version, actual.Version)

	assert.True(t, expected.TotalAmount.Equal(actual.TotalAmount),
		"total amount: expected %s, got %s", expected.TotalAmount, actual.TotalAmount)
	assert.Equal(t, expected.RefundAmount.Valid, actual.RefundAmount.Valid)
	if expected.RefundAmount.Valid {
		assert.True(t, expected.RefundAmount.Decimal.Equal(actual.RefundAmount.Decimal),
			"refund amount: expected %s, got %s", expected.RefundAmount.Decimal, actual.RefundAmount.Decimal)
	}

	require.Len(t, actual.Items, len(expected.Items))
	for i := range expected.Items {
		assert.Equal(t, expected.Items[i].SKU, actual.Items[i].SKU)
		assert.Equal(t, expected.Items[i].Quantity, actual.Items[i].Quantity)
		assert.True(t, expected.Items[i].UnitPrice.Equal(actual.Items[i].UnitPrice))
	}

	assert.True(t, expected.CreatedAt.Equal(actual.CreatedAt),
		"created at: expected %s, got %s", expected.CreatedAt, actual.CreatedAt)
	assert.True(t, expected.UpdatedAt.Equal(actual.UpdatedAt),
		"updated at: expected %s, got %s", expected.UpdatedAt, actual.UpdatedAt)
}

func recordIDs(records []*adapters.OrderRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.OrderID
	}
	return ids
}
