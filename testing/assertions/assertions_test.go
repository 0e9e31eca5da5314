package assertions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

// =============================================================================
// Test Events
// =============================================================================

var (
	paid      = order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-1"}
	shipped   = order.OrderShipped{TrackingNumber: "TRK1", Carrier: "DHL"}
	delivered = order.OrderDelivered{DeliveryConfirmation: "signed"}
)

func lifecycle() []order.Event {
	return testutil.Lifecycle("ord-1")
}

// =============================================================================
// Payload comparison
// =============================================================================

func TestEqual(t *testing.T) {
	t.Run("decimals compare by value", func(t *testing.T) {
		a := order.OrderRefunded{Amount: decimal.RequireFromString("5.00"), Reason: "r"}
		b := order.OrderRefunded{Amount: decimal.RequireFromString("5"), Reason: "r"}

		// The JSON encoding of shopspring decimals drops trailing zeros.
		assert.True(t, Equal(a, b))
	})

	t.Run("different types", func(t *testing.T) {
		assert.False(t, Equal(paid, shipped))
	})

	t.Run("different fields", func(t *testing.T) {
		assert.False(t, Equal(paid, order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-2"}))
	})
}

func TestPayloads(t *testing.T) {
	history := []order.Envelope{
		{AggregateID: "ord-1", Sequence: 1, OccurredAt: time.Now(), Payload: testutil.Created("ord-1")},
		{AggregateID: "ord-1", Sequence: 2, OccurredAt: time.Now(), Payload: paid},
	}

	events := Payloads(history)
	require.Len(t, events, 2)
	assert.Equal(t, order.TypeOrderPaid, events[1].EventType())
}

// =============================================================================
// Assertions
// =============================================================================

func TestAssertEventTypes(t *testing.T) {
	t.Run("passes in order", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventTypes(m, lifecycle(), order.TypeOrderCreated, order.TypeOrderPaid, order.TypeOrderShipped, order.TypeOrderDelivered)
		})
		assert.False(t, mt.Failed())
	})

	t.Run("fails on count", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventTypes(m, lifecycle(), order.TypeOrderCreated)
		})
		assert.True(t, mt.Fatal_)
	})

	t.Run("fails on type", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventTypes(m, []order.Event{paid}, order.TypeOrderShipped)
		})
		assert.True(t, mt.Failed())
		assert.False(t, mt.Fatal_)
		assert.Contains(t, mt.Message, "expected type")
	})
}

func TestAssertEventData(t *testing.T) {
	t.Run("match", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventData(m, order.Event(paid), paid)
		})
		assert.False(t, mt.Failed())
	})

	t.Run("wrong type", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventData(m, order.Event(shipped), paid)
		})
		assert.True(t, mt.Fatal_)
	})

	t.Run("wrong data", func(t *testing.T) {
		mt := testutil.RunWithMockT(func(m *testutil.MockT) {
			AssertEventData(m, order.Event(paid), order.OrderPaid{PaymentMethod: "cash"})
		})
		assert.True(t, mt.Failed())
		assert.Contains(t, mt.Message, "mismatch")
	})
}

func TestAssertEventCountAndNoEvents(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventCount(m, lifecycle(), 4)
		AssertNoEvents(m, nil)
	})
	assert.False(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertNoEvents(m, []order.Event{paid})
	})
	assert.True(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventCount(m, nil, 1)
	})
	assert.True(t, mt.Failed())
}

func TestAssertLastEvent(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertLastEvent(m, lifecycle(), delivered)
	})
	assert.False(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertLastEvent(m, nil, delivered)
	})
	assert.True(t, mt.Fatal_)
}

func TestAssertContainsEventType(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContainsEventType(m, lifecycle(), order.TypeOrderShipped)
	})
	assert.False(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContainsEventType(m, lifecycle(), order.TypeOrderRefunded)
	})
	assert.True(t, mt.Failed())
}

func TestAssertContiguous(t *testing.T) {
	good := []order.Envelope{
		{AggregateID: "ord-1", Sequence: 1, Payload: testutil.Created("ord-1")},
		{AggregateID: "ord-1", Sequence: 2, Payload: paid},
	}
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContiguous(m, "ord-1", good)
	})
	assert.False(t, mt.Failed())

	gap := []order.Envelope{
		{AggregateID: "ord-1", Sequence: 1, Payload: testutil.Created("ord-1")},
		{AggregateID: "ord-1", Sequence: 3, Payload: paid},
	}
	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContiguous(m, "ord-1", gap)
	})
	assert.True(t, mt.Failed())

	foreign := []order.Envelope{{AggregateID: "ord-2", Sequence: 1, Payload: testutil.Created("ord-2")}}
	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertContiguous(m, "ord-1", foreign)
	})
	assert.True(t, mt.Failed())
}

// =============================================================================
// Diffs
// =============================================================================

func TestDiffType_String(t *testing.T) {
	assert.Equal(t, "missing", DiffMissing.String())
	assert.Equal(t, "extra", DiffExtra.String())
	assert.Equal(t, "mismatch", DiffMismatch.String())
	assert.Equal(t, "unknown", DiffType(99).String())
}

func TestDiffEvents(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		assert.Empty(t, DiffEvents(lifecycle(), lifecycle()))
	})

	t.Run("missing, extra and mismatch", func(t *testing.T) {
		expected := []order.Event{paid, shipped}
		actual := []order.Event{paid, delivered, shipped}

		diffs := DiffEvents(expected, actual)
		require.Len(t, diffs, 2)
		assert.Equal(t, DiffMismatch, diffs[0].Type)
		assert.Equal(t, 1, diffs[0].Index)
		assert.Equal(t, DiffExtra, diffs[1].Type)
		assert.Equal(t, 2, diffs[1].Index)

		diffs = DiffEvents(actual, expected)
		require.Len(t, diffs, 2)
		assert.Equal(t, DiffMissing, diffs[1].Type)
	})
}

func TestFormatDiffs(t *testing.T) {
	assert.Equal(t, "no differences", FormatDiffs(nil))

	out := FormatDiffs(DiffEvents([]order.Event{paid}, []order.Event{shipped, delivered}))
	assert.Contains(t, out, "Event 0 (mismatch)")
	assert.Contains(t, out, "- OrderPaid")
	assert.Contains(t, out, "+ OrderShipped")
	assert.Contains(t, out, "Event 1 (extra)")
	assert.Contains(t, out, "(unexpected)")
}

func TestAssertEventsEqual(t *testing.T) {
	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventsEqual(m, lifecycle(), lifecycle())
	})
	assert.False(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertEventsEqual(m, lifecycle(), lifecycle()[:2])
	})
	assert.True(t, mt.Failed())
	assert.Contains(t, mt.Message, "Event differences")
}

// =============================================================================
// Matchers
// =============================================================================

func TestMatchers(t *testing.T) {
	events := lifecycle()

	assert.Equal(t, 1, CountMatches(events, MatchEventType(order.TypeOrderPaid)))
	assert.Equal(t, 1, CountMatches(events, MatchEvent(shipped)))
	assert.Equal(t, 0, CountMatches(events, MatchEvent(order.OrderShipped{TrackingNumber: "other"})))

	mt := testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertAnyMatch(m, events, MatchEventType(order.TypeOrderDelivered))
		AssertNoneMatch(m, events, MatchEventType(order.TypeOrderCancelled))
	})
	assert.False(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertAnyMatch(m, events, MatchEventType(order.TypeOrderRefunded))
	})
	assert.True(t, mt.Failed())

	mt = testutil.RunWithMockT(func(m *testutil.MockT) {
		AssertNoneMatch(m, events, MatchEventType(order.TypeOrderPaid))
	})
	assert.True(t, mt.Failed())
}
