package msgpack

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()

	tests := []struct {
		name  string
		event order.Event
	}{
		{"created", testutil.Created("ord-1")},
		{"paid", order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-123"}},
		{"shipped", order.OrderShipped{TrackingNumber: "TRK1", Carrier: "DHL"}},
		{"delivered", order.OrderDelivered{DeliveryConfirmation: "signed"}},
		{"cancelled", order.OrderCancelled{Reason: "customer request"}},
		{"refunded", order.OrderRefunded{Amount: decimal.RequireFromString("12.50"), Reason: "defect"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := s.Serialize(tt.event)
			require.NoError(t, err)

			decoded, err := s.Deserialize(data, tt.event.EventType().String())
			require.NoError(t, err)
			assert.Equal(t, tt.event.EventType(), decoded.EventType())

			// Decimals may differ in representation; compare their JSON forms.
			want, err := json.Marshal(tt.event)
			require.NoError(t, err)
			got, err := json.Marshal(decoded)
			require.NoError(t, err)
			assert.JSONEq(t, string(want), string(got))
		})
	}
}

func TestSerializer_Errors(t *testing.T) {
	s := NewSerializer()

	t.Run("nil event", func(t *testing.T) {
		_, err := s.Serialize(nil)
		assert.ErrorIs(t, err, orderstream.ErrSerializationFailed)
	})

	t.Run("empty data", func(t *testing.T) {
		_, err := s.Deserialize(nil, order.TypeOrderPaid.String())
		assert.ErrorIs(t, err, orderstream.ErrSerializationFailed)
	})

	t.Run("unknown type", func(t *testing.T) {
		data, err := s.Serialize(order.OrderPaid{PaymentMethod: "card", TransactionID: "tx"})
		require.NoError(t, err)

		_, err = s.Deserialize(data, "OrderTeleported")
		assert.ErrorIs(t, err, orderstream.ErrUnknownEventType)
	})

	t.Run("corrupt data", func(t *testing.T) {
		_, err := s.Deserialize([]byte{0xc1}, order.TypeOrderPaid.String())

		var serErr *orderstream.SerializationError
		require.ErrorAs(t, err, &serErr)
		assert.Equal(t, "deserialize", serErr.Operation)
	})
}

func TestSerializer_WithEventStore(t *testing.T) {
	ctx := context.Background()
	store := orderstream.New(memory.NewAdapter(), orderstream.WithSerializer(NewSerializer()))
	service := orderstream.NewOrderService(store, nil)

	_, err := service.CreateOrder(ctx, "ord-1", "c1",
		[]order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}},
		decimal.RequireFromString("40.00"), "Via Roma 1")
	require.NoError(t, err)
	state, err := service.PayOrder(ctx, "ord-1", "card", "tx-123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Version)

	result, err := store.ReplayEvents(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, result.State.Status)
	assert.True(t, decimal.RequireFromString("40").Equal(result.State.TotalAmount))
}
