package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// =============================================================================
// Order Event Fixtures
// =============================================================================

// Created returns an OrderCreated payload for orderID with a total of 40.00.
func Created(orderID string) order.OrderCreated {
	return order.OrderCreated{
		OrderID:         orderID,
		CustomerID:      "c1",
		Items:           []order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}},
		TotalAmount:     decimal.RequireFromString("40.00"),
		ShippingAddress: "Via Roma 1",
	}
}

// Lifecycle returns the payloads of a delivered order: created, paid, shipped, delivered.
func Lifecycle(orderID string) []order.Event {
	return []order.Event{
		Created(orderID),
		order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-123"},
		order.OrderShipped{TrackingNumber: "TRK1", Carrier: "DHL"},
		order.OrderDelivered{DeliveryConfirmation: "signed"},
	}
}

// Record builds a raw event record by JSON-encoding the payload.
func Record(e order.Event, occurredAt time.Time) adapters.EventRecord {
	data, err := json.Marshal(e)
	if err != nil {
		panic(fmt.Sprintf("testutil: cannot encode %s: %v", e.EventType(), err))
	}
	return adapters.EventRecord{
		Type:       e.EventType().String(),
		Data:       data,
		OccurredAt: occurredAt,
	}
}

// RawRecords builds n opaque records of the given type.
func RawRecords(eventType string, n int) []adapters.EventRecord {
	records := make([]adapters.EventRecord, n)
	for i := range records {
		records[i] = adapters.EventRecord{
			Type:       eventType,
			Data:       []byte(fmt.Sprintf(`{"n":%d}`, i)),
			OccurredAt: time.Now().UTC().Truncate(time.Microsecond),
		}
	}
	return records
}

// OrderRecord returns a projection record for orderID in the given status.
func OrderRecord(orderID, customerID string, status order.Status, updatedAt time.Time) *adapters.OrderRecord {
	return &adapters.OrderRecord{
		OrderID:         orderID,
		Status:          status,
		CustomerID:      customerID,
		Items:           []order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}},
		TotalAmount:     decimal.RequireFromString("40.00"),
		ShippingAddress: "Via Roma 1",
		Version:         1,
		CreatedAt:       updatedAt,
		UpdatedAt:       updatedAt,
	}
}
