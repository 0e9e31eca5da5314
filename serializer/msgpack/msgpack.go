// Package msgpack provides a MessagePack serializer for order events.
//
// MessagePack is a binary serialization format that produces smaller payloads
// than JSON. Every adapter stores payloads as opaque bytes, so the serializer
// can be swapped without schema changes, but not for a store that already
// holds JSON payloads.
//
// Basic usage:
//
//	store := orderstream.New(adapter, orderstream.WithSerializer(msgpack.NewSerializer()))
package msgpack

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Serializer is a MessagePack implementation of orderstream.Serializer.
type Serializer struct{}

var _ orderstream.Serializer = (*Serializer)(nil)

// NewSerializer creates a new MessagePack Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Serialize converts an event to MessagePack bytes.
func (s *Serializer) Serialize(event order.Event) ([]byte, error) {
	if event == nil {
		return nil, orderstream.NewSerializationError("nil", "serialize", errors.New("event cannot be nil"))
	}

	data, err := msgpack.Marshal(event)
	if err != nil {
		return nil, orderstream.NewSerializationError(event.EventType().String(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts MessagePack bytes back to the payload named by eventType.
func (s *Serializer) Deserialize(data []byte, eventType string) (order.Event, error) {
	if len(data) == 0 {
		return nil, orderstream.NewSerializationError(eventType, "deserialize", fmt.Errorf("data cannot be empty"))
	}

	event, err := order.Decode(eventType, data, msgpack.Unmarshal)
	if err != nil {
		return nil, orderstream.NewSerializationError(eventType, "deserialize", err)
	}
	return event, nil
}
