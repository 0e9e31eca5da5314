package orderstream

import (
	"encoding/json"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// Serializer handles event payload serialization and deserialization.
type Serializer interface {
	// Serialize converts an event payload to bytes.
	Serialize(event order.Event) ([]byte, error)

	// Deserialize converts bytes back to a payload.
	// The eventType selects the payload type.
	Deserialize(data []byte, eventType string) (order.Event, error)
}

// JSONSerializer is the default Serializer implementation using JSON encoding.
type JSONSerializer struct{}

// NewJSONSerializer creates a new JSONSerializer.
func NewJSONSerializer() *JSONSerializer {
	return &JSONSerializer{}
}

// Serialize converts an event to JSON bytes.
func (s *JSONSerializer) Serialize(event order.Event) ([]byte, error) {
	if event == nil {
		return nil, NewSerializationError("", "serialize", ErrNoEvents)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, NewSerializationError(event.EventType().String(), "serialize", err)
	}
	return data, nil
}

// Deserialize converts JSON bytes back to the payload named by eventType.
func (s *JSONSerializer) Deserialize(data []byte, eventType string) (order.Event, error) {
	event, err := order.Decode(eventType, data, json.Unmarshal)
	if err != nil {
		return nil, NewSerializationError(eventType, "deserialize", err)
	}
	return event, nil
}

// Ensure JSONSerializer implements Serializer.
var _ Serializer = (*JSONSerializer)(nil)
