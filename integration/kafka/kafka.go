// Package kafka publishes committed order events to a Kafka topic using
// github.com/segmentio/kafka-go.
//
// Publisher is an orderstream.EventListener: register it with
// orderstream.WithListeners and every committed event is written as one
// JSON message keyed by order ID, so all events of an order land on the
// same partition in sequence order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// DefaultTopic is the topic events are published to unless WithTopic is given.
const DefaultTopic = "orderstream.orders"

// Header keys set on every message.
const (
	HeaderEventType     = "event_type"
	HeaderEventID       = "event_id"
	HeaderCorrelationID = "correlation_id"
)

// OrderEvent is the Kafka message envelope for committed order events.
type OrderEvent struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Status      string          `json:"status"`
	Version     int64           `json:"version"`
	TotalAmount string          `json:"total_amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// MessageWriter writes Kafka messages. *kafkago.Writer implements it.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes committed order events to Kafka.
type Publisher struct {
	brokers      []string
	topic        string
	balancer     kafkago.Balancer
	batchTimeout time.Duration

	mu     sync.Mutex
	writer MessageWriter
	closed bool
}

var _ orderstream.EventListener = (*Publisher)(nil)

// Option configures a Kafka Publisher.
type Option func(*Publisher)

// WithBrokers sets the Kafka broker addresses.
func WithBrokers(brokers ...string) Option {
	return func(p *Publisher) {
		p.brokers = brokers
	}
}

// WithTopic sets the destination topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithBalancer sets the message balancer (partitioner).
func WithBalancer(balancer kafkago.Balancer) Option {
	return func(p *Publisher) {
		p.balancer = balancer
	}
}

// WithBatchTimeout sets the batch timeout for the writer.
func WithBatchTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		p.batchTimeout = d
	}
}

// WithWriter replaces the Kafka writer, e.g. with one sharing a transport.
func WithWriter(w MessageWriter) Option {
	return func(p *Publisher) {
		p.writer = w
	}
}

// New creates a new Kafka Publisher. The writer is created lazily on the
// first publish.
func New(opts ...Option) *Publisher {
	p := &Publisher{
		brokers:      []string{"localhost:9092"},
		topic:        DefaultTopic,
		balancer:     &kafkago.Hash{},
		batchTimeout: 10 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Topic returns the destination topic.
func (p *Publisher) Topic() string {
	return p.topic
}

// OnCommitted publishes the event.
func (p *Publisher) OnCommitted(ctx context.Context, event orderstream.Event, state order.State) error {
	msg, err := NewMessage(event, state)
	if err != nil {
		return err
	}
	return p.Publish(ctx, msg)
}

// Publish writes messages to the topic.
func (p *Publisher) Publish(ctx context.Context, msgs ...kafkago.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	w, err := p.getWriter()
	if err != nil {
		return err
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: failed to write to topic %s: %w", p.topic, err)
	}
	return nil
}

// NewMessage builds the Kafka message for a committed event.
func NewMessage(event orderstream.Event, state order.State) (kafkago.Message, error) {
	if event.Payload == nil {
		return kafkago.Message{}, errors.New("kafka: event has no payload")
	}
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: encode %s payload: %w", event.Type, err)
	}

	value, err := json.Marshal(OrderEvent{
		EventID:     event.ID,
		EventType:   event.Type.String(),
		OrderID:     event.AggregateID,
		CustomerID:  state.CustomerID,
		Status:      state.Status.String(),
		Version:     event.Sequence,
		TotalAmount: state.TotalAmount.StringFixed(2),
		OccurredAt:  event.OccurredAt.UTC(),
		Payload:     payload,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("kafka: encode envelope: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafkago.Header{
			{Key: HeaderEventType, Value: []byte(event.Type.String())},
			{Key: HeaderEventID, Value: []byte(event.ID)},
		},
	}
	if event.Metadata.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafkago.Header{
			Key:   HeaderCorrelationID,
			Value: []byte(event.Metadata.CorrelationID),
		})
	}
	return msg, nil
}

// Close closes the Kafka writer. Closing twice is a no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// getWriter returns or creates the Kafka writer.
func (p *Publisher) getWriter() (MessageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.New("kafka: publisher closed")
	}
	if p.writer == nil {
		p.writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(p.brokers...),
			Topic:                  p.topic,
			Balancer:               p.balancer,
			BatchTimeout:           p.batchTimeout,
			AllowAutoTopicCreation: true,
		}
	}
	return p.writer, nil
}
