package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	closes   int
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	return nil
}

func headers(msg kafkago.Message) map[string]string {
	m := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		m[h.Key] = string(h.Value)
	}
	return m
}

func TestNew_Defaults(t *testing.T) {
	p := New()
	assert.Equal(t, []string{"localhost:9092"}, p.brokers)
	assert.Equal(t, DefaultTopic, p.Topic())
	assert.NotNil(t, p.balancer)
}

func TestNew_Options(t *testing.T) {
	balancer := &kafkago.RoundRobin{}
	p := New(
		WithBrokers("broker1:9092", "broker2:9092"),
		WithTopic("orders"),
		WithBalancer(balancer),
		WithBatchTimeout(500*time.Millisecond),
	)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, p.brokers)
	assert.Equal(t, "orders", p.Topic())
	assert.Equal(t, balancer, p.balancer)
	assert.Equal(t, 500*time.Millisecond, p.batchTimeout)
}

func TestNewMessage(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	event := orderstream.Event{
		ID:          "evt-2",
		AggregateID: "ord-1",
		Type:        order.TypeOrderPaid,
		Sequence:    2,
		OccurredAt:  at,
		Metadata:    orderstream.Metadata{CorrelationID: "corr-abc"},
		Payload:     order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-123"},
	}
	state := order.State{
		OrderID:     "ord-1",
		CustomerID:  "c1",
		Status:      order.StatusPaid,
		TotalAmount: decimal.RequireFromString("40"),
		Version:     2,
	}

	msg, err := NewMessage(event, state)
	require.NoError(t, err)

	assert.Equal(t, []byte("ord-1"), msg.Key)
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, map[string]string{
		HeaderEventType:     "OrderPaid",
		HeaderEventID:       "evt-2",
		HeaderCorrelationID: "corr-abc",
	}, headers(msg))

	var envelope OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, "evt-2", envelope.EventID)
	assert.Equal(t, "OrderPaid", envelope.EventType)
	assert.Equal(t, "ord-1", envelope.OrderID)
	assert.Equal(t, "c1", envelope.CustomerID)
	assert.Equal(t, order.StatusPaid.String(), envelope.Status)
	assert.Equal(t, int64(2), envelope.Version)
	assert.Equal(t, "40.00", envelope.TotalAmount)
	assert.True(t, at.Equal(envelope.OccurredAt))
	assert.JSONEq(t, `{"paymentMethod":"card","transactionId":"tx-123"}`, string(envelope.Payload))
}

func TestNewMessage_NoCorrelationHeader(t *testing.T) {
	msg, err := NewMessage(orderstream.Event{
		ID:          "evt-1",
		AggregateID: "ord-1",
		Type:        order.TypeOrderCancelled,
		Sequence:    2,
		Payload:     order.OrderCancelled{Reason: "changed mind"},
	}, order.State{OrderID: "ord-1", Status: order.StatusCancelled})
	require.NoError(t, err)

	_, ok := headers(msg)[HeaderCorrelationID]
	assert.False(t, ok)
}

func TestNewMessage_NoPayload(t *testing.T) {
	_, err := NewMessage(orderstream.Event{AggregateID: "ord-1"}, order.State{})
	assert.Error(t, err)
}

func TestPublisher_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("no messages", func(t *testing.T) {
		w := &fakeWriter{}
		p := New(WithWriter(w))
		require.NoError(t, p.Publish(ctx))
		assert.Empty(t, w.messages)
	})

	t.Run("write failure", func(t *testing.T) {
		w := &fakeWriter{err: errors.New("leader not available")}
		p := New(WithWriter(w), WithTopic("orders"))

		err := p.Publish(ctx, kafkago.Message{Key: []byte("ord-1")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "orders")
		assert.Contains(t, err.Error(), "leader not available")
	})

	t.Run("after close", func(t *testing.T) {
		w := &fakeWriter{}
		p := New(WithWriter(w))
		require.NoError(t, p.Close())

		err := p.Publish(ctx, kafkago.Message{Key: []byte("ord-1")})
		assert.Error(t, err)
		assert.Empty(t, w.messages)
	})
}

func TestPublisher_Close_Idempotent(t *testing.T) {
	w := &fakeWriter{}
	p := New(WithWriter(w))

	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close())
	assert.Equal(t, 1, w.closes)
}

func TestPublisher_Close_WithoutWriter(t *testing.T) {
	assert.NoError(t, New().Close())
}

func TestPublisher_AsServiceListener(t *testing.T) {
	ctx := context.Background()
	w := &fakeWriter{}
	p := New(WithWriter(w))

	store := orderstream.New(memory.NewAdapter())
	service := orderstream.NewOrderService(store, nil, orderstream.WithListeners(p))

	_, err := service.CreateOrder(ctx, "ord-1", "c1",
		[]order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}},
		decimal.RequireFromString("40.00"), "Via Roma 1")
	require.NoError(t, err)
	_, err = service.PayOrder(ctx, "ord-1", "card", "tx-123")
	require.NoError(t, err)

	require.Len(t, w.messages, 2)
	types := []string{headers(w.messages[0])[HeaderEventType], headers(w.messages[1])[HeaderEventType]}
	assert.Equal(t, []string{"OrderCreated", "OrderPaid"}, types)

	var paid OrderEvent
	require.NoError(t, json.Unmarshal(w.messages[1].Value, &paid))
	assert.Equal(t, "ord-1", paid.OrderID)
	assert.Equal(t, "c1", paid.CustomerID)
	assert.Equal(t, int64(2), paid.Version)
}

func TestPublisher_FailureDoesNotFailCommand(t *testing.T) {
	ctx := context.Background()
	p := New(WithWriter(&fakeWriter{err: errors.New("broker down")}))

	store := orderstream.New(memory.NewAdapter())
	service := orderstream.NewOrderService(store, nil, orderstream.WithListeners(p))

	state, err := service.CreateOrder(ctx, "ord-1", "c1",
		[]order.LineItem{{SKU: "A", Quantity: 1, UnitPrice: decimal.RequireFromString("5")}},
		decimal.RequireFromString("5"), "Via Roma 1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version)
}

// =============================================================================
// Integration test helpers
// =============================================================================

type integrationEnv struct {
	brokers   string
	topic     string
	publisher *Publisher
	ctx       context.Context
}

func setupIntegration(t *testing.T) *integrationEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test (short mode)")
	}
	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		t.Skip("TEST_KAFKA_BROKERS not set")
	}

	topic := fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
	createTopic(t, brokers, topic)

	p := New(WithBrokers(brokers), WithTopic(topic), WithBatchTimeout(10*time.Millisecond))
	t.Cleanup(func() { _ = p.Close() })

	return &integrationEnv{
		brokers:   brokers,
		topic:     topic,
		publisher: p,
		ctx:       context.Background(),
	}
}

// readMessage reads one message from the env's topic.
func (e *integrationEnv) readMessage(t *testing.T) kafkago.Message {
	t.Helper()
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   []string{e.brokers},
		Topic:     e.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   5 * time.Second,
	})
	defer reader.Close()

	readCtx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	require.NoError(t, err)
	return msg
}

// createTopic pre-creates a Kafka topic and waits until it's available.
func createTopic(t *testing.T, brokers string, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		partitions, err := conn.ReadPartitions(topic)
		if err == nil && len(partitions) > 0 {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("topic %s not available after 10s", topic)
}

// =============================================================================
// Integration tests
// =============================================================================

func TestKafkaPublisher_OnCommitted_Integration(t *testing.T) {
	env := setupIntegration(t)

	store := orderstream.New(memory.NewAdapter())
	service := orderstream.NewOrderService(store, nil, orderstream.WithListeners(env.publisher))

	ctx := orderstream.ContextWithMetadata(env.ctx, orderstream.Metadata{CorrelationID: "corr-abc"})
	_, err := service.CreateOrder(ctx, "order-123", "c1",
		[]order.LineItem{{SKU: "A", Quantity: 1, UnitPrice: decimal.RequireFromString("9.99")}},
		decimal.RequireFromString("9.99"), "Via Roma 1")
	require.NoError(t, err)

	msg := env.readMessage(t)
	assert.Equal(t, []byte("order-123"), msg.Key)
	assert.Equal(t, "OrderCreated", headers(msg)[HeaderEventType])
	assert.Equal(t, "corr-abc", headers(msg)[HeaderCorrelationID])

	var envelope OrderEvent
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, "9.99", envelope.TotalAmount)
	assert.Equal(t, int64(1), envelope.Version)
}

func TestKafkaPublisher_Close_Integration(t *testing.T) {
	env := setupIntegration(t)
	msg, err := NewMessage(orderstream.Event{
		ID: "evt-1", AggregateID: "order-1", Type: order.TypeOrderCancelled, Sequence: 2,
		Payload: order.OrderCancelled{Reason: "test"},
	}, order.State{OrderID: "order-1", Status: order.StatusCancelled})
	require.NoError(t, err)
	require.NoError(t, env.publisher.Publish(env.ctx, msg))

	assert.NoError(t, env.publisher.Close())
	assert.NoError(t, env.publisher.Close())
}
