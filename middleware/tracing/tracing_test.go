package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestTracer(t *testing.T) (*Tracer, *tracetest.InMemoryExporter) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})

	tracer := NewTracer(WithTracerProvider(tp))
	return tracer, exporter
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func spanNamed(t *testing.T, spans tracetest.SpanStubs, name string) tracetest.SpanStub {
	t.Helper()
	for _, s := range spans {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("no span named %q", name)
	return tracetest.SpanStub{}
}

func items() []order.LineItem {
	return []order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}}
}

// =============================================================================
// Tracer Tests
// =============================================================================

func TestNewTracer(t *testing.T) {
	t.Run("creates tracer with defaults", func(t *testing.T) {
		tracer := NewTracer()

		assert.NotNil(t, tracer)
		assert.Equal(t, DefaultServiceName, tracer.ServiceName())
		assert.NotNil(t, tracer.Tracer())
	})

	t.Run("with custom service name", func(t *testing.T) {
		tracer := NewTracer(WithServiceName("custom-service"))

		assert.Equal(t, "custom-service", tracer.ServiceName())
	})
}

func TestTracer_StartSpan(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	_, span := tracer.StartSpan(context.Background(), "test-span")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "test-span", spans[0].Name)
}

// =============================================================================
// Command Middleware Tests
// =============================================================================

func TestCommandMiddleware(t *testing.T) {
	t.Run("traces successful command", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		handler := CommandMiddleware(tracer)(func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
			return order.State{Status: order.StatusPaid, Version: 2}, nil
		})
		ctx := orderstream.ContextWithMetadata(context.Background(), orderstream.Metadata{CorrelationID: "corr-1"})

		_, err := handler(ctx, "ord-1", orderstream.PayOrder{PaymentMethod: "card", TransactionID: "tx"})
		require.NoError(t, err)

		span := spanNamed(t, exporter.GetSpans(), "command.PayOrder")
		assert.Equal(t, codes.Ok, span.Status.Code)
		assert.Equal(t, trace.SpanKindInternal, span.SpanKind)

		orderID, ok := attr(span, "orderstream.order_id")
		require.True(t, ok)
		assert.Equal(t, "ord-1", orderID.AsString())
		version, _ := attr(span, "orderstream.result.version")
		assert.Equal(t, int64(2), version.AsInt64())
		status, _ := attr(span, "orderstream.result.status")
		assert.Equal(t, "paid", status.AsString())
		correlation, _ := attr(span, "orderstream.correlation_id")
		assert.Equal(t, "corr-1", correlation.AsString())
	})

	t.Run("traces failed command", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		conflict := adapters.NewConcurrencyError("ord-1", 1, 2)
		handler := CommandMiddleware(tracer)(func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
			return order.State{}, conflict
		})

		_, err := handler(context.Background(), "ord-1", orderstream.CancelOrder{})
		require.Error(t, err)

		span := spanNamed(t, exporter.GetSpans(), "command.CancelOrder")
		assert.Equal(t, codes.Error, span.Status.Code)
		assert.NotEmpty(t, span.Events)
		retryable, _ := attr(span, "orderstream.retryable")
		assert.True(t, retryable.AsBool())
	})

	t.Run("skips nil commands", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		handler := CommandMiddleware(tracer)(func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
			return order.State{}, orderstream.ErrNilCommand
		})

		_, err := handler(context.Background(), "ord-1", nil)

		assert.ErrorIs(t, err, orderstream.ErrNilCommand)
		assert.Empty(t, exporter.GetSpans())
	})
}

// =============================================================================
// Adapter Middleware Tests
// =============================================================================

func TestAdapterMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("command spans parent store spans", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := orderstream.New(NewAdapterMiddleware(memory.NewAdapter(), tracer))
		service := orderstream.NewOrderService(store, nil, orderstream.WithMiddleware(CommandMiddleware(tracer)))

		_, err := service.CreateOrder(ctx, "ord-1", "c1", items(), decimal.RequireFromString("40"), "Via Roma 1")
		require.NoError(t, err)

		spans := exporter.GetSpans()
		command := spanNamed(t, spans, "command.CreateOrder")
		load := spanNamed(t, spans, "eventstore.load")
		appendSpan := spanNamed(t, spans, "eventstore.append")

		assert.Equal(t, command.SpanContext.SpanID(), load.Parent.SpanID())
		assert.Equal(t, command.SpanContext.SpanID(), appendSpan.Parent.SpanID())
		assert.Equal(t, trace.SpanKindClient, appendSpan.SpanKind)

		types, _ := attr(appendSpan, "orderstream.events.types")
		assert.Equal(t, []string{string(order.TypeOrderCreated)}, types.AsStringSlice())
		sequence, _ := attr(appendSpan, "orderstream.stored.sequence")
		assert.Equal(t, int64(1), sequence.AsInt64())
	})

	t.Run("records append conflicts", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		adapter := NewAdapterMiddleware(memory.NewAdapter(), tracer)

		_, err := adapter.Append(ctx, "ord-1", []adapters.EventRecord{testutil.Record(testutil.Created("ord-1"), time.Now())}, 5)
		require.ErrorIs(t, err, adapters.ErrConcurrencyConflict)

		span := spanNamed(t, exporter.GetSpans(), "eventstore.append")
		assert.Equal(t, codes.Error, span.Status.Code)
	})

	t.Run("traces queries", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		adapter := NewAdapterMiddleware(memory.NewAdapter(), tracer)
		require.NoError(t, adapter.Initialize(ctx))
		_, err := adapter.Append(ctx, "ord-1", []adapters.EventRecord{testutil.Record(testutil.Created("ord-1"), time.Now())}, adapters.NoStream)
		require.NoError(t, err)

		_, err = adapter.LoadByType(ctx, string(order.TypeOrderCreated))
		require.NoError(t, err)
		_, err = adapter.LoadInRange(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		require.NoError(t, err)
		version, err := adapter.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
		ids, err := adapter.AggregateIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"ord-1"}, ids)
		deleted, err := adapter.DeleteStream(ctx, "ord-1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)
		assert.NoError(t, adapter.Ping(ctx))

		spans := exporter.GetSpans()
		for _, name := range []string{
			"eventstore.initialize",
			"eventstore.load_by_type",
			"eventstore.load_in_range",
			"eventstore.current_version",
			"eventstore.aggregate_ids",
			"eventstore.delete_stream",
		} {
			span := spanNamed(t, spans, name)
			assert.Equal(t, codes.Ok, span.Status.Code, name)
		}
		require.NoError(t, adapter.Close())
	})

	t.Run("records load failures", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		mock := testutil.NewMockAdapter()
		mock.LoadErr = errors.New("connection reset")
		adapter := NewAdapterMiddleware(mock, tracer)

		_, err := adapter.Load(ctx, "ord-1", 0)

		require.Error(t, err)
		span := spanNamed(t, exporter.GetSpans(), "eventstore.load")
		assert.Equal(t, codes.Error, span.Status.Code)
		assert.Equal(t, "connection reset", span.Status.Description)
	})
}

// =============================================================================
// Projection Store Middleware Tests
// =============================================================================

func TestProjectionStoreMiddleware(t *testing.T) {
	ctx := context.Background()

	t.Run("traces writes and reads", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := NewProjectionStoreMiddleware(memory.NewProjectionStore(), tracer)
		record := testutil.OrderRecord("ord-1", "c1", order.StatusPaid, time.Now())

		require.NoError(t, store.Upsert(ctx, record))
		_, err := store.Get(ctx, "ord-1")
		require.NoError(t, err)
		records, err := store.List(ctx, adapters.RecordFilter{Status: order.StatusPaid})
		require.NoError(t, err)
		assert.Len(t, records, 1)
		require.NoError(t, store.Delete(ctx, "ord-1"))
		require.NoError(t, store.Clear(ctx))

		spans := exporter.GetSpans()
		upsert := spanNamed(t, spans, "projection.upsert")
		status, _ := attr(upsert, "orderstream.order.status")
		assert.Equal(t, "paid", status.AsString())
		count, _ := attr(spanNamed(t, spans, "projection.list"), "orderstream.records.count")
		assert.Equal(t, int64(1), count.AsInt64())
		spanNamed(t, spans, "projection.delete")
		spanNamed(t, spans, "projection.clear")
	})

	t.Run("missing record is not a span error", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := NewProjectionStoreMiddleware(memory.NewProjectionStore(), tracer)

		_, err := store.Get(ctx, "ghost")

		assert.ErrorIs(t, err, adapters.ErrRecordNotFound)
		span := spanNamed(t, exporter.GetSpans(), "projection.get")
		assert.NotEqual(t, codes.Error, span.Status.Code)
		found, _ := attr(span, "orderstream.found")
		assert.False(t, found.AsBool())
	})

	t.Run("stale write is not a span error", func(t *testing.T) {
		tracer, exporter := setupTestTracer(t)
		store := NewProjectionStoreMiddleware(memory.NewProjectionStore(), tracer)
		newer := testutil.OrderRecord("ord-1", "c1", order.StatusPaid, time.Now())
		newer.Version = 2
		require.NoError(t, store.Upsert(ctx, newer))
		exporter.Reset()

		err := store.Upsert(ctx, testutil.OrderRecord("ord-1", "c1", order.StatusCreated, time.Now()))

		assert.ErrorIs(t, err, adapters.ErrStaleRecord)
		span := spanNamed(t, exporter.GetSpans(), "projection.upsert")
		assert.NotEqual(t, codes.Error, span.Status.Code)
		stale, _ := attr(span, "orderstream.stale")
		assert.True(t, stale.AsBool())
	})
}

// =============================================================================
// Span Helper Tests
// =============================================================================

func TestSpanHelpers(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	ctx, span := tracer.StartSpan(context.Background(), "helpers")

	assert.Equal(t, span, SpanFromContext(ctx))
	AddEvent(ctx, "checkpoint")
	SetAttributes(ctx, attribute.String("key", "value"))
	SetError(ctx, errors.New("boom"))
	span.End()

	stub := spanNamed(t, exporter.GetSpans(), "helpers")
	assert.Equal(t, codes.Error, stub.Status.Code)
	value, ok := attr(stub, "key")
	require.True(t, ok)
	assert.Equal(t, "value", value.AsString())
	assert.Len(t, stub.Events, 2)
}
