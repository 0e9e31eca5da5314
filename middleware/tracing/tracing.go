// Package tracing provides OpenTelemetry integration for orderstream.
//
// This package enables distributed tracing for the order service, including
// command execution, event store operations, and projection writes.
//
// Basic usage:
//
//	tp := sdktrace.NewTracerProvider(...)
//	otel.SetTracerProvider(tp)
//
//	tracer := tracing.NewTracer()
//	store := orderstream.New(tracing.NewAdapterMiddleware(adapter, tracer))
//	service := orderstream.NewOrderService(store, projection,
//		orderstream.WithMiddleware(tracing.CommandMiddleware(tracer)))
//
// The tracing middleware captures:
//   - Command type, order ID and execution duration
//   - Success/failure status and the resulting order version
//   - Error details when commands fail
//   - Correlation IDs carried in the context metadata
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

const (
	// TracerName is the name of the orderstream tracer.
	TracerName = "github.com/AshkanYarmoradi/orderstream"

	// DefaultServiceName is the default service name for spans.
	DefaultServiceName = "orderstream"
)

// Tracer wraps OpenTelemetry tracer for orderstream operations.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// TracerOption configures a Tracer.
type TracerOption func(*Tracer)

// WithTracerProvider sets a custom TracerProvider.
func WithTracerProvider(tp trace.TracerProvider) TracerOption {
	return func(t *Tracer) {
		t.tracer = tp.Tracer(TracerName)
	}
}

// WithServiceName sets the service name for spans.
func WithServiceName(name string) TracerOption {
	return func(t *Tracer) {
		t.serviceName = name
	}
}

// NewTracer creates a new Tracer with the global TracerProvider.
func NewTracer(opts ...TracerOption) *Tracer {
	t := &Tracer{
		tracer:      otel.Tracer(TracerName),
		serviceName: DefaultServiceName,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// Tracer returns the underlying OpenTelemetry tracer.
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// ServiceName returns the configured service name.
func (t *Tracer) ServiceName() string {
	return t.serviceName
}

func (t *Tracer) startClient(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.StartSpan(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(append([]attribute.KeyValue{attribute.String("orderstream.service", t.serviceName)}, attrs...)...)
	return ctx, span
}

// finish records err on span, or marks it successful.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware creates middleware that traces command execution.
func CommandMiddleware(tracer *Tracer) orderstream.Middleware {
	return func(next orderstream.MiddlewareFunc) orderstream.MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
			if cmd == nil {
				return next(ctx, orderID, cmd)
			}

			ctx, span := tracer.StartSpan(ctx, fmt.Sprintf("command.%s", cmd.CommandType()),
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			defer span.End()

			span.SetAttributes(
				attribute.String("orderstream.service", tracer.serviceName),
				attribute.String("orderstream.command.type", cmd.CommandType()),
				attribute.String("orderstream.order_id", orderID),
			)
			if correlationID := orderstream.MetadataFromContext(ctx).CorrelationID; correlationID != "" {
				span.SetAttributes(attribute.String("orderstream.correlation_id", correlationID))
			}

			state, err := next(ctx, orderID, cmd)

			finish(span, err)
			if err == nil {
				span.SetAttributes(
					attribute.String("orderstream.result.status", state.Status.String()),
					attribute.Int64("orderstream.result.version", state.Version),
				)
			}
			span.SetAttributes(attribute.Bool("orderstream.retryable", orderstream.IsRetryable(err)))

			return state, err
		}
	}
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// AdapterMiddleware wraps an EventStoreAdapter with tracing.
type AdapterMiddleware struct {
	adapter adapters.EventStoreAdapter
	tracer  *Tracer
}

var (
	_ adapters.EventStoreAdapter = (*AdapterMiddleware)(nil)
	_ adapters.Purger            = (*AdapterMiddleware)(nil)
	_ adapters.HealthChecker     = (*AdapterMiddleware)(nil)
)

// NewAdapterMiddleware wraps an adapter with tracing.
func NewAdapterMiddleware(adapter adapters.EventStoreAdapter, tracer *Tracer) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		tracer:  tracer,
	}
}

// Append stores events with tracing.
func (m *AdapterMiddleware) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.append",
		attribute.String("orderstream.aggregate_id", aggregateID),
		attribute.Int64("orderstream.expected_version", expectedVersion),
		attribute.Int("orderstream.events.count", len(events)),
	)
	defer span.End()

	if len(events) > 0 {
		eventTypes := make([]string, len(events))
		for i, e := range events {
			eventTypes[i] = e.Type
		}
		span.SetAttributes(attribute.StringSlice("orderstream.events.types", eventTypes))
	}

	stored, err := m.adapter.Append(ctx, aggregateID, events, expectedVersion)

	finish(span, err)
	if err == nil && len(stored) > 0 {
		last := stored[len(stored)-1]
		span.SetAttributes(
			attribute.Int64("orderstream.stored.sequence", last.Sequence),
			attribute.Int64("orderstream.stored.global_position", int64(last.GlobalPosition)),
		)
	}

	return stored, err
}

// Load retrieves events with tracing.
func (m *AdapterMiddleware) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.load",
		attribute.String("orderstream.aggregate_id", aggregateID),
		attribute.Int64("orderstream.from_sequence", fromSequence),
	)
	defer span.End()

	events, err := m.adapter.Load(ctx, aggregateID, fromSequence)
	finish(span, err)
	span.SetAttributes(attribute.Int("orderstream.events.loaded", len(events)))
	return events, err
}

// LoadByType retrieves events of one type with tracing.
func (m *AdapterMiddleware) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.load_by_type",
		attribute.String("orderstream.event.type", eventType),
	)
	defer span.End()

	events, err := m.adapter.LoadByType(ctx, eventType)
	finish(span, err)
	span.SetAttributes(attribute.Int("orderstream.events.loaded", len(events)))
	return events, err
}

// LoadInRange retrieves events in a time range with tracing.
func (m *AdapterMiddleware) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.load_in_range",
		attribute.String("orderstream.range.start", start.UTC().Format(time.RFC3339Nano)),
		attribute.String("orderstream.range.end", end.UTC().Format(time.RFC3339Nano)),
	)
	defer span.End()

	events, err := m.adapter.LoadInRange(ctx, start, end)
	finish(span, err)
	span.SetAttributes(attribute.Int("orderstream.events.loaded", len(events)))
	return events, err
}

// CurrentVersion returns the aggregate's version with tracing.
func (m *AdapterMiddleware) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.current_version",
		attribute.String("orderstream.aggregate_id", aggregateID),
	)
	defer span.End()

	version, err := m.adapter.CurrentVersion(ctx, aggregateID)
	finish(span, err)
	span.SetAttributes(attribute.Int64("orderstream.version", version))
	return version, err
}

// AggregateIDs lists the known aggregates with tracing.
func (m *AdapterMiddleware) AggregateIDs(ctx context.Context) ([]string, error) {
	ctx, span := m.tracer.startClient(ctx, "eventstore.aggregate_ids")
	defer span.End()

	ids, err := m.adapter.AggregateIDs(ctx)
	finish(span, err)
	span.SetAttributes(attribute.Int("orderstream.aggregates.count", len(ids)))
	return ids, err
}

// DeleteStream deletes a history with tracing.
func (m *AdapterMiddleware) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	purger, ok := m.adapter.(adapters.Purger)
	if !ok {
		return 0, orderstream.ErrPurgeNotSupported
	}

	ctx, span := m.tracer.startClient(ctx, "eventstore.delete_stream",
		attribute.String("orderstream.aggregate_id", aggregateID),
		attribute.Int64("orderstream.expected_version", expectedVersion),
	)
	defer span.End()

	deleted, err := purger.DeleteStream(ctx, aggregateID, expectedVersion)
	finish(span, err)
	span.SetAttributes(attribute.Int64("orderstream.events.deleted", deleted))
	return deleted, err
}

// Ping checks the wrapped adapter when it supports health checks.
func (m *AdapterMiddleware) Ping(ctx context.Context) error {
	if hc, ok := m.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Initialize initializes the adapter with tracing.
func (m *AdapterMiddleware) Initialize(ctx context.Context) error {
	ctx, span := m.tracer.startClient(ctx, "eventstore.initialize")
	defer span.End()

	err := m.adapter.Initialize(ctx)
	finish(span, err)
	return err
}

// Close closes the adapter.
func (m *AdapterMiddleware) Close() error {
	return m.adapter.Close()
}

// =============================================================================
// Projection Store Middleware
// =============================================================================

// ProjectionStoreMiddleware wraps a ProjectionStore with tracing.
type ProjectionStoreMiddleware struct {
	store  adapters.ProjectionStore
	tracer *Tracer
}

var _ adapters.ProjectionStore = (*ProjectionStoreMiddleware)(nil)

// NewProjectionStoreMiddleware wraps a projection store with tracing.
func NewProjectionStoreMiddleware(store adapters.ProjectionStore, tracer *Tracer) *ProjectionStoreMiddleware {
	return &ProjectionStoreMiddleware{store: store, tracer: tracer}
}

// Upsert writes a record with tracing. A stale write is not a span error.
func (m *ProjectionStoreMiddleware) Upsert(ctx context.Context, record *adapters.OrderRecord) error {
	attrs := []attribute.KeyValue{}
	if record != nil {
		attrs = append(attrs,
			attribute.String("orderstream.order_id", record.OrderID),
			attribute.String("orderstream.order.status", record.Status.String()),
			attribute.Int64("orderstream.order.version", record.Version),
		)
	}
	ctx, span := m.tracer.startClient(ctx, "projection.upsert", attrs...)
	defer span.End()

	err := m.store.Upsert(ctx, record)
	if errors.Is(err, adapters.ErrStaleRecord) {
		span.SetAttributes(attribute.Bool("orderstream.stale", true))
		return err
	}
	finish(span, err)
	return err
}

// Get reads a record with tracing. A missing record is not a span error.
func (m *ProjectionStoreMiddleware) Get(ctx context.Context, orderID string) (*adapters.OrderRecord, error) {
	ctx, span := m.tracer.startClient(ctx, "projection.get",
		attribute.String("orderstream.order_id", orderID),
	)
	defer span.End()

	record, err := m.store.Get(ctx, orderID)
	if errors.Is(err, adapters.ErrRecordNotFound) {
		span.SetAttributes(attribute.Bool("orderstream.found", false))
		return record, err
	}
	finish(span, err)
	return record, err
}

// List lists records with tracing.
func (m *ProjectionStoreMiddleware) List(ctx context.Context, filter adapters.RecordFilter) ([]*adapters.OrderRecord, error) {
	ctx, span := m.tracer.startClient(ctx, "projection.list",
		attribute.String("orderstream.filter.status", filter.Status.String()),
		attribute.String("orderstream.filter.customer_id", filter.CustomerID),
		attribute.Int("orderstream.filter.limit", filter.Limit),
		attribute.Int("orderstream.filter.offset", filter.Offset),
	)
	defer span.End()

	records, err := m.store.List(ctx, filter)
	finish(span, err)
	span.SetAttributes(attribute.Int("orderstream.records.count", len(records)))
	return records, err
}

// Delete removes a record with tracing.
func (m *ProjectionStoreMiddleware) Delete(ctx context.Context, orderID string) error {
	ctx, span := m.tracer.startClient(ctx, "projection.delete",
		attribute.String("orderstream.order_id", orderID),
	)
	defer span.End()

	err := m.store.Delete(ctx, orderID)
	finish(span, err)
	return err
}

// Clear removes every record with tracing.
func (m *ProjectionStoreMiddleware) Clear(ctx context.Context) error {
	ctx, span := m.tracer.startClient(ctx, "projection.clear")
	defer span.End()

	err := m.store.Clear(ctx)
	finish(span, err)
	return err
}

// =============================================================================
// Span Helpers
// =============================================================================

// SpanFromContext returns the current span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, opts ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, opts...)
}

// SetError sets an error on the current span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
