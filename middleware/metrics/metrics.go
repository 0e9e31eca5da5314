// Package metrics provides Prometheus metrics integration for orderstream.
//
// This package enables observability through Prometheus metrics for
// the order service, including command execution, event store operations,
// and projection maintenance.
//
// Basic usage:
//
//	m := metrics.New()
//	prometheus.MustRegister(m.Collectors()...)
//
//	// Count store operations
//	store := orderstream.New(m.WrapAdapter(adapter))
//
//	// Time projection writes and rebuilds
//	projection := orderstream.NewProjection(views, store, orderstream.WithProjectionMetrics(m))
//
//	// Count commands
//	service := orderstream.NewOrderService(store, projection,
//		orderstream.WithMiddleware(m.CommandMiddleware()))
//
// The metrics collected include:
//   - Command execution counts and durations
//   - Event store operations (append, load, delete)
//   - Optimistic concurrency conflicts
//   - Projection updates and rebuilds
//   - Error counts by type
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Default metric labels.
const (
	LabelCommandType = "command_type"
	LabelEventType   = "event_type"
	LabelOperation   = "operation"
	LabelStatus      = "status"
	LabelErrorType   = "error_type"
	LabelService     = "service"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation values.
const (
	OperationAppend         = "append"
	OperationLoad           = "load"
	OperationLoadByType     = "load_by_type"
	OperationLoadInRange    = "load_in_range"
	OperationCurrentVersion = "current_version"
	OperationAggregateIDs   = "aggregate_ids"
	OperationDeleteStream   = "delete_stream"
)

// Metrics holds all Prometheus metrics for orderstream.
type Metrics struct {
	namespace   string
	subsystem   string
	serviceName string

	// Command metrics
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec

	// Event store metrics
	eventStoreOperationsTotal   *prometheus.CounterVec
	eventStoreOperationDuration *prometheus.HistogramVec
	eventsAppendedTotal         *prometheus.CounterVec
	eventsLoadedTotal           *prometheus.CounterVec
	conflictsTotal              *prometheus.CounterVec

	// Projection metrics
	projectionUpdatesTotal   *prometheus.CounterVec
	projectionUpdateDuration *prometheus.HistogramVec
	projectionRebuildsTotal  *prometheus.CounterVec
	projectionRebuildOrders  *prometheus.GaugeVec

	// Error metrics
	errorsTotal *prometheus.CounterVec
}

// Ensure Metrics can be plugged into the root package's hooks.
var (
	_ orderstream.ProjectionMetrics = (*Metrics)(nil)
	_ orderstream.MetricsCollector  = (*Metrics)(nil)
)

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithNamespace sets the Prometheus namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(m *Metrics) {
		m.namespace = namespace
	}
}

// WithSubsystem sets the Prometheus subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(m *Metrics) {
		m.subsystem = subsystem
	}
}

// WithMetricsServiceName sets the service name label.
func WithMetricsServiceName(name string) MetricsOption {
	return func(m *Metrics) {
		m.serviceName = name
	}
}

// New creates a new Metrics instance with default settings.
func New(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		namespace:   "orderstream",
		serviceName: "unknown",
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initMetrics()
	return m
}

func (m *Metrics) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) histogram(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, append([]string{LabelService}, labels...))
}

func (m *Metrics) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      name,
		Help:      help,
	}, append([]string{LabelService}, labels...))
}

// initMetrics initializes all Prometheus metrics.
func (m *Metrics) initMetrics() {
	m.commandsTotal = m.counter("commands_total",
		"Total number of order commands processed.", LabelCommandType, LabelStatus)
	m.commandDuration = m.histogram("command_duration_seconds",
		"Duration of order command processing in seconds.", LabelCommandType)
	m.commandsInFlight = m.gauge("commands_in_flight",
		"Number of order commands currently being processed.", LabelCommandType)

	m.eventStoreOperationsTotal = m.counter("eventstore_operations_total",
		"Total number of event store operations.", LabelOperation, LabelStatus)
	m.eventStoreOperationDuration = m.histogram("eventstore_operation_duration_seconds",
		"Duration of event store operations in seconds.", LabelOperation)
	m.eventsAppendedTotal = m.counter("events_appended_total",
		"Total number of events appended to order histories.", LabelEventType)
	m.eventsLoadedTotal = m.counter("events_loaded_total",
		"Total number of events loaded from the event store.")
	m.conflictsTotal = m.counter("concurrency_conflicts_total",
		"Total number of appends rejected by optimistic concurrency.")

	m.projectionUpdatesTotal = m.counter("projection_updates_total",
		"Total number of projection entry writes.", LabelStatus)
	m.projectionUpdateDuration = m.histogram("projection_update_duration_seconds",
		"Duration of projection entry writes in seconds.")
	m.projectionRebuildsTotal = m.counter("projection_rebuilds_total",
		"Total number of full projection rebuilds.", LabelStatus)
	m.projectionRebuildOrders = m.gauge("projection_rebuild_orders",
		"Number of orders rebuilt by the last full projection rebuild.")

	m.errorsTotal = m.counter("errors_total",
		"Total number of errors by type.", LabelErrorType)
}

// Collectors returns all Prometheus collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.commandsInFlight,
		m.eventStoreOperationsTotal,
		m.eventStoreOperationDuration,
		m.eventsAppendedTotal,
		m.eventsLoadedTotal,
		m.conflictsTotal,
		m.projectionUpdatesTotal,
		m.projectionUpdateDuration,
		m.projectionRebuildsTotal,
		m.projectionRebuildOrders,
		m.errorsTotal,
	}
}

// MustRegister registers all collectors with the default registry.
// Panics if registration fails.
func (m *Metrics) MustRegister() {
	prometheus.MustRegister(m.Collectors()...)
}

// Register registers all collectors with the given registry.
func (m *Metrics) Register(registry prometheus.Registerer) error {
	for _, collector := range m.Collectors() {
		if err := registry.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Command Middleware
// =============================================================================

// CommandMiddleware returns middleware that records command metrics.
func (m *Metrics) CommandMiddleware() orderstream.Middleware {
	return func(next orderstream.MiddlewareFunc) orderstream.MiddlewareFunc {
		return func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
			if cmd == nil {
				return next(ctx, orderID, cmd)
			}
			cmdType := cmd.CommandType()

			m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Inc()
			defer m.commandsInFlight.WithLabelValues(m.serviceName, cmdType).Dec()

			start := time.Now()
			state, err := next(ctx, orderID, cmd)
			m.RecordCommand(cmdType, time.Since(start), err)

			return state, err
		}
	}
}

// RecordCommand records one command execution. It lets Metrics serve as the
// collector of orderstream.MetricsMiddleware.
func (m *Metrics) RecordCommand(cmdType string, duration time.Duration, err error) {
	m.commandDuration.WithLabelValues(m.serviceName, cmdType).Observe(duration.Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.errorsTotal.WithLabelValues(m.serviceName, errorTypeName(err)).Inc()
	}
	m.commandsTotal.WithLabelValues(m.serviceName, cmdType, status).Inc()
}

// errorTypeName extracts the error type name based on sentinel errors.
func errorTypeName(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.Is(err, orderstream.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, orderstream.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, orderstream.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, orderstream.ErrAggregateNotFound):
		return "aggregate_not_found"
	case errors.Is(err, orderstream.ErrCorruptHistory):
		return "corrupt_history"
	case errors.Is(err, orderstream.ErrHandlerPanicked):
		return "handler_panicked"
	case errors.Is(err, orderstream.ErrSerializationFailed):
		return "serialization_failed"
	case errors.Is(err, orderstream.ErrNilCommand):
		return "nil_command"
	case errors.Is(err, adapters.ErrEmptyAggregateID):
		return "empty_aggregate_id"
	case errors.Is(err, adapters.ErrAdapterClosed):
		return "adapter_closed"
	case errors.Is(err, orderstream.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}

// =============================================================================
// Projection Metrics
// =============================================================================

// RecordUpdate records one projection write.
func (m *Metrics) RecordUpdate(duration time.Duration, success bool) {
	m.projectionUpdateDuration.WithLabelValues(m.serviceName).Observe(duration.Seconds())
	m.projectionUpdatesTotal.WithLabelValues(m.serviceName, statusOf(success)).Inc()
	if !success {
		m.errorsTotal.WithLabelValues(m.serviceName, "projection_error").Inc()
	}
}

// RecordRebuild records a full projection rebuild.
func (m *Metrics) RecordRebuild(orders int, duration time.Duration, success bool) {
	m.projectionRebuildsTotal.WithLabelValues(m.serviceName, statusOf(success)).Inc()
	m.projectionRebuildOrders.WithLabelValues(m.serviceName).Set(float64(orders))
}

func statusOf(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusError
}

// =============================================================================
// Event Store Middleware
// =============================================================================

// AdapterMiddleware wraps an EventStoreAdapter with metrics.
type AdapterMiddleware struct {
	adapter adapters.EventStoreAdapter
	metrics *Metrics
}

var (
	_ adapters.EventStoreAdapter = (*AdapterMiddleware)(nil)
	_ adapters.Purger            = (*AdapterMiddleware)(nil)
	_ adapters.HealthChecker     = (*AdapterMiddleware)(nil)
)

// WrapAdapter wraps an adapter with metrics collection.
func (m *Metrics) WrapAdapter(adapter adapters.EventStoreAdapter) *AdapterMiddleware {
	return &AdapterMiddleware{
		adapter: adapter,
		metrics: m,
	}
}

// Unwrap returns the wrapped adapter.
func (am *AdapterMiddleware) Unwrap() adapters.EventStoreAdapter {
	return am.adapter
}

func (am *AdapterMiddleware) observe(operation string, start time.Time, err error) {
	m := am.metrics
	m.eventStoreOperationDuration.WithLabelValues(m.serviceName, operation).Observe(time.Since(start).Seconds())

	status := StatusSuccess
	if err != nil {
		status = StatusError
		if errors.Is(err, adapters.ErrConcurrencyConflict) {
			m.conflictsTotal.WithLabelValues(m.serviceName).Inc()
		} else {
			m.errorsTotal.WithLabelValues(m.serviceName, operation+"_error").Inc()
		}
	}
	m.eventStoreOperationsTotal.WithLabelValues(m.serviceName, operation, status).Inc()
}

func (am *AdapterMiddleware) loaded(events []adapters.StoredEvent) {
	am.metrics.eventsLoadedTotal.WithLabelValues(am.metrics.serviceName).Add(float64(len(events)))
}

// Append stores events with metrics.
func (am *AdapterMiddleware) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	stored, err := am.adapter.Append(ctx, aggregateID, events, expectedVersion)
	am.observe(OperationAppend, start, err)

	if err == nil {
		for _, e := range events {
			am.metrics.eventsAppendedTotal.WithLabelValues(am.metrics.serviceName, e.Type).Inc()
		}
	}
	return stored, err
}

// Load retrieves events with metrics.
func (am *AdapterMiddleware) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := am.adapter.Load(ctx, aggregateID, fromSequence)
	am.observe(OperationLoad, start, err)
	am.loaded(events)
	return events, err
}

// LoadByType retrieves events of one type with metrics.
func (am *AdapterMiddleware) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	start := time.Now()
	events, err := am.adapter.LoadByType(ctx, eventType)
	am.observe(OperationLoadByType, start, err)
	am.loaded(events)
	return events, err
}

// LoadInRange retrieves events in a time range with metrics.
func (am *AdapterMiddleware) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	began := time.Now()
	events, err := am.adapter.LoadInRange(ctx, start, end)
	am.observe(OperationLoadInRange, began, err)
	am.loaded(events)
	return events, err
}

// CurrentVersion returns the aggregate's version with metrics.
func (am *AdapterMiddleware) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	start := time.Now()
	version, err := am.adapter.CurrentVersion(ctx, aggregateID)
	am.observe(OperationCurrentVersion, start, err)
	return version, err
}

// AggregateIDs lists the known aggregates with metrics.
func (am *AdapterMiddleware) AggregateIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := am.adapter.AggregateIDs(ctx)
	am.observe(OperationAggregateIDs, start, err)
	return ids, err
}

// DeleteStream deletes a history with metrics. It fails when the wrapped
// adapter cannot purge.
func (am *AdapterMiddleware) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	purger, ok := am.adapter.(adapters.Purger)
	if !ok {
		return 0, orderstream.ErrPurgeNotSupported
	}
	start := time.Now()
	deleted, err := purger.DeleteStream(ctx, aggregateID, expectedVersion)
	am.observe(OperationDeleteStream, start, err)
	return deleted, err
}

// Ping checks the wrapped adapter when it supports health checks.
func (am *AdapterMiddleware) Ping(ctx context.Context) error {
	if hc, ok := am.adapter.(adapters.HealthChecker); ok {
		return hc.Ping(ctx)
	}
	return nil
}

// Initialize initializes the adapter.
func (am *AdapterMiddleware) Initialize(ctx context.Context) error {
	return am.adapter.Initialize(ctx)
}

// Close closes the adapter.
func (am *AdapterMiddleware) Close() error {
	return am.adapter.Close()
}

// =============================================================================
// Manual Metric Recording
// =============================================================================

// RecordError records a custom error.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.WithLabelValues(m.serviceName, errorType).Inc()
}

// =============================================================================
// Getters for testing
// =============================================================================

// CommandsTotal returns the commands counter.
func (m *Metrics) CommandsTotal() *prometheus.CounterVec {
	return m.commandsTotal
}

// CommandDuration returns the command duration histogram.
func (m *Metrics) CommandDuration() *prometheus.HistogramVec {
	return m.commandDuration
}

// CommandsInFlight returns the in-flight commands gauge.
func (m *Metrics) CommandsInFlight() *prometheus.GaugeVec {
	return m.commandsInFlight
}

// EventStoreOperationsTotal returns the event store operations counter.
func (m *Metrics) EventStoreOperationsTotal() *prometheus.CounterVec {
	return m.eventStoreOperationsTotal
}

// EventsAppendedTotal returns the events appended counter.
func (m *Metrics) EventsAppendedTotal() *prometheus.CounterVec {
	return m.eventsAppendedTotal
}

// EventsLoadedTotal returns the events loaded counter.
func (m *Metrics) EventsLoadedTotal() *prometheus.CounterVec {
	return m.eventsLoadedTotal
}

// ConflictsTotal returns the concurrency conflicts counter.
func (m *Metrics) ConflictsTotal() *prometheus.CounterVec {
	return m.conflictsTotal
}

// ProjectionUpdatesTotal returns the projection updates counter.
func (m *Metrics) ProjectionUpdatesTotal() *prometheus.CounterVec {
	return m.projectionUpdatesTotal
}

// ProjectionRebuildsTotal returns the projection rebuilds counter.
func (m *Metrics) ProjectionRebuildsTotal() *prometheus.CounterVec {
	return m.projectionRebuildsTotal
}

// ProjectionRebuildOrders returns the rebuilt orders gauge.
func (m *Metrics) ProjectionRebuildOrders() *prometheus.GaugeVec {
	return m.projectionRebuildOrders
}

// ErrorsTotal returns the errors counter.
func (m *Metrics) ErrorsTotal() *prometheus.CounterVec {
	return m.errorsTotal
}
