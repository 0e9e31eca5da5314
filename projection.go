package orderstream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// OrderView is the read-model entry of one order.
type OrderView = adapters.OrderRecord

// ListFilter narrows a projection listing. Zero values mean "no constraint".
type ListFilter struct {
	Status     order.Status
	CustomerID string
	Limit      int
	Offset     int
}

// ProjectionMetrics collects metrics about projection maintenance.
type ProjectionMetrics interface {
	// RecordUpdate records one projection write.
	RecordUpdate(duration time.Duration, success bool)

	// RecordRebuild records a full rebuild.
	RecordRebuild(orders int, duration time.Duration, success bool)
}

// noopProjectionMetrics is a no-op implementation of ProjectionMetrics.
type noopProjectionMetrics struct{}

func (m *noopProjectionMetrics) RecordUpdate(duration time.Duration, success bool) {}

func (m *noopProjectionMetrics) RecordRebuild(orders int, duration time.Duration, success bool) {}

// DefaultRebuildConcurrency is the number of orders RebuildAll replays in parallel.
const DefaultRebuildConcurrency = 4

// Projection maintains the latest folded state of every order for fast reads.
// It is a disposable cache: RebuildAll restores it from the event store.
type Projection struct {
	store       adapters.ProjectionStore
	events      *EventStore
	logger      Logger
	metrics     ProjectionMetrics
	concurrency int
}

// ProjectionOption configures a Projection.
type ProjectionOption func(*Projection)

// WithProjectionLogger sets the logger for the projection.
func WithProjectionLogger(l Logger) ProjectionOption {
	return func(p *Projection) {
		p.logger = l
	}
}

// WithProjectionMetrics sets the metrics collector.
func WithProjectionMetrics(m ProjectionMetrics) ProjectionOption {
	return func(p *Projection) {
		p.metrics = m
	}
}

// WithRebuildConcurrency sets how many orders RebuildAll replays in parallel.
func WithRebuildConcurrency(n int) ProjectionOption {
	return func(p *Projection) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewProjection creates a projection over store, rebuilt from events.
func NewProjection(store adapters.ProjectionStore, events *EventStore, opts ...ProjectionOption) *Projection {
	p := &Projection{
		store:       store,
		events:      events,
		logger:      &noopLogger{},
		metrics:     &noopProjectionMetrics{},
		concurrency: DefaultRebuildConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the underlying projection store.
func (p *Projection) Store() adapters.ProjectionStore {
	return p.store
}

// ViewFromState builds the read-model entry for a folded state.
func ViewFromState(state order.State) *OrderView {
	s := state.Clone()
	return &OrderView{
		OrderID:              s.OrderID,
		Status:               s.Status,
		CustomerID:           s.CustomerID,
		Items:                s.Items,
		TotalAmount:          s.TotalAmount,
		ShippingAddress:      s.ShippingAddress,
		PaymentMethod:        s.PaymentMethod,
		TransactionID:        s.TransactionID,
		TrackingNumber:       s.TrackingNumber,
		Carrier:              s.Carrier,
		DeliveryConfirmation: s.DeliveryConfirmation,
		CancellationReason:   s.CancellationReason,
		RefundAmount:         s.RefundAmount,
		RefundReason:         s.RefundReason,
		Version:              s.Version,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

// Update writes the entry for orderID from state. An entry already at a
// higher version is left in place.
func (p *Projection) Update(ctx context.Context, orderID string, state order.State) error {
	return p.write(ctx, orderID, state, false)
}

func (p *Projection) write(ctx context.Context, orderID string, state order.State, force bool) error {
	if orderID == "" {
		return ErrEmptyAggregateID
	}
	if !state.Exists() {
		return fmt.Errorf("orderstream: cannot project order %q without history: %w", orderID, ErrAggregateNotFound)
	}

	start := time.Now()
	view := ViewFromState(state)
	view.OrderID = orderID
	err := p.store.Upsert(ctx, view)
	if errors.Is(err, ErrStaleRecord) {
		if !force {
			p.logger.Debug("Projection already ahead", "orderId", orderID, "version", state.Version)
			p.metrics.RecordUpdate(time.Since(start), true)
			return nil
		}
		if err = p.store.Delete(ctx, orderID); err == nil {
			err = p.store.Upsert(ctx, view)
		}
	}
	p.metrics.RecordUpdate(time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("orderstream: projection update for %q: %w", orderID, err)
	}
	return nil
}

// Get returns the entry for orderID, or ErrProjectionNotFound.
func (p *Projection) Get(ctx context.Context, orderID string) (*OrderView, error) {
	view, err := p.store.Get(ctx, orderID)
	if errors.Is(err, adapters.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrProjectionNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// List returns the entries matching filter, ordered by order ID.
func (p *Projection) List(ctx context.Context, filter ListFilter) ([]*OrderView, error) {
	return p.store.List(ctx, adapters.RecordFilter{
		Status:     filter.Status,
		CustomerID: filter.CustomerID,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// Rebuild replays one order's history and rewrites its entry, replacing an
// entry that claims a higher version. An order without history has its entry
// removed.
func (p *Projection) Rebuild(ctx context.Context, orderID string) error {
	result, err := p.events.ReplayEvents(ctx, orderID)
	if err != nil {
		return fmt.Errorf("orderstream: rebuild %q: %w", orderID, err)
	}
	if result.EventsReplayed == 0 {
		return p.store.Delete(ctx, orderID)
	}
	return p.write(ctx, orderID, result.State, true)
}

// RebuildReport summarizes a RebuildAll run.
type RebuildReport struct {
	// Orders is the number of orders whose entry was rewritten.
	Orders int

	// Failed lists the order IDs that could not be rebuilt, sorted.
	Failed []string

	Duration time.Duration
}

// RebuildAll clears the projection and rebuilds the entry of every order
// known to the event store. Orders are replayed in parallel; a failing order
// does not stop the others and is listed in the report.
func (p *Projection) RebuildAll(ctx context.Context) (RebuildReport, error) {
	start := time.Now()
	report := RebuildReport{Failed: []string{}}

	ids, err := p.events.AggregateIDs(ctx)
	if err != nil {
		return report, err
	}
	if err := p.store.Clear(ctx); err != nil {
		return report, fmt.Errorf("orderstream: clear projection: %w", err)
	}

	p.logger.Info("Rebuilding projection", "orders", len(ids))

	var mu sync.Mutex
	workers := pool.New().WithContext(ctx).WithMaxGoroutines(p.concurrency)
	for _, id := range ids {
		workers.Go(func(ctx context.Context) error {
			err := p.Rebuild(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, id)
				p.logger.Error("Projection rebuild failed", "orderId", id, "error", err)
				return err
			}
			report.Orders++
			return nil
		})
	}
	err = workers.Wait()

	sort.Strings(report.Failed)
	report.Duration = time.Since(start)
	p.metrics.RecordRebuild(report.Orders, report.Duration, err == nil)
	p.logger.Info("Projection rebuilt", "orders", report.Orders, "failed", len(report.Failed), "duration", report.Duration)

	return report, err
}
