package orderstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// Maintenance performs retention tasks that remove whole order histories.
// It is never used on the command path.
type Maintenance struct {
	store      *EventStore
	projection *Projection
	logger     Logger
	now        func() time.Time
}

// MaintenanceOption configures a Maintenance.
type MaintenanceOption func(*Maintenance)

// WithMaintenanceLogger sets the logger.
func WithMaintenanceLogger(l Logger) MaintenanceOption {
	return func(m *Maintenance) {
		m.logger = l
	}
}

// WithMaintenanceClock sets the clock the cutoff is computed from.
func WithMaintenanceClock(now func() time.Time) MaintenanceOption {
	return func(m *Maintenance) {
		m.now = now
	}
}

// NewMaintenance creates a Maintenance over the store and its projection.
func NewMaintenance(store *EventStore, projection *Projection, opts ...MaintenanceOption) *Maintenance {
	m := &Maintenance{
		store:      store,
		projection: projection,
		logger:     &noopLogger{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PurgeReport summarizes a PurgeTerminal run.
type PurgeReport struct {
	Orders        []string
	EventsDeleted int64
}

// PurgeTerminal deletes the history and projection entry of every order in a
// terminal status whose last update is older than olderThan. The projection
// is consulted to find candidates; each candidate's status is confirmed by a
// replay and its stream is deleted only if it is still at the replayed
// version. Orders that moved in between are skipped.
func (m *Maintenance) PurgeTerminal(ctx context.Context, olderThan time.Duration) (PurgeReport, error) {
	report := PurgeReport{Orders: []string{}}

	purger, ok := m.store.Adapter().(adapters.Purger)
	if !ok {
		return report, ErrPurgeNotSupported
	}
	if olderThan < 0 {
		return report, fmt.Errorf("orderstream: negative retention %s: %w", olderThan, ErrInvalidArgument)
	}

	cutoff := m.now().Add(-olderThan)
	for _, status := range []order.Status{order.StatusDelivered, order.StatusCancelled, order.StatusRefunded} {
		views, err := m.projection.Store().List(ctx, adapters.RecordFilter{Status: status, UpdatedBefore: cutoff})
		if err != nil {
			return report, err
		}

		for _, view := range views {
			result, err := m.store.ReplayEvents(ctx, view.OrderID)
			if err != nil {
				return report, err
			}
			if !result.State.Status.IsTerminal() || !result.State.UpdatedAt.Before(cutoff) {
				m.logger.Warn("Skipping purge of stale projection entry", "orderId", view.OrderID,
					"projected", view.Status, "actual", result.State.Status)
				continue
			}

			deleted, err := purger.DeleteStream(ctx, view.OrderID, result.State.Version)
			if errors.Is(err, ErrConcurrencyConflict) {
				m.logger.Warn("Skipping purge of order changed during replay", "orderId", view.OrderID,
					"version", result.State.Version, "error", err)
				continue
			}
			if err != nil {
				return report, adapters.WrapStoreError("delete stream", err)
			}
			if err := m.projection.Store().Delete(ctx, view.OrderID); err != nil {
				return report, err
			}

			report.Orders = append(report.Orders, view.OrderID)
			report.EventsDeleted += deleted
			m.logger.Info("Purged order", "orderId", view.OrderID, "events", deleted)
		}
	}

	return report, nil
}
