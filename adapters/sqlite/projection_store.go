package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

var _ adapters.ProjectionStore = (*ProjectionStore)(nil)

// ProjectionStore keeps order projection records in the order_projections table.
type ProjectionStore struct {
	db *sql.DB
}

// NewProjectionStore creates a projection store on an existing connection,
// usually the one returned by SQLiteAdapter.DB.
func NewProjectionStore(db *sql.DB) *ProjectionStore {
	return &ProjectionStore{db: db}
}

// Initialize creates the projection table and its indexes.
func (s *ProjectionStore) Initialize(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS order_projections (
			order_id              TEXT PRIMARY KEY,
			status                TEXT NOT NULL,
			customer_id           TEXT NOT NULL,
			items                 TEXT NOT NULL DEFAULT '[]',
			total_amount          TEXT NOT NULL,
			shipping_address      TEXT NOT NULL DEFAULT '',
			payment_method        TEXT NOT NULL DEFAULT '',
			transaction_id        TEXT NOT NULL DEFAULT '',
			tracking_number       TEXT NOT NULL DEFAULT '',
			carrier               TEXT NOT NULL DEFAULT '',
			delivery_confirmation TEXT NOT NULL DEFAULT '',
			cancellation_reason   TEXT NOT NULL DEFAULT '',
			refund_amount         TEXT,
			refund_reason         TEXT NOT NULL DEFAULT '',
			version               INTEGER NOT NULL,
			created_at            INTEGER NOT NULL,
			updated_at            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_projections_status ON order_projections(status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_projections_customer ON order_projections(customer_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("orderstream/sqlite/projection: migration failed: %w", err)
		}
	}
	return nil
}

// Upsert creates or overwrites the record keyed by OrderID unless the stored
// row has a higher version.
func (s *ProjectionStore) Upsert(ctx context.Context, record *adapters.OrderRecord) error {
	if record == nil || record.OrderID == "" {
		return adapters.ErrEmptyAggregateID
	}

	items, err := json.Marshal(record.Items)
	if err != nil {
		return fmt.Errorf("orderstream/sqlite/projection: failed to marshal items: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_projections (order_id, status, customer_id, items, total_amount, shipping_address,
			payment_method, transaction_id, tracking_number, carrier, delivery_confirmation,
			cancellation_reason, refund_amount, refund_reason, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			status = excluded.status,
			customer_id = excluded.customer_id,
			items = excluded.items,
			total_amount = excluded.total_amount,
			shipping_address = excluded.shipping_address,
			payment_method = excluded.payment_method,
			transaction_id = excluded.transaction_id,
			tracking_number = excluded.tracking_number,
			carrier = excluded.carrier,
			delivery_confirmation = excluded.delivery_confirmation,
			cancellation_reason = excluded.cancellation_reason,
			refund_amount = excluded.refund_amount,
			refund_reason = excluded.refund_reason,
			version = excluded.version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE order_projections.version <= excluded.version`,
		record.OrderID, string(record.Status), record.CustomerID, string(items), record.TotalAmount.String(),
		record.ShippingAddress, record.PaymentMethod, record.TransactionID, record.TrackingNumber,
		record.Carrier, record.DeliveryConfirmation, record.CancellationReason, refundText(record),
		record.RefundReason, record.Version, record.CreatedAt.UTC().UnixNano(), record.UpdatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return adapters.NewStoreError("projection upsert", fmt.Errorf("orderstream/sqlite/projection: %w", err))
	}
	return staleIfUnchanged(res)
}

func staleIfUnchanged(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return adapters.NewStoreError("projection upsert", err)
	}
	if n == 0 {
		return adapters.ErrStaleRecord
	}
	return nil
}

func refundText(record *adapters.OrderRecord) interface{} {
	if !record.RefundAmount.Valid {
		return nil
	}
	return record.RefundAmount.Decimal.String()
}

const selectRecords = `SELECT order_id, status, customer_id, items, total_amount, shipping_address,
	payment_method, transaction_id, tracking_number, carrier, delivery_confirmation,
	cancellation_reason, refund_amount, refund_reason, version, created_at, updated_at FROM order_projections`

// Get returns the record, or ErrRecordNotFound.
func (s *ProjectionStore) Get(ctx context.Context, orderID string) (*adapters.OrderRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx, selectRecords+` WHERE order_id = ?`, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, adapters.ErrRecordNotFound
	}
	if err != nil {
		return nil, adapters.NewStoreError("projection get", err)
	}
	return record, nil
}

// List returns the records matching the filter, ordered by OrderID.
func (s *ProjectionStore) List(ctx context.Context, filter adapters.RecordFilter) ([]*adapters.OrderRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if !filter.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, filter.UpdatedBefore.UTC().UnixNano())
	}

	query := selectRecords
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY order_id"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adapters.NewStoreError("projection list", err)
	}
	defer rows.Close()

	records := make([]*adapters.OrderRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, adapters.NewStoreError("projection list", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStoreError("projection list", err)
	}
	return records, nil
}

// Delete removes a record.
func (s *ProjectionStore) Delete(ctx context.Context, orderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM order_projections WHERE order_id = ?`, orderID); err != nil {
		return adapters.NewStoreError("projection delete", err)
	}
	return nil
}

// Clear removes all records.
func (s *ProjectionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM order_projections`); err != nil {
		return adapters.NewStoreError("projection clear", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*adapters.OrderRecord, error) {
	var (
		record    adapters.OrderRecord
		status    string
		items     string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(
		&record.OrderID, &status, &record.CustomerID, &items, &record.TotalAmount,
		&record.ShippingAddress, &record.PaymentMethod, &record.TransactionID,
		&record.TrackingNumber, &record.Carrier, &record.DeliveryConfirmation,
		&record.CancellationReason, &record.RefundAmount, &record.RefundReason,
		&record.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = order.Status(status)
	if items != "" {
		if err := json.Unmarshal([]byte(items), &record.Items); err != nil {
			return nil, fmt.Errorf("orderstream/sqlite/projection: failed to unmarshal items: %w", err)
		}
	}
	record.CreatedAt = time.Unix(0, createdAt).UTC()
	record.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &record, nil
}
