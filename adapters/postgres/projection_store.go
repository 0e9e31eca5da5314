package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AshkanYarmoradi/orderstream/adapters"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// DefaultProjectionTable is the table used when none is configured.
const DefaultProjectionTable = "order_projections"

// Ensure ProjectionStore implements adapters.ProjectionStore.
var _ adapters.ProjectionStore = (*ProjectionStore)(nil)

// ProjectionOption configures a ProjectionStore.
type ProjectionOption func(*ProjectionStore)

// WithProjectionSchema sets the PostgreSQL schema for the projection table.
func WithProjectionSchema(schema string) ProjectionOption {
	return func(s *ProjectionStore) {
		s.schema = schema
	}
}

// WithProjectionTable sets the projection table name.
func WithProjectionTable(table string) ProjectionOption {
	return func(s *ProjectionStore) {
		s.table = table
	}
}

// ProjectionStore keeps order projection records in a PostgreSQL table.
type ProjectionStore struct {
	db     *sql.DB
	schema string
	table  string
}

// NewProjectionStore creates a projection store on an existing connection.
// Call Initialize to create the table.
func NewProjectionStore(db *sql.DB, opts ...ProjectionOption) *ProjectionStore {
	s := &ProjectionStore{
		db:     db,
		schema: DefaultSchema,
		table:  DefaultProjectionTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ProjectionStore) tableName() string {
	return s.schema + "." + s.table
}

// Initialize creates the projection table and its indexes.
func (s *ProjectionStore) Initialize(ctx context.Context) error {
	if err := validateIdentifier(s.schema, "schema"); err != nil {
		return err
	}
	if err := validateIdentifier(s.table, "table"); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				order_id              VARCHAR(500) PRIMARY KEY,
				status                VARCHAR(32) NOT NULL,
				customer_id           VARCHAR(500) NOT NULL,
				items                 JSONB NOT NULL DEFAULT '[]'::jsonb,
				total_amount          NUMERIC NOT NULL,
				shipping_address      TEXT NOT NULL DEFAULT '',
				payment_method        TEXT NOT NULL DEFAULT '',
				transaction_id        TEXT NOT NULL DEFAULT '',
				tracking_number       TEXT NOT NULL DEFAULT '',
				carrier               TEXT NOT NULL DEFAULT '',
				delivery_confirmation TEXT NOT NULL DEFAULT '',
				cancellation_reason   TEXT NOT NULL DEFAULT '',
				refund_amount         NUMERIC,
				refund_reason         TEXT NOT NULL DEFAULT '',
				version               BIGINT NOT NULL,
				created_at            TIMESTAMPTZ NOT NULL,
				updated_at            TIMESTAMPTZ NOT NULL
			)`, s.tableName()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status)`, s.table, s.tableName()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_customer ON %s(customer_id)`, s.table, s.tableName()),
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("orderstream/postgres/projection: migration failed: %w", err)
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
		return fmt.Errorf("orderstream/postgres/projection: failed to marshal items: %w", err)
	}

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s AS p (order_id, status, customer_id, items, total_amount, shipping_address,
			payment_method, transaction_id, tracking_number, carrier, delivery_confirmation,
			cancellation_reason, refund_amount, refund_reason, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			customer_id = EXCLUDED.customer_id,
			items = EXCLUDED.items,
			total_amount = EXCLUDED.total_amount,
			shipping_address = EXCLUDED.shipping_address,
			payment_method = EXCLUDED.payment_method,
			transaction_id = EXCLUDED.transaction_id,
			tracking_number = EXCLUDED.tracking_number,
			carrier = EXCLUDED.carrier,
			delivery_confirmation = EXCLUDED.delivery_confirmation,
			cancellation_reason = EXCLUDED.cancellation_reason,
			refund_amount = EXCLUDED.refund_amount,
			refund_reason = EXCLUDED.refund_reason,
			version = EXCLUDED.version,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at
		WHERE p.version <= EXCLUDED.version`, s.tableName()),
		record.OrderID, string(record.Status), record.CustomerID, string(items), record.TotalAmount,
		record.ShippingAddress, record.PaymentMethod, record.TransactionID, record.TrackingNumber,
		record.Carrier, record.DeliveryConfirmation, record.CancellationReason, record.RefundAmount,
		record.RefundReason, record.Version, record.CreatedAt.UTC(), record.UpdatedAt.UTC(),
	)
	if err != nil {
		return adapters.NewStoreError("projection upsert", fmt.Errorf("orderstream/postgres/projection: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return adapters.NewStoreError("projection upsert", err)
	}
	if n == 0 {
		return adapters.ErrStaleRecord
	}
	return nil
}

const selectRecords = `SELECT order_id, status, customer_id, items, total_amount, shipping_address,
	payment_method, transaction_id, tracking_number, carrier, delivery_confirmation,
	cancellation_reason, refund_amount, refund_reason, version, created_at, updated_at FROM %s`

// Get returns the record, or ErrRecordNotFound.
func (s *ProjectionStore) Get(ctx context.Context, orderID string) (*adapters.OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(selectRecords+` WHERE order_id = $1`, s.tableName()), orderID)
	record, err := scanRecord(row)
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
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.UpdatedBefore.IsZero() {
		add("updated_at < $%d", filter.UpdatedBefore.UTC())
	}

	var b strings.Builder
	fmt.Fprintf(&b, selectRecords, s.tableName())
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY order_id")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
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
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE order_id = $1`, s.tableName()), orderID); err != nil {
		return adapters.NewStoreError("projection delete", err)
	}
	return nil
}

// Clear removes all records.
func (s *ProjectionStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.tableName())); err != nil {
		return adapters.NewStoreError("projection clear", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*adapters.OrderRecord, error) {
	var (
		record adapters.OrderRecord
		status string
		items  []byte
	)
	err := row.Scan(
		&record.OrderID, &status, &record.CustomerID, &items, &record.TotalAmount,
		&record.ShippingAddress, &record.PaymentMethod, &record.TransactionID,
		&record.TrackingNumber, &record.Carrier, &record.DeliveryConfirmation,
		&record.CancellationReason, &record.RefundAmount, &record.RefundReason,
		&record.Version, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Status = order.Status(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &record.Items); err != nil {
			return nil, fmt.Errorf("orderstream/postgres/projection: failed to unmarshal items: %w", err)
		}
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}
