// Package postgres provides PostgreSQL implementations of the event store and projection store adapters.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/AshkanYarmoradi/orderstream/adapters"
)

// Version constants for optimistic concurrency control.
const (
	AnyVersion = adapters.AnyVersion
	NoStream   = adapters.NoStream
)

// DefaultSchema is the schema used when none is configured.
const DefaultSchema = "orderstream"

// uniqueViolation is the SQLSTATE raised when UNIQUE(aggregate_id, sequence) rejects a row.
const uniqueViolation = "23505"

// Sentinel errors for the postgres adapter.
// These are aliases to the adapters package errors for compatibility with errors.Is().
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrInvalidVersion      = adapters.ErrInvalidVersion
)

// Ensure PostgresAdapter implements required interfaces.
var (
	_ adapters.EventStoreAdapter = (*PostgresAdapter)(nil)
	_ adapters.Purger            = (*PostgresAdapter)(nil)
	_ adapters.HealthChecker     = (*PostgresAdapter)(nil)
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresAdapter is a PostgreSQL implementation of EventStoreAdapter.
type PostgresAdapter struct {
	db     *sql.DB
	schema string
	closed atomic.Bool
}

// Option configures a PostgresAdapter.
type Option func(*PostgresAdapter)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(a *PostgresAdapter) {
		a.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxOpenConns(n)
	}
}

// WithMaxIdleConnections sets the maximum number of idle connections.
func WithMaxIdleConnections(n int) Option {
	return func(a *PostgresAdapter) {
		a.db.SetMaxIdleConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(a *PostgresAdapter) {
		a.db.SetConnMaxLifetime(d)
	}
}

// NewAdapter creates a new PostgreSQL event store adapter.
func NewAdapter(connStr string, opts ...Option) (*PostgresAdapter, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("orderstream/postgres: failed to open database: %w", err)
	}

	adapter := NewAdapterWithDB(db, opts...)
	if err := validateIdentifier(adapter.schema, "schema"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

// NewAdapterWithDB creates a new adapter with an existing database connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *PostgresAdapter {
	adapter := &PostgresAdapter{
		db:     db,
		schema: DefaultSchema,
	}

	for _, opt := range opts {
		opt(adapter)
	}

	return adapter
}

// Initialize creates the required database schema and tables.
func (a *PostgresAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Migrate creates the schema, the events table and its indexes.
func (a *PostgresAdapter) Migrate(ctx context.Context) error {
	if err := validateIdentifier(a.schema, "schema"); err != nil {
		return err
	}

	statements := []struct {
		what string
		sql  string
	}{
		{"schema", fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, a.schema)},
		{"events table", fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.events (
				global_position BIGSERIAL PRIMARY KEY,
				event_id        UUID NOT NULL UNIQUE,
				aggregate_id    VARCHAR(500) NOT NULL,
				sequence        BIGINT NOT NULL,
				event_type      VARCHAR(250) NOT NULL,
				payload         BYTEA NOT NULL,
				metadata        JSONB NOT NULL DEFAULT '{}'::jsonb,
				occurred_at     TIMESTAMPTZ NOT NULL,
				recorded_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				UNIQUE(aggregate_id, sequence)
			)`, a.schema)},
		{"type index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_type ON %s.events(event_type)`, a.schema)},
		{"occurred_at index", fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON %s.events(occurred_at)`, a.schema)},
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt.sql); err != nil {
			return fmt.Errorf("orderstream/postgres: failed to create %s: %w", stmt.what, err)
		}
	}

	return nil
}

// Append stores events for the aggregate with optimistic concurrency control.
//
// Each event is written by one conditional INSERT ... SELECT that only produces
// a row while the aggregate's max sequence still equals the expected version.
// A concurrent writer that slips in between is stopped by UNIQUE(aggregate_id, sequence).
// Either way the loser receives a ConcurrencyError and the transaction rolls back.
func (a *PostgresAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	if err := adapters.ValidateAppend(aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/postgres: failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	// Appends share the stream lock; DeleteStream takes it exclusively.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`, aggregateID); err != nil {
		return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/postgres: failed to lock stream: %w", err))
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s.events (event_id, aggregate_id, sequence, event_type, payload, metadata, occurred_at)
		SELECT $1::uuid, $2::varchar, COALESCE(MAX(sequence), 0) + 1, $3::varchar, $4::bytea, $5::jsonb, $6::timestamptz
		FROM %[1]s.events
		WHERE aggregate_id = $2::varchar
		HAVING $7::bigint < 0 OR COALESCE(MAX(sequence), 0) = $7::bigint
		RETURNING global_position, sequence, recorded_at`, a.schema)

	expected := expectedVersion
	storedEvents := make([]adapters.StoredEvent, len(events))
	for i, event := range events {
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("orderstream/postgres: failed to marshal metadata: %w", err)
		}

		stored := adapters.StoredEvent{
			ID:          uuid.New().String(),
			AggregateID: aggregateID,
			Type:        event.Type,
			Data:        event.Data,
			Metadata:    event.Metadata,
			OccurredAt:  event.OccurredAt.UTC(),
		}

		err = tx.QueryRowContext(ctx, query,
			stored.ID, aggregateID, event.Type, event.Data, string(metadataJSON), stored.OccurredAt, expected,
		).Scan(&stored.GlobalPosition, &stored.Sequence, &stored.RecordedAt)

		if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
			return nil, a.conflict(ctx, aggregateID, expectedVersion)
		}
		if err != nil {
			return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/postgres: failed to insert event: %w", err))
		}

		stored.RecordedAt = stored.RecordedAt.UTC()
		storedEvents[i] = stored
		if expected != AnyVersion {
			expected++
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, a.conflict(ctx, aggregateID, expectedVersion)
		}
		return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/postgres: failed to commit transaction: %w", err))
	}

	return storedEvents, nil
}

// conflict builds a ConcurrencyError carrying the version visible after the failed write.
func (a *PostgresAdapter) conflict(ctx context.Context, aggregateID string, expected int64) error {
	actual, err := a.CurrentVersion(ctx, aggregateID)
	if err != nil {
		actual = -1
	}
	return adapters.NewConcurrencyError(aggregateID, expected, actual)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

const selectEvents = `SELECT global_position, event_id, aggregate_id, sequence, event_type, payload, metadata, occurred_at, recorded_at FROM %s.events`

// Load retrieves events of an aggregate with a sequence greater than fromSequence.
func (a *PostgresAdapter) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	return a.query(ctx, "load",
		fmt.Sprintf(selectEvents+` WHERE aggregate_id = $1 AND sequence > $2 ORDER BY sequence`, a.schema),
		aggregateID, fromSequence)
}

// LoadByType retrieves every event of the given type in global order.
func (a *PostgresAdapter) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	return a.query(ctx, "load by type",
		fmt.Sprintf(selectEvents+` WHERE event_type = $1 ORDER BY global_position`, a.schema),
		eventType)
}

// LoadInRange retrieves every event that occurred in [start, end] in global order.
func (a *PostgresAdapter) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	return a.query(ctx, "load in range",
		fmt.Sprintf(selectEvents+` WHERE occurred_at >= $1 AND occurred_at <= $2 ORDER BY global_position`, a.schema),
		start.UTC(), end.UTC())
}

func (a *PostgresAdapter) query(ctx context.Context, op, query string, args ...interface{}) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/postgres: failed to query events: %w", err))
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var event adapters.StoredEvent
		var metadataJSON []byte

		err := rows.Scan(
			&event.GlobalPosition,
			&event.ID,
			&event.AggregateID,
			&event.Sequence,
			&event.Type,
			&event.Data,
			&metadataJSON,
			&event.OccurredAt,
			&event.RecordedAt,
		)
		if err != nil {
			return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/postgres: failed to scan event: %w", err))
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
				return nil, fmt.Errorf("orderstream/postgres: failed to unmarshal metadata: %w", err)
			}
		}
		event.OccurredAt = event.OccurredAt.UTC()
		event.RecordedAt = event.RecordedAt.UTC()

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/postgres: error iterating events: %w", err))
	}

	return events, nil
}

// CurrentVersion returns the highest sequence of the aggregate, 0 if none.
func (a *PostgresAdapter) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var version int64
	err := a.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COALESCE(MAX(sequence), 0) FROM %s.events WHERE aggregate_id = $1`, a.schema),
		aggregateID).Scan(&version)
	if err != nil {
		return 0, adapters.NewStoreError("current version", fmt.Errorf("orderstream/postgres: failed to get version: %w", err))
	}
	return version, nil
}

// AggregateIDs returns every distinct aggregate ID, sorted.
func (a *PostgresAdapter) AggregateIDs(ctx context.Context) ([]string, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT DISTINCT aggregate_id FROM %s.events ORDER BY aggregate_id`, a.schema))
	if err != nil {
		return nil, adapters.NewStoreError("aggregate ids", fmt.Errorf("orderstream/postgres: failed to list aggregates: %w", err))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, adapters.NewStoreError("aggregate ids", fmt.Errorf("orderstream/postgres: failed to scan aggregate id: %w", err))
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStoreError("aggregate ids", err)
	}
	return ids, nil
}

// DeleteStream removes every event of the aggregate if it is still at
// expectedVersion. It holds the stream lock exclusively, so no append can
// commit between the version check and the delete.
func (a *PostgresAdapter) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/postgres: failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, aggregateID); err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/postgres: failed to lock stream: %w", err))
	}

	var current int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(sequence), 0) FROM %s.events WHERE aggregate_id = $1`, a.schema),
		aggregateID,
	).Scan(&current)
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/postgres: failed to read version: %w", err))
	}
	if err := adapters.CheckVersion(aggregateID, expectedVersion, current); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s.events WHERE aggregate_id = $1`, a.schema), aggregateID)
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/postgres: failed to delete events: %w", err))
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/postgres: failed to commit transaction: %w", err))
	}
	return removed, nil
}

// Close releases the database connection.
func (a *PostgresAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// Ping checks database connectivity.
func (a *PostgresAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *PostgresAdapter) DB() *sql.DB {
	return a.db
}

// Schema returns the schema name.
func (a *PostgresAdapter) Schema() string {
	return a.schema
}

// validateIdentifier checks schema and table names before they are interpolated into SQL.
func validateIdentifier(name, kind string) error {
	if name == "" {
		return fmt.Errorf("orderstream/postgres: %s name cannot be empty", kind)
	}
	if len(name) > 63 {
		return fmt.Errorf("orderstream/postgres: %s name exceeds 63 characters", kind)
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("orderstream/postgres: %s name contains invalid characters", kind)
	}
	return nil
}
