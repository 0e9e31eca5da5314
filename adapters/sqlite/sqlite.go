// Package sqlite provides SQLite implementations of the event store and
// projection store adapters on top of modernc.org/sqlite.
//
// Timestamps are stored as Unix nanoseconds and money as decimal text, so
// values round trip exactly.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/AshkanYarmoradi/orderstream/adapters"
)

// Version constants for optimistic concurrency control.
const (
	AnyVersion = adapters.AnyVersion
	NoStream   = adapters.NoStream
)

// Sentinel errors for the sqlite adapter.
var (
	ErrAdapterClosed       = adapters.ErrAdapterClosed
	ErrEmptyAggregateID    = adapters.ErrEmptyAggregateID
	ErrNoEvents            = adapters.ErrNoEvents
	ErrConcurrencyConflict = adapters.ErrConcurrencyConflict
	ErrInvalidVersion      = adapters.ErrInvalidVersion
)

var (
	_ adapters.EventStoreAdapter = (*SQLiteAdapter)(nil)
	_ adapters.Purger            = (*SQLiteAdapter)(nil)
	_ adapters.HealthChecker     = (*SQLiteAdapter)(nil)
)

// SQLiteAdapter is a SQLite implementation of EventStoreAdapter.
type SQLiteAdapter struct {
	db     *sql.DB
	closed atomic.Bool
	now    func() time.Time
}

// Option configures a SQLiteAdapter.
type Option func(*SQLiteAdapter)

// WithClock sets the clock used for the recorded_at column.
func WithClock(now func() time.Time) Option {
	return func(a *SQLiteAdapter) {
		a.now = now
	}
}

// Open opens (or creates) the database file at path.
// Call Initialize to create the tables.
func Open(path string, opts ...Option) (*SQLiteAdapter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("orderstream/sqlite: database path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("orderstream/sqlite: failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("orderstream/sqlite: failed to ping database: %w", err)
	}

	return NewAdapterWithDB(db, opts...), nil
}

// NewAdapterWithDB creates an adapter on an existing connection.
// SQLite has a single writer, so the pool is limited to one connection.
func NewAdapterWithDB(db *sql.DB, opts ...Option) *SQLiteAdapter {
	db.SetMaxOpenConns(1)

	a := &SQLiteAdapter{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Initialize creates the events table and its indexes.
func (a *SQLiteAdapter) Initialize(ctx context.Context) error {
	return a.Migrate(ctx)
}

// Migrate creates the events table and its indexes.
func (a *SQLiteAdapter) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			global_position INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id        TEXT NOT NULL UNIQUE,
			aggregate_id    TEXT NOT NULL,
			sequence        INTEGER NOT NULL,
			event_type      TEXT NOT NULL,
			payload         BLOB NOT NULL,
			metadata        TEXT NOT NULL DEFAULT '{}',
			occurred_at     INTEGER NOT NULL,
			recorded_at     INTEGER NOT NULL,
			UNIQUE(aggregate_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_occurred_at ON events(occurred_at)`,
	}
	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("orderstream/sqlite: migration failed: %w", err)
		}
	}
	return nil
}

// appendQuery inserts one event only while the stream's max sequence still
// equals the expected version (or the expected version is negative).
const appendQuery = `
	INSERT INTO events (event_id, aggregate_id, sequence, event_type, payload, metadata, occurred_at, recorded_at)
	SELECT ?1, ?2, current.v + 1, ?3, ?4, ?5, ?6, ?7
	FROM (SELECT COALESCE(MAX(sequence), 0) AS v FROM events WHERE aggregate_id = ?2) AS current
	WHERE ?8 < 0 OR current.v = ?8
	RETURNING global_position, sequence`

// Append stores events for the aggregate with optimistic concurrency control.
func (a *SQLiteAdapter) Append(ctx context.Context, aggregateID string, events []adapters.EventRecord, expectedVersion int64) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}
	if err := adapters.ValidateAppend(aggregateID, events, expectedVersion); err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/sqlite: failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	recordedAt := a.now().UTC()
	expected := expectedVersion
	stored := make([]adapters.StoredEvent, len(events))

	for i, event := range events {
		metadataJSON, err := json.Marshal(event.Metadata)
		if err != nil {
			return nil, fmt.Errorf("orderstream/sqlite: failed to marshal metadata: %w", err)
		}

		e := adapters.StoredEvent{
			ID:          uuid.New().String(),
			AggregateID: aggregateID,
			Type:        event.Type,
			Data:        event.Data,
			Metadata:    event.Metadata,
			OccurredAt:  event.OccurredAt.UTC(),
			RecordedAt:  recordedAt,
		}

		var position int64
		err = tx.QueryRowContext(ctx, appendQuery,
			e.ID, aggregateID, event.Type, event.Data, string(metadataJSON),
			e.OccurredAt.UnixNano(), recordedAt.UnixNano(), expected,
		).Scan(&position, &e.Sequence)

		if errors.Is(err, sql.ErrNoRows) || isConstraintError(err) {
			return nil, adapters.NewConcurrencyError(aggregateID, expectedVersion, currentVersion(ctx, tx, aggregateID))
		}
		if err != nil {
			return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/sqlite: failed to insert event: %w", err))
		}

		e.GlobalPosition = uint64(position)
		stored[i] = e
		if expected != AnyVersion {
			expected++
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, adapters.NewStoreError("append", fmt.Errorf("orderstream/sqlite: failed to commit transaction: %w", err))
	}
	return stored, nil
}

// currentVersion reads the stream version inside the failed transaction.
// The pool holds a single connection, so the read cannot go through a.db.
func currentVersion(ctx context.Context, tx *sql.Tx, aggregateID string) int64 {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return -1
	}
	return version
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

const selectEvents = `SELECT global_position, event_id, aggregate_id, sequence, event_type, payload, metadata, occurred_at, recorded_at FROM events`

// Load retrieves events of an aggregate with a sequence greater than fromSequence.
func (a *SQLiteAdapter) Load(ctx context.Context, aggregateID string, fromSequence int64) ([]adapters.StoredEvent, error) {
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	return a.query(ctx, "load", selectEvents+` WHERE aggregate_id = ? AND sequence > ? ORDER BY sequence`,
		aggregateID, fromSequence)
}

// LoadByType retrieves every event of the given type in global order.
func (a *SQLiteAdapter) LoadByType(ctx context.Context, eventType string) ([]adapters.StoredEvent, error) {
	return a.query(ctx, "load by type", selectEvents+` WHERE event_type = ? ORDER BY global_position`, eventType)
}

// LoadInRange retrieves every event that occurred in [start, end] in global order.
func (a *SQLiteAdapter) LoadInRange(ctx context.Context, start, end time.Time) ([]adapters.StoredEvent, error) {
	return a.query(ctx, "load in range",
		selectEvents+` WHERE occurred_at >= ? AND occurred_at <= ? ORDER BY global_position`,
		start.UTC().UnixNano(), end.UTC().UnixNano())
}

func (a *SQLiteAdapter) query(ctx context.Context, op, query string, args ...interface{}) ([]adapters.StoredEvent, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/sqlite: failed to query events: %w", err))
	}
	defer rows.Close()

	events := make([]adapters.StoredEvent, 0)
	for rows.Next() {
		var (
			event      adapters.StoredEvent
			position   int64
			metadata   string
			occurredAt int64
			recordedAt int64
		)
		if err := rows.Scan(&position, &event.ID, &event.AggregateID, &event.Sequence, &event.Type,
			&event.Data, &metadata, &occurredAt, &recordedAt); err != nil {
			return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/sqlite: failed to scan event: %w", err))
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return nil, fmt.Errorf("orderstream/sqlite: failed to unmarshal metadata: %w", err)
			}
		}
		event.GlobalPosition = uint64(position)
		event.OccurredAt = time.Unix(0, occurredAt).UTC()
		event.RecordedAt = time.Unix(0, recordedAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStoreError(op, fmt.Errorf("orderstream/sqlite: error iterating events: %w", err))
	}
	return events, nil
}

// CurrentVersion returns the highest sequence of the aggregate, 0 if none.
func (a *SQLiteAdapter) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}

	var version int64
	err := a.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?`, aggregateID).Scan(&version)
	if err != nil {
		return 0, adapters.NewStoreError("current version", fmt.Errorf("orderstream/sqlite: failed to get version: %w", err))
	}
	return version, nil
}

// AggregateIDs returns every distinct aggregate ID, sorted.
func (a *SQLiteAdapter) AggregateIDs(ctx context.Context) ([]string, error) {
	if a.closed.Load() {
		return nil, ErrAdapterClosed
	}

	rows, err := a.db.QueryContext(ctx, `SELECT DISTINCT aggregate_id FROM events ORDER BY aggregate_id`)
	if err != nil {
		return nil, adapters.NewStoreError("aggregate ids", fmt.Errorf("orderstream/sqlite: failed to list aggregates: %w", err))
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, adapters.NewStoreError("aggregate ids", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, adapters.NewStoreError("aggregate ids", err)
	}
	return ids, nil
}

// DeleteStream removes every event of the aggregate if it is still at
// expectedVersion. The version check is part of the DELETE statement.
func (a *SQLiteAdapter) DeleteStream(ctx context.Context, aggregateID string, expectedVersion int64) (int64, error) {
	if a.closed.Load() {
		return 0, ErrAdapterClosed
	}
	if expectedVersion < AnyVersion {
		return 0, adapters.ErrInvalidVersion
	}

	res, err := a.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE aggregate_id = ?1
		AND (?2 < 0 OR (SELECT COALESCE(MAX(sequence), 0) FROM events WHERE aggregate_id = ?1) = ?2)`,
		aggregateID, expectedVersion)
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", fmt.Errorf("orderstream/sqlite: failed to delete events: %w", err))
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, adapters.NewStoreError("delete stream", err)
	}
	if removed > 0 {
		return removed, nil
	}

	// Nothing deleted: either the stream is empty as expected or it moved.
	current, err := a.CurrentVersion(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	if err := adapters.CheckVersion(aggregateID, expectedVersion, current); err != nil {
		return 0, err
	}
	return 0, nil
}

// Close releases the database connection.
func (a *SQLiteAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

// Ping checks the database connection.
func (a *SQLiteAdapter) Ping(ctx context.Context) error {
	if a.closed.Load() {
		return ErrAdapterClosed
	}
	return a.db.PingContext(ctx)
}

// DB returns the underlying database connection.
func (a *SQLiteAdapter) DB() *sql.DB {
	return a.db
}
