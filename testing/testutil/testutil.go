// Package testutil provides fixtures, error-injecting mocks and shared
// conformance suites for testing orderstream adapters and services, plus
// helpers for reaching the Postgres instance named by TEST_DATABASE_URL.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// postgresRetryDelay is the initial wait between connection attempts; it
// doubles up to one second.
var postgresRetryDelay = 50 * time.Millisecond

// PostgresDB opens connStr and pings it until the server answers or ctx is
// done.
func PostgresDB(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("testutil: open postgres: %w", err)
	}

	delay := postgresRetryDelay
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return db, nil
		}

		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, fmt.Errorf("testutil: postgres not ready: %w", err)
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
}

// CleanupSchema drops a schema and everything in it.
func CleanupSchema(ctx context.Context, db *sql.DB, schema string) error {
	_, err := db.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+quoteIdentifier(schema)+" CASCADE")
	return err
}

// UniqueSchema returns a schema name that no other test run uses.
func UniqueSchema(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
