package postgres

import (
	"context"
	"database/sql"
)

// DBTX is a common interface for *sqlx.DB and *sqlx.Tx
// This lets the insert helpers run inside the per-turn transaction or on the pool
type DBTX interface {
	// Core query methods
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row

	// sqlx extended methods
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error

	// Rebind converts ? placeholders to the driver's bindvar
	Rebind(query string) string
}
