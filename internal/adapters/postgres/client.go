package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/emirks/tercihify-chat/internal/adapters/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Client wraps sqlx.DB for the usage store
type Client struct {
	db     *sqlx.DB
	driver string
}

// NewClient connects using the configured driver
func NewClient(cfg config.PostgresConfig) (*Client, error) {
	if cfg.Driver == DriverSQLite {
		return OpenSQLite(cfg.SQLitePath)
	}

	db, err := sqlx.Connect(DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db, driver: DriverPostgres}, nil
}

// OpenSQLite opens an embedded database with foreign keys enforced.
// ":memory:" gives a private in-memory database.
func OpenSQLite(path string) (*Client, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	}

	db, err := sqlx.Connect(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// A single connection keeps one in-memory database and serializes writers.
	db.SetMaxOpenConns(1)

	return &Client{db: db, driver: DriverSQLite}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Driver returns the database/sql driver name in use
func (c *Client) Driver() string {
	return c.driver
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}
