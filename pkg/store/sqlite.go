package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/tuibird/tracker-core/pkg/pool"
)

// SQLiteDriver opens connections to an embedded SQLite database file. It
// implements pool.Driver, so the connection pool controls how many handles
// exist at once.
type SQLiteDriver struct {
	path   string
	mode   string
	logger zerolog.Logger
}

// NewSQLiteDriver creates a driver for the database file at path. Mode
// selects the journal mode: "wal" (the default) or "default" for SQLite's
// rollback journal.
func NewSQLiteDriver(path, mode string, logger zerolog.Logger) *SQLiteDriver {
	if mode != "wal" && mode != "default" {
		mode = "wal"
	}
	return &SQLiteDriver{
		path:   path,
		mode:   mode,
		logger: logger.With().Str("component", "sqlite").Logger(),
	}
}

// DSN returns the connection string handed to the sqlite3 driver.
func (d *SQLiteDriver) DSN() string {
	params := url.Values{}
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "on")
	if d.mode == "wal" {
		params.Set("_journal_mode", "WAL")
	}
	return fmt.Sprintf("file:%s?%s", d.path, params.Encode())
}

// Open creates one database handle. Each pooled connection wraps its own
// *sql.DB restricted to a single underlying connection, so the pool's
// capacity bound is the real bound on open SQLite handles.
func (d *SQLiteDriver) Open(ctx context.Context) (pool.Conn, error) {
	db, err := sql.Open("sqlite3", d.DSN())
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", d.path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database %s: %w", d.path, err)
	}

	d.logger.Debug().Str("path", d.path).Str("mode", d.mode).Msg("Opened SQLite handle")
	return &DBConn{db: db}, nil
}

// DBConn is a pooled SQLite handle. It implements pool.Conn and exposes the
// query surface the rest of the layer uses.
type DBConn struct {
	db *sql.DB
}

// Ping validates the handle.
func (c *DBConn) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (c *DBConn) Close() error {
	return c.db.Close()
}

// QueryContext runs a query returning rows.
func (c *DBConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a query expected to return at most one row.
func (c *DBConn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext runs a statement that returns no rows.
func (c *DBConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}
