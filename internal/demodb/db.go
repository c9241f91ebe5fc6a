// Package demodb is the example DbGet/DbPut/DbDel/DbQuery effect
// backend SPEC_FULL.md's demo routes exercise. It is grounded on the
// teacher's internal/db package: same pure-Go sqlite driver, same
// goose-provider migration wiring, reduced from claude-ops's
// sessions/health_checks/memories schema to a generic key-value store
// plus a todos table, matching what the demo routes in cmd/zerver
// actually need.
package demodb

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing the demo effect handler.
type DB struct {
	conn *sql.DB
}

// Open creates (if needed) and migrates the SQLite database at path,
// per spec.md §9's "DbGet/DbPut/DbDel/DbQuery" demo backend. Unlike the
// teacher's Open, there is no bootstrapFromLegacy step: a fresh demo
// database has no legacy schema_migrations table to migrate from.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the underlying *sql.DB, the way the teacher's DB.Conn
// does, for callers (tests, migration tooling) that need raw access.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
