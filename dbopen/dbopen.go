// Package dbopen opens SQLite databases with the pragmas the rest of the
// repository assumes: foreign keys on, WAL journaling, a 10s busy timeout
// and NORMAL synchronous mode. Pragmas are applied with plain EXEC so any
// database/sql SQLite driver works; callers blank-import the driver:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("brands.db", dbopen.WithSchema(schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// settings collects the adjustable parts of Open.
type settings struct {
	busyTimeoutMS int
	cacheSize     int
	synchronous   string
	foreignKeys   bool
	mkdirAll      bool
	schemas       []schemaSrc
}

// schemaSrc is inline SQL or a path to an .sql file.
type schemaSrc struct {
	sql  string
	file string
}

// Option adjusts how Open configures the database.
type Option func(*settings)

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds).
func WithBusyTimeout(ms int) Option {
	return func(s *settings) { s.busyTimeoutMS = ms }
}

// WithCacheSize sets PRAGMA cache_size. Negative values are KiB.
func WithCacheSize(size int) Option {
	return func(s *settings) { s.cacheSize = size }
}

// WithSynchronous overrides PRAGMA synchronous.
func WithSynchronous(mode string) Option {
	return func(s *settings) { s.synchronous = mode }
}

// WithoutForeignKeys turns PRAGMA foreign_keys off.
func WithoutForeignKeys() Option {
	return func(s *settings) { s.foreignKeys = false }
}

// WithMkdirAll creates the database's parent directories before opening.
func WithMkdirAll() Option {
	return func(s *settings) { s.mkdirAll = true }
}

// WithSchema queues SQL to run after the pragmas. May be given repeatedly;
// schemas run in option order.
func WithSchema(sqlText string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, schemaSrc{sql: sqlText}) }
}

// WithSchemaFile queues the contents of an .sql file the same way.
func WithSchemaFile(path string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, schemaSrc{file: path}) }
}

// Open opens the SQLite database at path, applies the pragmas, runs any
// queued schema SQL and verifies the connection with a ping.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{
		busyTimeoutMS: 10_000,
		synchronous:   "NORMAL",
		foreignKeys:   true,
	}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	fail := func(err error) (*sql.DB, error) {
		db.Close()
		return nil, err
	}

	fk := "ON"
	if !s.foreignKeys {
		fk = "OFF"
	}
	pragmas := []string{
		"PRAGMA foreign_keys = " + fk,
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeoutMS),
		"PRAGMA synchronous = " + s.synchronous,
	}
	if s.cacheSize != 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA cache_size = %d", s.cacheSize))
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fail(fmt.Errorf("dbopen: %s: %w", p, err))
		}
	}

	for _, schema := range s.schemas {
		text := schema.sql
		if schema.file != "" {
			data, err := os.ReadFile(schema.file)
			if err != nil {
				return fail(fmt.Errorf("dbopen: schema file: %w", err))
			}
			text = string(data)
		}
		if _, err := db.Exec(text); err != nil {
			return fail(fmt.Errorf("dbopen: apply schema: %w", err))
		}
	}

	if err := db.Ping(); err != nil {
		return fail(fmt.Errorf("dbopen: ping: %w", err))
	}
	return db, nil
}

// OpenMemory opens an in-memory database for tests, capped at one connection
// because every new connection to ":memory:" is a fresh empty database.
// Closed via t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen: open memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
