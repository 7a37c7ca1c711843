package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/rowsync/internal/crdt"
	"github.com/roach88/rowsync/internal/ir"
	"github.com/roach88/rowsync/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - fresh database
// 1 - change_log, cells, cursors, site_meta
// 2 - change_log cell index
const currentSchemaVersion = 2

// DefaultBusyTimeout bounds how long a writer waits for the database lock.
const DefaultBusyTimeout = 5 * time.Second

// readPoolSize is the number of connections used for snapshot reads.
const readPoolSize = 4

// Options configures Open.
type Options struct {
	// Schema validates writes and incoming changes. Defaults to schema.Default().
	Schema *schema.Schema

	// Parity is used when the database is initialized. An existing database
	// keeps the parity it was created with; asking for a different one fails.
	Parity crdt.Parity

	// NewSite is called once, when the database is initialized, to assign the
	// local site identifier. Defaults to a random UUIDv7.
	NewSite func() (ir.SiteID, error)

	// BusyTimeout defaults to DefaultBusyTimeout.
	BusyTimeout time.Duration
}

// Store is the durable state of one replica.
type Store struct {
	writeDB *sql.DB
	readDB  *sql.DB

	site   ir.SiteID
	parity crdt.Parity
	schema *schema.Schema
}

// Open creates or opens a replica database at path.
//
// Both pools are configured with WAL, NORMAL synchronous mode and a busy
// timeout. The write pool holds one connection and begins every transaction
// with BEGIN IMMEDIATE. In-memory databases share the write pool for reads.
//
// This function is idempotent - safe to call multiple times on one path.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.Schema == nil {
		opts.Schema = schema.Default()
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = DefaultBusyTimeout
	}
	isMemoryDB := strings.Contains(path, ":memory:")
	busyMS := opts.BusyTimeout.Milliseconds()

	writeDB, err := sql.Open("sqlite3", withParams(path, fmt.Sprintf("_busy_timeout=%d&_txlock=immediate", busyMS)))
	if err != nil {
		return nil, fmt.Errorf("failed to open write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0)

	if err := writeDB.PingContext(ctx); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	readDB := writeDB
	if !isMemoryDB {
		if err := applyPragmas(ctx, writeDB); err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := applySchema(ctx, writeDB); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if !isMemoryDB {
		readDB, err = sql.Open("sqlite3", withParams(path, fmt.Sprintf("_busy_timeout=%d", busyMS)))
		if err != nil {
			writeDB.Close()
			return nil, fmt.Errorf("failed to open read database: %w", err)
		}
		readDB.SetMaxOpenConns(readPoolSize)
		readDB.SetMaxIdleConns(readPoolSize)
		readDB.SetConnMaxLifetime(0)
	}

	s := &Store{writeDB: writeDB, readDB: readDB, schema: opts.Schema}
	if err := s.initSite(ctx, opts); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// withParams appends DSN parameters understood by go-sqlite3.
func withParams(path, params string) string {
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// Close closes both connection pools.
func (s *Store) Close() error {
	if s.writeDB == nil {
		return nil
	}
	var readErr error
	if s.readDB != nil && s.readDB != s.writeDB {
		readErr = s.readDB.Close()
	}
	return errors.Join(s.writeDB.Close(), readErr)
}

// Site returns the local site identifier.
func (s *Store) Site() ir.SiteID { return s.site }

// Parity returns the tombstone parity the database was initialized with.
func (s *Store) Parity() crdt.Parity { return s.parity }

// Schema returns the schema writes and merges are validated against.
func (s *Store) Schema() *schema.Schema { return s.schema }

// DBVersion returns the local db_version head: the highest db_version
// allocated by a local write or merge, 0 for a fresh replica.
func (s *Store) DBVersion(ctx context.Context) (int64, error) {
	var v int64
	if err := s.readDB.QueryRowContext(ctx, `SELECT db_version FROM site_meta WHERE id = 1`).Scan(&v); err != nil {
		return 0, ir.NewStorageError("db version", err)
	}
	return v, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	// Versions 1 and 2 are fully described by schema.sql.
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// initSite loads the replica identity, creating it on first open.
func (s *Store) initSite(ctx context.Context, opts Options) error {
	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return ir.NewStorageError("init site: begin tx", err)
	}
	defer tx.Rollback()

	var (
		rawSite []byte
		parity  string
	)
	err = tx.QueryRowContext(ctx, `SELECT site_id, tombstone_parity FROM site_meta WHERE id = 1`).Scan(&rawSite, &parity)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		newSite := opts.NewSite
		if newSite == nil {
			newSite = newV7Site
		}
		site, err := newSite()
		if err != nil {
			return fmt.Errorf("init site: generate site id: %w", err)
		}
		if site.IsZero() {
			return fmt.Errorf("init site: generated the zero site id")
		}
		p, err := crdt.ParseParity(string(opts.Parity))
		if err != nil {
			return fmt.Errorf("init site: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO site_meta (id, site_id, db_version, tombstone_parity, engine_version)
			VALUES (1, ?, 0, ?, ?)
		`, site.Bytes(), string(p), ir.EngineVersion); err != nil {
			return ir.NewStorageError("init site: insert", err)
		}
		if err := tx.Commit(); err != nil {
			return ir.NewStorageError("init site: commit", err)
		}
		s.site, s.parity = site, p
		return nil

	case err != nil:
		return ir.NewStorageError("init site: load", err)
	}

	site, err := ir.SiteIDFromBytes(rawSite)
	if err != nil {
		return fmt.Errorf("init site: %w", err)
	}
	if opts.Parity != "" && opts.Parity != crdt.Parity(parity) {
		return fmt.Errorf("init site: database was created with %q tombstone parity, configured %q", parity, opts.Parity)
	}
	s.site, s.parity = site, crdt.Parity(parity)
	return nil
}

func newV7Site() (ir.SiteID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return ir.ZeroSite, err
	}
	return ir.SiteID(id), nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.writeDB.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
