// Package channeldb implements the transactional persistence layer of
// spec.md §4.6: a relational store holding every piece of protocol state
// a channel needs to survive process death, with a single-process
// in_transaction invariant enforced at every write site.
package channeldb

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const dbFileName = "lightning.sqlite3"

// DB is the process-wide handle onto the transactional store. It is
// single-threaded at the protocol-step granularity: callers serialize
// access per peer (spec.md §5), but the in_transaction flag is a
// process-wide hard invariant regardless.
type DB struct {
	*sql.DB

	mu            sync.Mutex
	inTransaction bool
	tx            *sql.Tx
}

// Open opens (creating if missing) the sqlite store at dbPath and
// applies any outstanding migrations. If the file is missing, it is
// created and the schema applied atomically; on failure the partial
// file is removed (spec.md §6).
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbFileName)
	fresh := !fileExists(path)

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("channeldb: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(1) // spec.md §5: the database handle is process-wide and single-threaded.

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		if fresh {
			os.Remove(path)
		}
		return nil, fmt.Errorf("channeldb: ping: %w", err)
	}

	if err := migrateSchema(sqlDB); err != nil {
		sqlDB.Close()
		if fresh {
			os.Remove(path)
		}
		return nil, fmt.Errorf("channeldb: migrate: %w", err)
	}

	return &DB{DB: sqlDB}, nil
}

// migrateSchema applies every embedded migration not yet recorded in
// schema_migrations, in filename order, each inside its own transaction
// so a partial migration never leaves the schema half-applied.
func migrateSchema(sqlDB *sql.DB) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY
	)`); err != nil {
		return fmt.Errorf("channeldb: create schema_migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		version := i + 1

		var applied int
		row := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version)
		if err := row.Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}

		sqlBytes, err := migrationFS.ReadFile(filepath.Join("migrations", name))
		if err != nil {
			return err
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("channeldb: applying %s: %w", name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ErrReentrantTransaction is the assertion failure of spec.md §5's
// in_transaction invariant: begin was called while already inside a
// transaction, or commit/abort was called while not inside one.
var ErrReentrantTransaction = fmt.Errorf("channeldb: in_transaction invariant violated")

// BeginTransaction opens the single process-wide transaction. Every
// protocol step that performs more than one write must wrap them with
// BeginTransaction/CommitTransaction (or AbortTransaction on error),
// per spec.md §4.6/§7.
func (db *DB) BeginTransaction() (*sql.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.inTransaction {
		return nil, ErrReentrantTransaction
	}

	tx, err := db.DB.Begin()
	if err != nil {
		return nil, err
	}

	db.inTransaction = true
	db.tx = tx
	return tx, nil
}

// CommitTransaction commits the open transaction.
func (db *DB) CommitTransaction() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.inTransaction {
		return ErrReentrantTransaction
	}

	err := db.tx.Commit()
	db.inTransaction = false
	db.tx = nil
	return err
}

// AbortTransaction rolls back the open transaction. Called on any error
// within a protocol step's writes (spec.md §7).
func (db *DB) AbortTransaction() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if !db.inTransaction {
		return ErrReentrantTransaction
	}

	err := db.tx.Rollback()
	db.inTransaction = false
	db.tx = nil
	return err
}

// assertInTransaction is called at every transactional write site, per
// spec.md §5's "the engine asserts this flag at every write-site."
func (db *DB) assertInTransaction() {
	db.mu.Lock()
	ok := db.inTransaction
	db.mu.Unlock()
	if !ok {
		panic(ErrReentrantTransaction)
	}
}

// currentTx returns the open transaction for use by write helpers.
func (db *DB) currentTx() *sql.Tx {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tx
}
