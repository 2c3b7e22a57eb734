// Package store implements the StatePort over SQLite: the single source
// of truth for projects, work items, sessions, the token ledger,
// interactions, breakpoints, and the checkpoint registry.
//
// Concurrency model: single writer, many readers. All write paths take
// the exclusive guard; a transaction failure leaves no partial rows
// visible to any reader. Every failure surfaces as *types.StorageFault
// naming the offending operation.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"overseer/internal/logging"
	"overseer/internal/types"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed StatePort implementation.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

var _ types.StatePort = (*Store)(nil)

// Open initializes the SQLite database at the given path and runs any
// pending migrations.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening state store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fault("Open", fmt.Errorf("failed to create directory: %w", err))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fault("Open", fmt.Errorf("failed to open database: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable sqlite foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	logging.StoreDebug("Schema ready at version %d", CurrentSchemaVersion)

	return s, nil
}

// Close closes the database connection. Never re-entrant.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	logging.Store("Closing state store at %s", s.dbPath)
	return s.db.Close()
}

// fault wraps a storage error with the offending operation name.
func fault(op string, err error) error {
	return &types.StorageFault{Op: op, Err: err}
}

// inTx runs fn inside a transaction, rolling back on error. Callers must
// already hold the write guard.
func (s *Store) inTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fault(op, fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Get(logging.CategoryStore).Error("%s: rollback failed: %v", op, rbErr)
		}
		if _, ok := err.(*types.StorageFault); ok {
			return err
		}
		return fault(op, err)
	}
	if err := tx.Commit(); err != nil {
		return fault(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
