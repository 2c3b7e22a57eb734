package store

import (
	"database/sql"
	"fmt"

	"overseer/internal/logging"
)

// Schema versions:
// v1: base schema (projects, work_items, sessions, token_ledger,
//     interactions, breakpoints)
// v2: cache token columns on token_ledger
// v3: checkpoint registry
// v4: turns column on token_ledger
const CurrentSchemaVersion = 4

// Migration is one numbered, invertible schema step.
type Migration struct {
	Version int
	Name    string
	Up      []string
	Down    []string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "base schema",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				working_directory TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'ACTIVE',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				is_deleted INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS work_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL,
				kind TEXT NOT NULL,
				title TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				priority INTEGER NOT NULL DEFAULT 5,
				status TEXT NOT NULL DEFAULT 'PENDING',
				parent_id INTEGER,
				epic_ids TEXT NOT NULL DEFAULT '[]',
				dependencies TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				is_deleted INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_items_project_kind ON work_items(project_id, kind)`,
			`CREATE INDEX IF NOT EXISTS idx_items_parent ON work_items(parent_id)`,
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				project_id INTEGER NOT NULL,
				milestone_id INTEGER,
				started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				ended_at DATETIME,
				status TEXT NOT NULL DEFAULT 'ACTIVE',
				total_tokens INTEGER NOT NULL DEFAULT 0,
				total_turns INTEGER NOT NULL DEFAULT 0,
				summary TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, milestone_id, status)`,
			`CREATE TABLE IF NOT EXISTS token_ledger (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				task_id INTEGER NOT NULL,
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				input_tokens INTEGER NOT NULL DEFAULT 0,
				output_tokens INTEGER NOT NULL DEFAULT 0,
				total_tokens INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_ledger_session ON token_ledger(session_id)`,
			`CREATE TABLE IF NOT EXISTS interactions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL,
				task_id INTEGER NOT NULL,
				session_id TEXT NOT NULL,
				iteration INTEGER NOT NULL,
				prompt TEXT NOT NULL,
				response TEXT NOT NULL,
				timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				meta TEXT NOT NULL DEFAULT '{}'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_interactions_task ON interactions(task_id, iteration)`,
			`CREATE TABLE IF NOT EXISTS breakpoints (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id INTEGER NOT NULL,
				reason TEXT NOT NULL,
				triggered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				resolved_at DATETIME,
				resolution TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE INDEX IF NOT EXISTS idx_breakpoints_task ON breakpoints(task_id, resolved_at)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS breakpoints`,
			`DROP TABLE IF EXISTS interactions`,
			`DROP TABLE IF EXISTS token_ledger`,
			`DROP TABLE IF EXISTS sessions`,
			`DROP TABLE IF EXISTS work_items`,
			`DROP TABLE IF EXISTS projects`,
		},
	},
	{
		Version: 2,
		Name:    "ledger cache token columns",
		Up: []string{
			`ALTER TABLE token_ledger ADD COLUMN cache_creation_tokens INTEGER NOT NULL DEFAULT 0`,
			`ALTER TABLE token_ledger ADD COLUMN cache_read_tokens INTEGER NOT NULL DEFAULT 0`,
		},
		Down: []string{
			`ALTER TABLE token_ledger DROP COLUMN cache_read_tokens`,
			`ALTER TABLE token_ledger DROP COLUMN cache_creation_tokens`,
		},
	},
	{
		Version: 3,
		Name:    "checkpoint registry",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS checkpoints (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				trigger_code TEXT NOT NULL,
				artifact BLOB NOT NULL,
				last_interaction_id INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS checkpoints`,
		},
	},
	{
		Version: 4,
		Name:    "ledger turns column",
		Up: []string{
			`ALTER TABLE token_ledger ADD COLUMN turns INTEGER NOT NULL DEFAULT 0`,
		},
		Down: []string{
			`ALTER TABLE token_ledger DROP COLUMN turns`,
		},
	},
}

// migrate brings the schema up to CurrentSchemaVersion. Each migration
// runs in its own transaction; version bumps commit atomically with
// their DDL.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fault("migrate", fmt.Errorf("failed to create schema_version: %w", err))
	}

	current, err := s.schemaVersion()
	if err != nil {
		return err
	}

	applied := 0
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logging.Store("Applying migration v%d: %s", m.Version, m.Name)
		if err := s.inTx("migrate", func(tx *sql.Tx) error {
			for _, stmt := range m.Up {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("migration v%d (%s): %w", m.Version, m.Name, err)
				}
			}
			if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
				return err
			}
			_, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, m.Version)
			return err
		}); err != nil {
			return err
		}
		applied++
	}

	if applied > 0 {
		logging.Store("Applied %d migration(s), schema now at v%d", applied, CurrentSchemaVersion)
	}
	return nil
}

// schemaVersion returns the recorded schema version, 0 for a fresh DB.
func (s *Store) schemaVersion() (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fault("schemaVersion", err)
	}
	if !v.Valid {
		return 0, nil
	}
	return int(v.Int64), nil
}
