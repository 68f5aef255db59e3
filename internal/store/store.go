// Package store persists engine state in an embedded sqlite database.
//
// Record mutation happens only through the transition methods here, and the
// correctness-critical transitions (job state, schedule-entry claims) are
// conditional updates: UPDATE ... WHERE state = <expected> with a
// rows-affected check, never unconditional overwrites. Components own their
// record types; everything else only reads snapshots.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path and ensures the schema exists.
// Use a path under the service home dir, or a throwaway file in tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		notify_at TEXT NOT NULL DEFAULT '09:00',
		notifications_enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS books (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		author TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		total_units INTEGER NOT NULL DEFAULT 0,
		failed_chapter TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS content_units (
		book_id TEXT NOT NULL,
		sequence_index INTEGER NOT NULL,
		chapter_ref TEXT NOT NULL,
		chapter_title TEXT,
		text TEXT NOT NULL,
		token_count INTEGER NOT NULL,
		position_percent REAL NOT NULL,
		partial INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (book_id, sequence_index)
	);

	CREATE TABLE IF NOT EXISTS analysis_jobs (
		id TEXT PRIMARY KEY,
		book_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		sequence_index INTEGER NOT NULL,
		state TEXT NOT NULL DEFAULT 'pending',
		attempt INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		result TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (book_id, stage, sequence_index)
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_book_stage_state
		ON analysis_jobs (book_id, stage, state);

	CREATE TABLE IF NOT EXISTS schedule_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'scheduled',
		due_at INTEGER,
		remaining_ms INTEGER,
		base_interval_days REAL NOT NULL,
		claim_count INTEGER NOT NULL DEFAULT 0,
		deferred TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sched_user_book_tier
		ON schedule_entries (user_id, book_id, tier);
	CREATE INDEX IF NOT EXISTS idx_sched_due
		ON schedule_entries (state, due_at);
	-- At most one non-terminal entry per (user, book, tier).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sched_active
		ON schedule_entries (user_id, book_id, tier)
		WHERE state IN ('scheduled', 'paused', 'claimed');

	CREATE TABLE IF NOT EXISTS responses (
		id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		book_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		quality REAL NOT NULL,
		response_text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS learning_materials (
		book_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (book_id, tier)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// millis converts a time to the stored unix-millisecond representation.
func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromMillis converts a stored timestamp back to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
