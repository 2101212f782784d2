package store

import "database/sql"

// Schema is the complete service schema. Timestamps are Unix milliseconds.
const Schema = `
-- Reading queue
CREATE TABLE IF NOT EXISTS queue (
    id                 TEXT PRIMARY KEY,
    book_reference     TEXT NOT NULL,
    book_title         TEXT NOT NULL DEFAULT '',
    position           INTEGER NOT NULL,
    status             TEXT NOT NULL DEFAULT 'pending',
    pages_read         INTEGER NOT NULL DEFAULT 0,
    total_pages        INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    created_at         INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_position ON queue(position);

-- Run history, append-only
CREATE TABLE IF NOT EXISTS history (
    id                 TEXT PRIMARY KEY,
    queue_entry_id     TEXT NOT NULL DEFAULT '',
    book_reference     TEXT NOT NULL,
    book_title         TEXT NOT NULL DEFAULT '',
    identifier         TEXT NOT NULL DEFAULT '',
    pages_read         INTEGER NOT NULL DEFAULT 0,
    total_pages        INTEGER NOT NULL DEFAULT 0,
    time_spent_seconds INTEGER NOT NULL DEFAULT 0,
    outcome            TEXT NOT NULL,
    started_at         INTEGER NOT NULL,
    finished_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_finished ON history(finished_at DESC);

-- Schedules
CREATE TABLE IF NOT EXISTS schedules (
    id             TEXT PRIMARY KEY,
    queue_entry_id TEXT NOT NULL,
    scheduled_time INTEGER NOT NULL,
    repeat_type    TEXT NOT NULL DEFAULT 'once',
    is_active      INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL,
    updated_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(is_active, scheduled_time);

-- Operator settings (stored credentials for scheduled runs, preferences)
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
