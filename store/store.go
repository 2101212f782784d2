// Package store is the data access layer for the reading service: the book
// queue, per-run history, schedules and operator settings, all in one
// SQLite database opened by the caller (see dbopen).
package store

import "database/sql"

// Queue entry statuses.
const (
	StatusPending   = "pending"
	StatusReading   = "reading"
	StatusCompleted = "completed"
)

// Schedule repeat types.
const (
	RepeatOnce   = "once"
	RepeatDaily  = "daily"
	RepeatWeekly = "weekly"
)

// Run outcomes recorded in history.
const (
	OutcomeCompleted = "completed"
	OutcomeStopped   = "stopped"
)

// QueueEntry is one book waiting to be (or being) read. Position is a
// stable insertion order: max existing + 1 when not supplied.
type QueueEntry struct {
	ID               string `json:"id"`
	BookReference    string `json:"bookReference"`
	BookTitle        string `json:"bookTitle"`
	Position         int    `json:"position"`
	Status           string `json:"status"`
	PagesRead        int    `json:"pagesRead"`
	TotalPages       int    `json:"totalPages"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	CreatedAt        int64  `json:"createdAt"`
	UpdatedAt        int64  `json:"updatedAt"`
}

// HistoryEntry records one finished run (completed or force-stopped).
// Append-only.
type HistoryEntry struct {
	ID               string `json:"id"`
	QueueEntryID     string `json:"queueEntryId,omitempty"`
	BookReference    string `json:"bookReference"`
	BookTitle        string `json:"bookTitle"`
	Identifier       string `json:"identifier"`
	PagesRead        int    `json:"pagesRead"`
	TotalPages       int    `json:"totalPages"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
	Outcome          string `json:"outcome"`
	StartedAt        int64  `json:"startedAt"`
	FinishedAt       int64  `json:"finishedAt"`
}

// Schedule triggers a queue entry at a point in time, optionally recurring.
type Schedule struct {
	ID            string `json:"id"`
	QueueEntryID  string `json:"queueEntryId"`
	ScheduledTime int64  `json:"scheduledTime"`
	RepeatType    string `json:"repeatType"`
	IsActive      bool   `json:"isActive"`
	CreatedAt     int64  `json:"createdAt"`
	UpdatedAt     int64  `json:"updatedAt"`
}

// Store wraps the service database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
