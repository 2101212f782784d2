package store

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/liseuse/dbopen"
)

const historyColumns = `id, queue_entry_id, book_reference, book_title, identifier,
	pages_read, total_pages, time_spent_seconds, outcome, started_at, finished_at`

// AppendHistory records a finished run. Exactly-once per run is the
// caller's contract; the store itself is a plain append.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	if e.FinishedAt == 0 {
		e.FinishedAt = time.Now().UnixMilli()
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.QueueEntryID, e.BookReference, e.BookTitle, e.Identifier,
		e.PagesRead, e.TotalPages, e.TimeSpentSeconds, e.Outcome, e.StartedAt, e.FinishedAt,
	)
	return err
}

// ListHistory returns the most recent runs, newest first. limit <= 0 means
// a default of 100.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM history
		ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.QueueEntryID, &e.BookReference, &e.BookTitle, &e.Identifier,
			&e.PagesRead, &e.TotalPages, &e.TimeSpentSeconds, &e.Outcome, &e.StartedAt, &e.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan history entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
