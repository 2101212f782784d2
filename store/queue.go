package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/liseuse/dbopen"
)

const queueColumns = `id, book_reference, book_title, position, status,
	pages_read, total_pages, time_spent_seconds, created_at, updated_at`

// AddQueueEntry inserts a queue entry. A zero Position is assigned
// max(existing)+1 so insertion order is stable under deletions.
func (s *Store) AddQueueEntry(ctx context.Context, e *QueueEntry) error {
	now := time.Now().UnixMilli()
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	if e.UpdatedAt == 0 {
		e.UpdatedAt = now
	}
	if e.Status == "" {
		e.Status = StatusPending
	}

	// Position assignment and insert share one transaction so two
	// concurrent adds cannot claim the same slot.
	assign := e.Position == 0
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if assign {
			var maxPos sql.NullInt64
			if err := tx.QueryRowContext(ctx,
				`SELECT MAX(position) FROM queue`).Scan(&maxPos); err != nil {
				return fmt.Errorf("store: next queue position: %w", err)
			}
			e.Position = int(maxPos.Int64) + 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO queue (`+queueColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.BookReference, e.BookTitle, e.Position, e.Status,
			e.PagesRead, e.TotalPages, e.TimeSpentSeconds, e.CreatedAt, e.UpdatedAt,
		)
		return err
	})
}

// GetQueueEntry returns the entry or nil when absent.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (*QueueEntry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM queue WHERE id = ?`, id)
	return scanQueueEntry(row)
}

// ListQueue returns all entries in position order.
func (s *Store) ListQueue(ctx context.Context) ([]*QueueEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+queueColumns+` FROM queue ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*QueueEntry
	for rows.Next() {
		e, err := scanQueueEntryRows(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateProgress records a progress snapshot against a queue entry and moves
// it to the reading status. A zero totalPages leaves the stored total alone
// (the engine may never learn it).
func (s *Store) UpdateProgress(ctx context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error {
	now := time.Now().UnixMilli()
	// Engine goroutines write progress while the HTTP side reads; retry
	// through transient SQLITE_BUSY instead of dropping the snapshot.
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE queue SET pages_read=?, total_pages=MAX(total_pages, ?),
		time_spent_seconds=?, status=?, updated_at=?
		WHERE id=?`,
		pagesRead, totalPages, timeSpentSeconds, StatusReading, now, id)
	return err
}

// MarkCompleted finalizes a queue entry after a finished run.
func (s *Store) MarkCompleted(ctx context.Context, id string, pagesRead, totalPages, timeSpentSeconds int) error {
	now := time.Now().UnixMilli()
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE queue SET pages_read=?, total_pages=MAX(total_pages, ?),
		time_spent_seconds=?, status=?, updated_at=?
		WHERE id=?`,
		pagesRead, totalPages, timeSpentSeconds, StatusCompleted, now, id)
	return err
}

// DeleteQueueEntry removes an entry. Deleting an unknown id is not an error.
func (s *Store) DeleteQueueEntry(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id)
	return err
}

func scanQueueEntry(row *sql.Row) (*QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(
		&e.ID, &e.BookReference, &e.BookTitle, &e.Position, &e.Status,
		&e.PagesRead, &e.TotalPages, &e.TimeSpentSeconds, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan queue entry: %w", err)
	}
	return &e, nil
}

func scanQueueEntryRows(rows *sql.Rows) (*QueueEntry, error) {
	var e QueueEntry
	err := rows.Scan(
		&e.ID, &e.BookReference, &e.BookTitle, &e.Position, &e.Status,
		&e.PagesRead, &e.TotalPages, &e.TimeSpentSeconds, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan queue entry: %w", err)
	}
	return &e, nil
}
