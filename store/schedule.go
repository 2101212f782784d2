package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/liseuse/dbopen"
)

const scheduleColumns = `id, queue_entry_id, scheduled_time, repeat_type,
	is_active, created_at, updated_at`

const (
	dayMS  = int64(24 * time.Hour / time.Millisecond)
	weekMS = 7 * dayMS
)

// AddSchedule inserts a schedule. Defaults: repeat once, active.
func (s *Store) AddSchedule(ctx context.Context, sc *Schedule) error {
	now := time.Now().UnixMilli()
	if sc.CreatedAt == 0 {
		sc.CreatedAt = now
	}
	if sc.UpdatedAt == 0 {
		sc.UpdatedAt = now
	}
	if sc.RepeatType == "" {
		sc.RepeatType = RepeatOnce
	}

	active := 0
	if sc.IsActive {
		active = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.QueueEntryID, sc.ScheduledTime, sc.RepeatType,
		active, sc.CreatedAt, sc.UpdatedAt,
	)
	return err
}

// GetSchedule returns the schedule or nil when absent.
func (s *Store) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	return scanSchedule(row)
}

// ListSchedules returns all schedules, soonest first.
func (s *Store) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules ORDER BY scheduled_time ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		sc, err := scanScheduleRows(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, sc)
	}
	return schedules, rows.Err()
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// DueSchedules returns active schedules whose time has been reached.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
		WHERE is_active = 1 AND scheduled_time <= ?
		ORDER BY scheduled_time ASC`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*Schedule
	for rows.Next() {
		sc, err := scanScheduleRows(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, sc)
	}
	return due, rows.Err()
}

// AdvanceSchedule recomputes a triggered schedule: once deactivates, daily
// and weekly push scheduled_time forward from the stored time (not from
// now, so a late sweep does not drift the cadence). Returns the updated
// schedule, or nil when the id is unknown.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, now time.Time) (*Schedule, error) {
	sc, err := s.GetSchedule(ctx, id)
	if err != nil || sc == nil {
		return nil, err
	}

	switch sc.RepeatType {
	case RepeatDaily:
		sc.ScheduledTime += dayMS
	case RepeatWeekly:
		sc.ScheduledTime += weekMS
	default: // once
		sc.IsActive = false
	}
	sc.UpdatedAt = now.UnixMilli()

	active := 0
	if sc.IsActive {
		active = 1
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`UPDATE schedules SET scheduled_time=?, is_active=?, updated_at=? WHERE id=?`,
		sc.ScheduledTime, active, sc.UpdatedAt, sc.ID)
	if err != nil {
		return nil, fmt.Errorf("store: advance schedule: %w", err)
	}
	return sc, nil
}

func scanSchedule(row *sql.Row) (*Schedule, error) {
	var sc Schedule
	var active int
	err := row.Scan(
		&sc.ID, &sc.QueueEntryID, &sc.ScheduledTime, &sc.RepeatType,
		&active, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: scan schedule: %w", err)
	}
	sc.IsActive = active != 0
	return &sc, nil
}

func scanScheduleRows(rows *sql.Rows) (*Schedule, error) {
	var sc Schedule
	var active int
	err := rows.Scan(
		&sc.ID, &sc.QueueEntryID, &sc.ScheduledTime, &sc.RepeatType,
		&active, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: scan schedule: %w", err)
	}
	sc.IsActive = active != 0
	return &sc, nil
}
