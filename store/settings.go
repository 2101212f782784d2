package store

import (
	"context"
	"database/sql"
	"time"
)

// Setting keys the service itself reads.
const (
	SettingIdentifier = "identifier"
	SettingSecret     = "secret"
	SettingInterval   = "interval_seconds"
)

// GetSetting returns the stored value, or "" when the key is absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.DB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// PutSetting upserts a key/value pair.
func (s *Store) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}
