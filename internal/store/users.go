package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User holds per-user notification preferences.
type User struct {
	ID                   string
	Timezone             string // IANA zone name, e.g. "America/New_York"
	NotifyAt             string // local wall-clock "HH:MM" for daily delivery
	NotificationsEnabled bool
	CreatedAt            time.Time
}

// UpsertUser creates or updates a user's preferences.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if u.Timezone == "" {
		u.Timezone = "UTC"
	}
	if u.NotifyAt == "" {
		u.NotifyAt = "09:00"
	}
	enabled := 0
	if u.NotificationsEnabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, timezone, notify_at, notifications_enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			timezone = excluded.timezone,
			notify_at = excluded.notify_at,
			notifications_enabled = excluded.notifications_enabled`,
		u.ID, u.Timezone, u.NotifyAt, enabled, millis(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timezone, notify_at, notifications_enabled, created_at
		FROM users WHERE id = ?`, userID)

	var u User
	var enabled int
	var createdAt int64
	if err := row.Scan(&u.ID, &u.Timezone, &u.NotifyAt, &enabled, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return nil, err
	}
	u.NotificationsEnabled = enabled != 0
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}
