package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// EntryState is the schedule entry lifecycle state.
type EntryState string

const (
	EntryScheduled EntryState = "scheduled"
	EntryPaused    EntryState = "paused"
	EntryClaimed   EntryState = "claimed"
	EntryDelivered EntryState = "delivered"
	EntrySkipped   EntryState = "skipped"
)

// Deferred actions applied to a claimed entry once its in-flight delivery
// resolves. Pause/restart never interrupts a delivery mid-flight.
const (
	DeferredNone  = ""
	DeferredPause = "pause"
	DeferredSkip  = "skip"
)

// ErrScheduleConflict indicates a non-terminal entry already exists for the
// same (user, book, tier); the existing entry wins.
var ErrScheduleConflict = errors.New("store: schedule entry already active for tier")

// ScheduleEntry is one planned spaced-repetition delivery.
type ScheduleEntry struct {
	ID               string
	UserID           string
	BookID           string
	Tier             string
	State            EntryState
	DueAt            time.Time     // zero while paused
	Remaining        time.Duration // only meaningful while paused
	BaseIntervalDays float64
	ClaimCount       int
	Deferred         string
	CreatedAt        time.Time
}

// InsertScheduleEntries creates all entries in a single transaction so
// partial creation is never observable. A unique-index conflict on any tier
// rolls the whole batch back and returns ErrScheduleConflict.
func (s *Store) InsertScheduleEntries(ctx context.Context, entries []ScheduleEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := millis(time.Now())
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedule_entries (id, user_id, book_id, tier, state, due_at, base_interval_days, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.BookID, e.Tier, string(EntryScheduled), millis(e.DueAt), e.BaseIntervalDays, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%s tier %s", ErrScheduleConflict, e.UserID, e.BookID, e.Tier)
			}
			return fmt.Errorf("failed to insert schedule entry: %w", err)
		}
	}
	return tx.Commit()
}

// GetScheduleEntry returns one entry by ID.
func (s *Store) GetScheduleEntry(ctx context.Context, entryID string) (*ScheduleEntry, error) {
	row := s.db.QueryRowContext(ctx, scheduleSelect+` WHERE id = ?`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: schedule entry %s", ErrNotFound, entryID)
	}
	return e, err
}

// EntriesFor returns all entries for a (user, book) in tier order.
func (s *Store) EntriesFor(ctx context.Context, userID, bookID string) ([]*ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, scheduleSelect+`
		WHERE user_id = ? AND book_id = ?
		ORDER BY base_interval_days, created_at`, userID, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// DueEntries returns scheduled entries whose due time has passed.
func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]*ScheduleEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, scheduleSelect+`
		WHERE state = ? AND due_at <= ?
		ORDER BY due_at LIMIT ?`,
		string(EntryScheduled), millis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// ClaimEntry attempts the scheduled -> claimed transition. This is the
// compare-and-set that makes delivery at-most-once under concurrent
// dispatcher workers: exactly one caller sees ok=true for a given due entry.
// Returns the claim count after the transition.
func (s *Store) ClaimEntry(ctx context.Context, entryID string) (int, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries
		SET state = ?, claim_count = claim_count + 1, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(EntryClaimed), millis(time.Now()), entryID, string(EntryScheduled))
	if err != nil {
		return 0, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, false, nil
	}

	var claims int
	if err := s.db.QueryRowContext(ctx, `
		SELECT claim_count FROM schedule_entries WHERE id = ?`, entryID).Scan(&claims); err != nil {
		return 0, false, err
	}
	return claims, true, nil
}

// MarkDelivered transitions claimed -> delivered.
func (s *Store) MarkDelivered(ctx context.Context, entryID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries SET state = ?, deferred = '', updated_at = ?
		WHERE id = ? AND state = ?`,
		string(EntryDelivered), millis(time.Now()), entryID, string(EntryClaimed))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UnclaimEntry transitions claimed back to scheduled after a failed
// delivery, honoring any pause/skip requested while the claim was held.
func (s *Store) UnclaimEntry(ctx context.Context, entryID string, now time.Time) (EntryState, error) {
	entry, err := s.GetScheduleEntry(ctx, entryID)
	if err != nil {
		return "", err
	}
	if entry.State != EntryClaimed {
		return entry.State, nil
	}

	var target EntryState
	var res sql.Result
	switch entry.Deferred {
	case DeferredSkip:
		target = EntrySkipped
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedule_entries SET state = ?, deferred = '', updated_at = ?
			WHERE id = ? AND state = ?`,
			string(EntrySkipped), millis(now), entryID, string(EntryClaimed))
	case DeferredPause:
		target = EntryPaused
		remaining := entry.DueAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedule_entries SET state = ?, deferred = '', remaining_ms = ?, due_at = NULL, updated_at = ?
			WHERE id = ? AND state = ?`,
			string(EntryPaused), remaining.Milliseconds(), millis(now), entryID, string(EntryClaimed))
	default:
		target = EntryScheduled
		res, err = s.db.ExecContext(ctx, `
			UPDATE schedule_entries SET state = ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			string(EntryScheduled), millis(now), entryID, string(EntryClaimed))
	}
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with another transition; report the current state.
		current, err := s.GetScheduleEntry(ctx, entryID)
		if err != nil {
			return "", err
		}
		return current.State, nil
	}
	return target, nil
}

// SkipEntry terminally skips an entry from any non-terminal state.
func (s *Store) SkipEntry(ctx context.Context, entryID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries SET state = ?, deferred = '', updated_at = ?
		WHERE id = ? AND state IN (?, ?, ?)`,
		string(EntrySkipped), millis(time.Now()), entryID,
		string(EntryScheduled), string(EntryPaused), string(EntryClaimed))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// PauseEntries freezes all scheduled entries for a (user, book), recording
// each entry's remaining duration and discarding the absolute due time.
// Claimed entries get a deferred pause applied when the claim resolves.
// Returns the number of entries paused immediately.
func (s *Store) PauseEntries(ctx context.Context, userID, bookID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	nowMs := millis(now)
	res, err := tx.ExecContext(ctx, `
		UPDATE schedule_entries
		SET state = ?, remaining_ms = MAX(due_at - ?, 0), due_at = NULL, updated_at = ?
		WHERE user_id = ? AND book_id = ? AND state = ?`,
		string(EntryPaused), nowMs, nowMs, userID, bookID, string(EntryScheduled))
	if err != nil {
		return 0, err
	}
	paused, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedule_entries SET deferred = ?, updated_at = ?
		WHERE user_id = ? AND book_id = ? AND state = ?`,
		DeferredPause, nowMs, userID, bookID, string(EntryClaimed)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(paused), nil
}

// ResumeEntries recomputes due times for paused entries: dueAt = now +
// remaining. Time spent paused never counts toward an interval.
func (s *Store) ResumeEntries(ctx context.Context, userID, bookID string, now time.Time) (int, error) {
	nowMs := millis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedule_entries
		SET state = ?, due_at = ? + COALESCE(remaining_ms, 0), remaining_ms = NULL, updated_at = ?
		WHERE user_id = ? AND book_id = ? AND state = ?`,
		string(EntryScheduled), nowMs, nowMs, userID, bookID, string(EntryPaused))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DiscardEntries terminally skips every entry for a (user, book). Claimed
// entries get a deferred skip. Used by restart; never reuses stale due times.
func (s *Store) DiscardEntries(ctx context.Context, userID, bookID string, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	nowMs := millis(now)
	res, err := tx.ExecContext(ctx, `
		UPDATE schedule_entries SET state = ?, deferred = '', updated_at = ?
		WHERE user_id = ? AND book_id = ? AND state IN (?, ?)`,
		string(EntrySkipped), nowMs, userID, bookID,
		string(EntryScheduled), string(EntryPaused))
	if err != nil {
		return 0, err
	}
	discarded, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `
		UPDATE schedule_entries SET deferred = ?, updated_at = ?
		WHERE user_id = ? AND book_id = ? AND state = ?`,
		DeferredSkip, nowMs, userID, bookID, string(EntryClaimed)); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(discarded), nil
}

// AdjustEntryInterval rewrites an entry's base interval and shifts its due
// time (or paused remaining duration) by the interval delta. Only applies
// while the entry is still scheduled or paused.
func (s *Store) AdjustEntryInterval(ctx context.Context, entryID string, newBaseDays float64) (bool, error) {
	entry, err := s.GetScheduleEntry(ctx, entryID)
	if err != nil {
		return false, err
	}

	deltaMs := int64((newBaseDays - entry.BaseIntervalDays) * 24 * float64(time.Hour) / float64(time.Millisecond))
	nowMs := millis(time.Now())

	switch entry.State {
	case EntryScheduled:
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedule_entries
			SET base_interval_days = ?, due_at = due_at + ?, updated_at = ?
			WHERE id = ? AND state = ?`,
			newBaseDays, deltaMs, nowMs, entryID, string(EntryScheduled))
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		return n == 1, nil
	case EntryPaused:
		res, err := s.db.ExecContext(ctx, `
			UPDATE schedule_entries
			SET base_interval_days = ?, remaining_ms = MAX(COALESCE(remaining_ms, 0) + ?, 0), updated_at = ?
			WHERE id = ? AND state = ?`,
			newBaseDays, deltaMs, nowMs, entryID, string(EntryPaused))
		if err != nil {
			return false, err
		}
		n, _ := res.RowsAffected()
		return n == 1, nil
	default:
		// Claimed/delivered/skipped entries are never adjusted retroactively.
		return false, nil
	}
}

const scheduleSelect = `
	SELECT id, user_id, book_id, tier, state, due_at, remaining_ms, base_interval_days, claim_count, deferred, created_at
	FROM schedule_entries`

func scanEntry(row rowScanner) (*ScheduleEntry, error) {
	var e ScheduleEntry
	var state string
	var dueAt, remaining sql.NullInt64
	var createdAt int64
	if err := row.Scan(&e.ID, &e.UserID, &e.BookID, &e.Tier, &state, &dueAt, &remaining, &e.BaseIntervalDays, &e.ClaimCount, &e.Deferred, &createdAt); err != nil {
		return nil, err
	}
	e.State = EntryState(state)
	if dueAt.Valid {
		e.DueAt = fromMillis(dueAt.Int64)
	}
	if remaining.Valid {
		e.Remaining = time.Duration(remaining.Int64) * time.Millisecond
	}
	e.CreatedAt = fromMillis(createdAt)
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*ScheduleEntry, error) {
	var entries []*ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// isUniqueViolation detects sqlite unique-constraint failures without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
