// Package schedule plans and adjusts spaced-repetition deliveries.
//
// Activation creates the full tier set for a (user, book) in one atomic
// batch; the store's partial unique index guarantees at most one live entry
// per tier, so double activation is rejected wholesale. Interval adjustment
// from response quality only ever touches the next undelivered tier.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tomelabs/tome/internal/store"
)

// ErrBookNotReady indicates activation was attempted before the book's
// analysis completed.
var ErrBookNotReady = errors.New("schedule: book analysis not complete")

// ErrNoActiveSchedule indicates no live entries exist for the (user, book).
var ErrNoActiveSchedule = errors.New("schedule: no active schedule")

// Config tunes scheduling behavior.
type Config struct {
	// AnchorToDayBoundary snaps due times to the user's daily notification
	// wall-clock time in their timezone. When false, intervals run from
	// the exact activation instant.
	AnchorToDayBoundary bool

	// Quality thresholds for adaptive intervals. A response below Low
	// shrinks the next interval; above High grows it.
	LowQuality  float64
	HighQuality float64

	// Interval multipliers applied on low/high quality responses.
	ShrinkFactor float64
	GrowFactor   float64

	// FloorDays is the minimum interval after shrinking (default 1).
	FloorDays float64

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.LowQuality <= 0 {
		c.LowQuality = 0.5
	}
	if c.HighQuality <= 0 {
		c.HighQuality = 0.85
	}
	if c.ShrinkFactor <= 0 {
		c.ShrinkFactor = 0.7
	}
	if c.GrowFactor <= 0 {
		c.GrowFactor = 1.3
	}
	if c.FloorDays <= 0 {
		c.FloorDays = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scheduler manages schedule lifecycles for all users.
type Scheduler struct {
	cfg    Config
	store  *store.Store
	logger *slog.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// New creates a scheduler.
func New(cfg Config, st *store.Store) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:    cfg,
		store:  st,
		logger: cfg.Logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (s *Scheduler) SetNow(now func() time.Time) { s.now = now }

// Activate creates the full tier schedule for a (user, book). The book must
// have finished analysis. Returns store.ErrScheduleConflict if any tier
// already has a live entry.
func (s *Scheduler) Activate(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if book.Status != store.BookCompleted {
		return nil, fmt.Errorf("%w: book %s is %s", ErrBookNotReady, bookID, book.Status)
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	entries := make([]store.ScheduleEntry, 0, len(Tiers))
	for _, tier := range Tiers {
		days := baseDays[tier]
		entries = append(entries, store.ScheduleEntry{
			ID:               uuid.NewString(),
			UserID:           userID,
			BookID:           bookID,
			Tier:             string(tier),
			DueAt:            s.dueTime(now, days, user),
			BaseIntervalDays: days,
		})
	}
	if err := s.store.InsertScheduleEntries(ctx, entries); err != nil {
		return nil, err
	}

	s.logger.Info("schedule activated",
		"user_id", userID,
		"book_id", bookID,
		"first_due", entries[0].DueAt)
	return s.store.EntriesFor(ctx, userID, bookID)
}

// dueTime computes an entry's due instant: the activation instant plus the
// interval, optionally snapped to the user's notification time on the
// resulting local day.
func (s *Scheduler) dueTime(activation time.Time, days float64, user *store.User) time.Time {
	due := activation.Add(time.Duration(days * 24 * float64(time.Hour)))
	if !s.cfg.AnchorToDayBoundary {
		return due
	}

	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		loc = time.UTC
	}
	hour, min := parseNotifyAt(user.NotifyAt)
	local := due.In(loc)
	snapped := time.Date(local.Year(), local.Month(), local.Day(), hour, min, 0, 0, loc)
	return snapped.UTC()
}

// parseNotifyAt parses "HH:MM", falling back to 09:00.
func parseNotifyAt(v string) (hour, min int) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 9, 0
	}
	return t.Hour(), t.Minute()
}

// Pause freezes all pending deliveries for a (user, book). Entries already
// claimed for delivery finish their in-flight attempt and pause afterwards.
func (s *Scheduler) Pause(ctx context.Context, userID, bookID string) error {
	if _, err := s.liveEntries(ctx, userID, bookID); err != nil {
		return err
	}
	n, err := s.store.PauseEntries(ctx, userID, bookID, s.now())
	if err != nil {
		return err
	}
	s.logger.Info("schedule paused", "user_id", userID, "book_id", bookID, "entries", n)
	return nil
}

// Resume unfreezes paused deliveries. Each entry picks up with exactly the
// interval time it had left when paused.
func (s *Scheduler) Resume(ctx context.Context, userID, bookID string) error {
	n, err := s.store.ResumeEntries(ctx, userID, bookID, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: nothing paused for %s/%s", ErrNoActiveSchedule, userID, bookID)
	}
	s.logger.Info("schedule resumed", "user_id", userID, "book_id", bookID, "entries", n)
	return nil
}

// Restart discards every remaining entry and activates a fresh schedule
// anchored at the current time. Stale due times are never reused.
func (s *Scheduler) Restart(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	if _, err := s.store.DiscardEntries(ctx, userID, bookID, s.now()); err != nil {
		return nil, err
	}
	return s.Activate(ctx, userID, bookID)
}

// AdjustNext applies a response quality score to the next undelivered tier.
// Low quality shrinks its interval toward the floor; high quality grows it.
// Mid-range quality leaves the schedule untouched. Returns the adjusted
// entry, or nil if nothing was pending adjustment.
func (s *Scheduler) AdjustNext(ctx context.Context, userID, bookID string, quality float64) (*store.ScheduleEntry, error) {
	var factor float64
	switch {
	case quality < s.cfg.LowQuality:
		factor = s.cfg.ShrinkFactor
	case quality > s.cfg.HighQuality:
		factor = s.cfg.GrowFactor
	default:
		return nil, nil
	}

	next, err := s.nextPending(ctx, userID, bookID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSchedule) {
			return nil, nil
		}
		return nil, err
	}

	newBase := next.BaseIntervalDays * factor
	if newBase < s.cfg.FloorDays {
		newBase = s.cfg.FloorDays
	}
	ok, err := s.store.AdjustEntryInterval(ctx, next.ID, newBase)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The entry got claimed between lookup and adjust; leave it be.
		return nil, nil
	}

	s.logger.Info("interval adjusted",
		"user_id", userID,
		"book_id", bookID,
		"tier", next.Tier,
		"quality", quality,
		"base_days", newBase)
	return s.store.GetScheduleEntry(ctx, next.ID)
}

// CurrentTier returns the tier of the next pending delivery.
func (s *Scheduler) CurrentTier(ctx context.Context, userID, bookID string) (Tier, error) {
	next, err := s.nextPending(ctx, userID, bookID)
	if err != nil {
		return "", err
	}
	return Tier(next.Tier), nil
}

// nextPending returns the earliest-tier entry still awaiting delivery.
func (s *Scheduler) nextPending(ctx context.Context, userID, bookID string) (*store.ScheduleEntry, error) {
	entries, err := s.store.EntriesFor(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		switch e.State {
		case store.EntryScheduled, store.EntryPaused:
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNoActiveSchedule, userID, bookID)
}

// liveEntries returns non-terminal entries, erroring when none exist.
func (s *Scheduler) liveEntries(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	entries, err := s.store.EntriesFor(ctx, userID, bookID)
	if err != nil {
		return nil, err
	}
	var live []*store.ScheduleEntry
	for _, e := range entries {
		switch e.State {
		case store.EntryScheduled, store.EntryPaused, store.EntryClaimed:
			live = append(live, e)
		}
	}
	if len(live) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoActiveSchedule, userID, bookID)
	}
	return live, nil
}
