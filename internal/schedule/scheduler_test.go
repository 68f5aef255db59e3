package schedule

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomelabs/tome/internal/store"
)

func testScheduler(t *testing.T, cfg Config) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(cfg, st), st
}

func seedCompletedBook(t *testing.T, st *store.Store, userID, bookID string) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertUser(ctx, store.User{ID: userID, Timezone: "UTC", NotifyAt: "00:00", NotificationsEnabled: true}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := st.CreateBook(ctx, store.Book{ID: bookID, Title: "T"}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if err := st.SetBookStatus(ctx, bookID, store.BookCompleted); err != nil {
		t.Fatalf("SetBookStatus failed: %v", err)
	}
}

func TestActivateAnchorsToDayBoundary(t *testing.T) {
	s, st := testScheduler(t, Config{AnchorToDayBoundary: true})
	seedCompletedBook(t, st, "u1", "b1")

	activation := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetNow(func() time.Time { return activation })

	entries, err := s.Activate(context.Background(), "u1", "b1")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("created %d entries, want 4", len(entries))
	}

	wants := map[string]time.Time{
		"day1":  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"day3":  time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		"day7":  time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		"day30": time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	for _, e := range entries {
		if want := wants[e.Tier]; !e.DueAt.Equal(want) {
			t.Errorf("%s due = %v, want %v", e.Tier, e.DueAt, want)
		}
		if e.State != store.EntryScheduled {
			t.Errorf("%s state = %s, want scheduled", e.Tier, e.State)
		}
	}
}

func TestActivateHonorsUserNotifyTime(t *testing.T) {
	s, st := testScheduler(t, Config{AnchorToDayBoundary: true})
	ctx := context.Background()
	if err := st.UpsertUser(ctx, store.User{ID: "u1", Timezone: "America/New_York", NotifyAt: "08:30", NotificationsEnabled: true}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := st.CreateBook(ctx, store.Book{ID: "b1", Title: "T"}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if err := st.SetBookStatus(ctx, "b1", store.BookCompleted); err != nil {
		t.Fatalf("SetBookStatus failed: %v", err)
	}

	// Noon UTC on Jan 1 is 07:00 in New York (EST).
	s.SetNow(func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) })

	entries, err := s.Activate(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	ny, _ := time.LoadLocation("America/New_York")
	for _, e := range entries {
		local := e.DueAt.In(ny)
		if local.Hour() != 8 || local.Minute() != 30 {
			t.Errorf("%s due at %02d:%02d local, want 08:30", e.Tier, local.Hour(), local.Minute())
		}
	}
}

func TestActivateRequiresCompletedBook(t *testing.T) {
	s, st := testScheduler(t, Config{})
	ctx := context.Background()
	if err := st.UpsertUser(ctx, store.User{ID: "u1"}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := st.CreateBook(ctx, store.Book{ID: "b1", Title: "T"}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if err := st.SetBookStatus(ctx, "b1", store.BookProcessing); err != nil {
		t.Fatalf("SetBookStatus failed: %v", err)
	}

	if _, err := s.Activate(ctx, "u1", "b1"); !errors.Is(err, ErrBookNotReady) {
		t.Errorf("Activate on processing book = %v, want ErrBookNotReady", err)
	}
}

func TestDoubleActivationRejected(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("first Activate failed: %v", err)
	}
	if _, err := s.Activate(ctx, "u1", "b1"); !errors.Is(err, store.ErrScheduleConflict) {
		t.Errorf("second Activate = %v, want ErrScheduleConflict", err)
	}
}

func TestPauseResumeKeepsRemainingInterval(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	activation := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := activation
	s.SetNow(func() time.Time { return clock })

	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Pause half a day in, resume ten days later.
	clock = activation.Add(12 * time.Hour)
	if err := s.Pause(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	clock = clock.Add(10 * 24 * time.Hour)
	if err := s.Resume(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	entries, err := st.EntriesFor(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("EntriesFor failed: %v", err)
	}
	// day1 had 12h remaining at pause; it is due 12h after resume.
	want := clock.Add(12 * time.Hour)
	if !entries[0].DueAt.Equal(want) {
		t.Errorf("day1 due after resume = %v, want %v", entries[0].DueAt, want)
	}
}

func TestResumeWithoutPauseFails(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := s.Resume(ctx, "u1", "b1"); !errors.Is(err, ErrNoActiveSchedule) {
		t.Errorf("Resume on running schedule = %v, want ErrNoActiveSchedule", err)
	}
}

func TestRestartAnchorsFresh(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	activation := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := activation
	s.SetNow(func() time.Time { return clock })

	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	clock = activation.Add(20 * 24 * time.Hour)
	entries, err := s.Restart(ctx, "u1", "b1")
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("restart created %d entries, want 4", len(entries))
	}
	// Fresh day1 is due one day after restart, not relative to the
	// original activation.
	want := clock.Add(24 * time.Hour)
	if !entries[0].DueAt.Equal(want) {
		t.Errorf("day1 due after restart = %v, want %v", entries[0].DueAt, want)
	}
}

func TestAdjustNextShrinksAndGrows(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	s.SetNow(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })
	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Low quality shrinks the next pending tier (day1): 1 * 0.7 hits the
	// one-day floor.
	adjusted, err := s.AdjustNext(ctx, "u1", "b1", 0.3)
	if err != nil {
		t.Fatalf("AdjustNext failed: %v", err)
	}
	if adjusted == nil || adjusted.Tier != "day1" {
		t.Fatalf("adjusted = %+v, want day1", adjusted)
	}
	if adjusted.BaseIntervalDays != 1 {
		t.Errorf("day1 base after shrink = %v, want floor 1", adjusted.BaseIntervalDays)
	}

	// Deliver day1, then a high-quality response grows day3: 3 * 1.3 = 3.9.
	if _, ok, _ := st.ClaimEntry(ctx, adjusted.ID); !ok {
		t.Fatal("claim day1 failed")
	}
	if ok, _ := st.MarkDelivered(ctx, adjusted.ID); !ok {
		t.Fatal("deliver day1 failed")
	}
	adjusted, err = s.AdjustNext(ctx, "u1", "b1", 0.9)
	if err != nil {
		t.Fatalf("AdjustNext failed: %v", err)
	}
	if adjusted == nil || adjusted.Tier != "day3" {
		t.Fatalf("adjusted = %+v, want day3", adjusted)
	}
	if got := adjusted.BaseIntervalDays; got < 3.89 || got > 3.91 {
		t.Errorf("day3 base after grow = %v, want 3.9", got)
	}

	// Mid-range quality changes nothing.
	unchanged, err := s.AdjustNext(ctx, "u1", "b1", 0.7)
	if err != nil {
		t.Fatalf("AdjustNext failed: %v", err)
	}
	if unchanged != nil {
		t.Errorf("mid-quality adjustment touched %+v", unchanged)
	}
}

func TestCurrentTierAdvances(t *testing.T) {
	s, st := testScheduler(t, Config{})
	seedCompletedBook(t, st, "u1", "b1")
	ctx := context.Background()

	if _, err := s.Activate(ctx, "u1", "b1"); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	tier, err := s.CurrentTier(ctx, "u1", "b1")
	if err != nil || tier != TierDay1 {
		t.Fatalf("CurrentTier = (%s, %v), want day1", tier, err)
	}

	entries, _ := st.EntriesFor(ctx, "u1", "b1")
	if _, ok, _ := st.ClaimEntry(ctx, entries[0].ID); !ok {
		t.Fatal("claim failed")
	}
	if ok, _ := st.MarkDelivered(ctx, entries[0].ID); !ok {
		t.Fatal("deliver failed")
	}

	tier, err = s.CurrentTier(ctx, "u1", "b1")
	if err != nil || tier != TierDay3 {
		t.Fatalf("CurrentTier after day1 delivery = (%s, %v), want day3", tier, err)
	}
}

func TestNextTier(t *testing.T) {
	if got := NextTier(TierDay1); got != TierDay3 {
		t.Errorf("NextTier(day1) = %s, want day3", got)
	}
	if got := NextTier(TierDay30); got != "" {
		t.Errorf("NextTier(day30) = %s, want empty", got)
	}
	if Tier("day5").Valid() {
		t.Error("day5 should not be a valid tier")
	}
}
