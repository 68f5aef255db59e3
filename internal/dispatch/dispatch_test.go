package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomelabs/tome/internal/store"
)

type stubSource struct{}

func (stubSource) TierContent(ctx context.Context, bookID, tier string) (string, error) {
	return "material for " + tier, nil
}

type recordingChannel struct {
	mu         sync.Mutex
	deliveries []string // entry tier per delivery
	failWith   error
}

func (c *recordingChannel) Name() string { return "recording" }

func (c *recordingChannel) Deliver(ctx context.Context, userID, bookID, tier, material string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.deliveries = append(c.deliveries, tier)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func seedDueEntry(t *testing.T, st *store.Store, id string, due time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := st.UpsertUser(ctx, store.User{ID: "u1", NotificationsEnabled: true}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if err := st.InsertScheduleEntries(ctx, []store.ScheduleEntry{
		{ID: id, UserID: "u1", BookID: "b1", Tier: "day1", DueAt: due, BaseIntervalDays: 1},
	}); err != nil {
		t.Fatalf("InsertScheduleEntries failed: %v", err)
	}
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestTickDeliversDueEntries(t *testing.T) {
	st := testStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))

	ch := &recordingChannel{}
	d := New(Config{}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	n, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if n != 1 || ch.count() != 1 {
		t.Fatalf("delivered %d (channel saw %d), want 1", n, ch.count())
	}

	e, err := st.GetScheduleEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetScheduleEntry failed: %v", err)
	}
	if e.State != store.EntryDelivered {
		t.Errorf("entry state = %s, want delivered", e.State)
	}

	// A second tick finds nothing.
	n, err = d.Tick(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second tick = (%d, %v), want (0, nil)", n, err)
	}
}

func TestEntryNotDueIsUntouched(t *testing.T) {
	st := testStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(time.Hour))

	ch := &recordingChannel{}
	d := New(Config{}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	if n, err := d.Tick(context.Background()); err != nil || n != 0 {
		t.Errorf("tick = (%d, %v), want (0, nil)", n, err)
	}
}

func TestConcurrentDispatchersDeliverOnce(t *testing.T) {
	st := testStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))

	ch := &recordingChannel{}
	var total atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		d := New(Config{}, st, stubSource{}, ch)
		d.SetNow(func() time.Time { return now })
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := d.Tick(context.Background())
			if err != nil {
				t.Errorf("Tick failed: %v", err)
			}
			total.Add(int64(n))
		}()
	}
	wg.Wait()

	if got := total.Load(); got != 1 {
		t.Errorf("total deliveries = %d, want exactly 1", got)
	}
	if ch.count() != 1 {
		t.Errorf("channel saw %d deliveries, want 1", ch.count())
	}
}

func TestFailedDeliveryReleasesClaim(t *testing.T) {
	st := testStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))

	ch := &recordingChannel{failWith: errors.New("channel down")}
	d := New(Config{MaxClaims: 3}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	if n, _ := d.Tick(context.Background()); n != 0 {
		t.Fatalf("failing tick delivered %d", n)
	}
	e, _ := st.GetScheduleEntry(context.Background(), "e1")
	if e.State != store.EntryScheduled {
		t.Fatalf("entry state after failed delivery = %s, want scheduled", e.State)
	}
	if e.ClaimCount != 1 {
		t.Errorf("claim count = %d, want 1", e.ClaimCount)
	}

	// The channel recovers; the next tick delivers.
	ch.mu.Lock()
	ch.failWith = nil
	ch.mu.Unlock()
	if n, _ := d.Tick(context.Background()); n != 1 {
		t.Errorf("recovery tick delivered %d, want 1", n)
	}
}

func TestEntrySkippedAfterClaimBudget(t *testing.T) {
	st := testStore(t)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))

	ch := &recordingChannel{failWith: errors.New("channel down")}
	d := New(Config{MaxClaims: 3}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		d.Tick(context.Background())
	}

	e, _ := st.GetScheduleEntry(context.Background(), "e1")
	if e.State != store.EntrySkipped {
		t.Errorf("entry state = %s, want skipped after claim budget", e.State)
	}
	if e.ClaimCount != 3 {
		t.Errorf("claim count = %d, want 3", e.ClaimCount)
	}
}

func TestDisabledNotificationsHoldDelivery(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))
	if err := st.UpsertUser(ctx, store.User{ID: "u1", NotificationsEnabled: false}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	ch := &recordingChannel{}
	d := New(Config{}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	if n, _ := d.Tick(ctx); n != 0 {
		t.Fatal("delivered despite disabled notifications")
	}
	e, _ := st.GetScheduleEntry(ctx, "e1")
	if e.State != store.EntryScheduled {
		t.Fatalf("entry state = %s, want scheduled", e.State)
	}

	// Re-enabling lets the held entry through.
	if err := st.UpsertUser(ctx, store.User{ID: "u1", NotificationsEnabled: true}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	if n, _ := d.Tick(ctx); n != 1 {
		t.Error("held entry not delivered after re-enabling")
	}
}

func TestPausedWhileClaimedLandsPaused(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	seedDueEntry(t, st, "e1", now.Add(-time.Minute))

	// Delivery fails while a pause arrives mid-claim.
	ch := &recordingChannel{failWith: errors.New("slow channel")}
	d := New(Config{MaxClaims: 5}, st, stubSource{}, ch)
	d.SetNow(func() time.Time { return now })

	if _, ok, _ := st.ClaimEntry(ctx, "e1"); !ok {
		t.Fatal("manual claim failed")
	}
	if _, err := st.PauseEntries(ctx, "u1", "b1", now); err != nil {
		t.Fatalf("PauseEntries failed: %v", err)
	}

	entry, _ := st.GetScheduleEntry(ctx, "e1")
	d.release(ctx, entry, 1, errors.New("delivery failed"))

	e, _ := st.GetScheduleEntry(ctx, "e1")
	if e.State != store.EntryPaused {
		t.Errorf("entry state = %s, want paused via deferred pause", e.State)
	}
}
