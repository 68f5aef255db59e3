// Package dispatch delivers due schedule entries through a notification
// channel, at most once per entry.
//
// The claim is the serialization point: a worker that wins the scheduled ->
// claimed transition owns the delivery; everyone else backs off. A failed
// delivery releases the claim so a later tick retries, and an entry that
// keeps failing is eventually skipped rather than retried forever.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tomelabs/tome/internal/store"
)

// DeliveryChannel sends generated material to a user. Implementations must
// be safe for concurrent use.
type DeliveryChannel interface {
	// Deliver sends one piece of tier content. An error releases the
	// claim for a later retry.
	Deliver(ctx context.Context, userID, bookID, tier, material string) error

	// Name identifies the channel (e.g. "log", "telegram").
	Name() string
}

// ContentSource resolves the material for a due entry.
type ContentSource interface {
	TierContent(ctx context.Context, bookID, tier string) (string, error)
}

// Config tunes the dispatcher.
type Config struct {
	// Period is the polling interval (default 30s).
	Period time.Duration

	// BatchSize caps entries claimed per tick (default 20).
	BatchSize int

	// MaxClaims skips an entry after this many failed delivery attempts
	// (default 5).
	MaxClaims int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Period <= 0 {
		c.Period = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxClaims <= 0 {
		c.MaxClaims = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Dispatcher polls for due entries and delivers them.
type Dispatcher struct {
	cfg     Config
	store   *store.Store
	source  ContentSource
	channel DeliveryChannel
	logger  *slog.Logger

	now func() time.Time
}

// New creates a dispatcher.
func New(cfg Config, st *store.Store, source ContentSource, channel DeliveryChannel) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		cfg:     cfg,
		store:   st,
		source:  source,
		channel: channel,
		logger:  cfg.Logger.With("component", "dispatcher", "channel", channel.Name()),
		now:     time.Now,
	}
}

// SetNow overrides the clock. Tests only.
func (d *Dispatcher) SetNow(now func() time.Time) { d.now = now }

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "period", d.cfg.Period)
	ticker := time.NewTicker(d.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			if n, err := d.Tick(ctx); err != nil {
				d.logger.Error("dispatch tick failed", "error", err)
			} else if n > 0 {
				d.logger.Info("dispatch tick", "delivered", n)
			}
		}
	}
}

// Tick claims and delivers one batch of due entries. Returns the number of
// successful deliveries. Safe to call concurrently with other dispatchers
// sharing the store: the per-entry claim keeps deliveries at-most-once.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	due, err := d.store.DueEntries(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, entry := range due {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if d.deliverOne(ctx, entry) {
			delivered++
		}
	}
	return delivered, nil
}

// deliverOne attempts a single entry and reports whether it was delivered.
func (d *Dispatcher) deliverOne(ctx context.Context, entry *store.ScheduleEntry) bool {
	user, err := d.store.GetUser(ctx, entry.UserID)
	if err != nil {
		d.logger.Error("failed to load user", "entry_id", entry.ID, "error", err)
		return false
	}
	if !user.NotificationsEnabled {
		// Leave the entry scheduled; it delivers once re-enabled.
		return false
	}

	claims, ok, err := d.store.ClaimEntry(ctx, entry.ID)
	if err != nil {
		d.logger.Error("claim failed", "entry_id", entry.ID, "error", err)
		return false
	}
	if !ok {
		// Another dispatcher owns it, or its state changed under us.
		return false
	}

	material, err := d.source.TierContent(ctx, entry.BookID, entry.Tier)
	if err == nil {
		err = d.channel.Deliver(ctx, entry.UserID, entry.BookID, entry.Tier, material)
	}
	if err != nil {
		d.release(ctx, entry, claims, err)
		return false
	}

	if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil || !ok {
		d.logger.Error("failed to record delivery", "entry_id", entry.ID, "error", err)
		return false
	}
	d.logger.Info("delivered",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
		"book_id", entry.BookID,
		"tier", entry.Tier)
	return true
}

// release returns a claim after a failed delivery, skipping the entry
// terminally once it has burned through its claim budget.
func (d *Dispatcher) release(ctx context.Context, entry *store.ScheduleEntry, claims int, cause error) {
	if claims >= d.cfg.MaxClaims {
		if _, err := d.store.SkipEntry(ctx, entry.ID); err != nil {
			d.logger.Error("failed to skip entry", "entry_id", entry.ID, "error", err)
			return
		}
		d.logger.Warn("entry skipped after repeated delivery failures",
			"entry_id", entry.ID,
			"tier", entry.Tier,
			"claims", claims,
			"error", cause)
		return
	}

	state, err := d.store.UnclaimEntry(ctx, entry.ID, d.now())
	if err != nil {
		d.logger.Error("failed to release claim", "entry_id", entry.ID, "error", err)
		return
	}
	d.logger.Warn("delivery failed, claim released",
		"entry_id", entry.ID,
		"tier", entry.Tier,
		"state", state,
		"claims", claims,
		"error", cause)
}

// LogChannel is a delivery channel that writes material to the log. Used
// when no external channel is configured.
type LogChannel struct {
	Logger *slog.Logger
}

// Name returns "log".
func (c *LogChannel) Name() string { return "log" }

// Deliver logs the material.
func (c *LogChannel) Deliver(ctx context.Context, userID, bookID, tier, material string) error {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	preview := material
	if len(preview) > 120 {
		preview = fmt.Sprintf("%s... (%d bytes)", preview[:120], len(material))
	}
	logger.Info("notification",
		"user_id", userID,
		"book_id", bookID,
		"tier", tier,
		"material", preview)
	return nil
}
