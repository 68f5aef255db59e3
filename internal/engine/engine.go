// Package engine wires the analysis pipeline, scheduler, content source,
// dispatcher, and feedback recorder into one facade. The HTTP layer and
// the CLI talk only to the engine.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tomelabs/tome/internal/chunker"
	"github.com/tomelabs/tome/internal/content"
	"github.com/tomelabs/tome/internal/dispatch"
	"github.com/tomelabs/tome/internal/feedback"
	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/pipeline"
	"github.com/tomelabs/tome/internal/schedule"
	"github.com/tomelabs/tome/internal/store"
)

// Config assembles the engine's components.
type Config struct {
	Pipeline pipeline.Config
	Schedule schedule.Config
	Dispatch dispatch.Config
	Channel  dispatch.DeliveryChannel // defaults to the log channel
	Logger   *slog.Logger
}

// Engine owns the full book-retention lifecycle.
type Engine struct {
	store      *store.Store
	client     llm.Client
	pipeline   *pipeline.Pipeline
	scheduler  *schedule.Scheduler
	source     *content.Source
	recorder   *feedback.Recorder
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// New builds an engine over an open store and a (gated) LLM client.
func New(cfg Config, st *store.Store, client llm.Client) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Channel == nil {
		cfg.Channel = &dispatch.LogChannel{Logger: cfg.Logger}
	}
	cfg.Pipeline.Logger = cfg.Logger
	cfg.Schedule.Logger = cfg.Logger
	cfg.Dispatch.Logger = cfg.Logger

	p := pipeline.New(cfg.Pipeline, st, client)
	sched := schedule.New(cfg.Schedule, st)
	source := content.NewSource(st, client, cfg.Logger)

	return &Engine{
		store:      st,
		client:     client,
		pipeline:   p,
		scheduler:  sched,
		source:     source,
		recorder:   feedback.NewRecorder(st, client, source, sched, cfg.Logger),
		dispatcher: dispatch.New(cfg.Dispatch, st, source, cfg.Channel),
		logger:     cfg.Logger.With("component", "engine"),
	}
}

// Start launches background processing: the pipeline worker pool, crash
// recovery for interrupted jobs, and the delivery loop. Everything winds
// down when ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.pipeline.Start(ctx)
	if err := e.pipeline.Resume(ctx); err != nil {
		return err
	}
	go e.dispatcher.Run(ctx)
	return nil
}

// RegisterUser creates or updates a user's notification preferences.
func (e *Engine) RegisterUser(ctx context.Context, u store.User) (*store.User, error) {
	if err := e.store.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return e.store.GetUser(ctx, u.ID)
}

// SubmitBook ingests a book and starts its analysis. Returns the book ID.
func (e *Engine) SubmitBook(ctx context.Context, book chunker.Book) (string, error) {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if err := e.store.CreateBook(ctx, store.Book{
		ID:     book.ID,
		Title:  book.Title,
		Author: book.Author,
	}); err != nil {
		return "", err
	}
	if err := e.pipeline.SubmitBook(ctx, book); err != nil {
		return "", err
	}
	return book.ID, nil
}

// ProcessingStatus reports a book's analysis progress.
func (e *Engine) ProcessingStatus(ctx context.Context, bookID string) (*pipeline.Report, error) {
	return e.pipeline.Status(ctx, bookID)
}

// ActivateSchedule starts spaced-repetition deliveries for a completed book.
func (e *Engine) ActivateSchedule(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	return e.scheduler.Activate(ctx, userID, bookID)
}

// PauseSchedule freezes pending deliveries for a (user, book).
func (e *Engine) PauseSchedule(ctx context.Context, userID, bookID string) error {
	return e.scheduler.Pause(ctx, userID, bookID)
}

// ResumeSchedule unfreezes paused deliveries.
func (e *Engine) ResumeSchedule(ctx context.Context, userID, bookID string) error {
	return e.scheduler.Resume(ctx, userID, bookID)
}

// RestartSchedule discards remaining deliveries and reactivates from now.
func (e *Engine) RestartSchedule(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	return e.scheduler.Restart(ctx, userID, bookID)
}

// ScheduleEntries returns all entries for a (user, book).
func (e *Engine) ScheduleEntries(ctx context.Context, userID, bookID string) ([]*store.ScheduleEntry, error) {
	return e.store.EntriesFor(ctx, userID, bookID)
}

// CurrentTier returns the next tier awaiting delivery for a (user, book).
func (e *Engine) CurrentTier(ctx context.Context, userID, bookID string) (schedule.Tier, error) {
	return e.scheduler.CurrentTier(ctx, userID, bookID)
}

// DueEntries returns deliveries that are due as of now.
func (e *Engine) DueEntries(ctx context.Context, limit int) ([]*store.ScheduleEntry, error) {
	return e.store.DueEntries(ctx, time.Now(), limit)
}

// RecordResponse grades a user's answer to a delivered entry and adjusts
// the schedule accordingly.
func (e *Engine) RecordResponse(ctx context.Context, entryID, responseText string) (*feedback.Result, error) {
	return e.recorder.RecordResponse(ctx, entryID, responseText)
}

// TierContent returns (generating if needed) the material for a tier.
func (e *Engine) TierContent(ctx context.Context, bookID, tier string) (string, error) {
	return e.source.TierContent(ctx, bookID, tier)
}

// DispatchNow forces one delivery pass, for CLI use and tests.
func (e *Engine) DispatchNow(ctx context.Context) (int, error) {
	return e.dispatcher.Tick(ctx)
}
