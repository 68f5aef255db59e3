// Package feedback records user responses to delivered material and feeds
// the graded quality back into the schedule.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tomelabs/tome/internal/content"
	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/schedule"
	"github.com/tomelabs/tome/internal/store"
)

// ErrNotDelivered indicates a response arrived for an entry that was never
// delivered to the user.
var ErrNotDelivered = errors.New("feedback: entry not delivered")

// Result is the outcome of recording one response.
type Result struct {
	ResponseID string
	Quality    float64

	// AdjustedTier names the tier whose interval moved, empty when the
	// quality fell in the neutral band.
	AdjustedTier string
}

// Recorder grades responses and applies schedule adjustments.
type Recorder struct {
	store     *store.Store
	client    llm.Client
	source    *content.Source
	scheduler *schedule.Scheduler
	logger    *slog.Logger
}

// NewRecorder creates a feedback recorder.
func NewRecorder(st *store.Store, client llm.Client, source *content.Source, scheduler *schedule.Scheduler, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:     st,
		client:    client,
		source:    source,
		scheduler: scheduler,
		logger:    logger.With("component", "feedback"),
	}
}

// RecordResponse grades a user's free-text response to a delivered entry,
// stores it, and adjusts the next tier's interval when the grade warrants.
func (r *Recorder) RecordResponse(ctx context.Context, entryID, responseText string) (*Result, error) {
	entry, err := r.store.GetScheduleEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.State != store.EntryDelivered {
		return nil, fmt.Errorf("%w: entry %s is %s", ErrNotDelivered, entryID, entry.State)
	}

	concept, err := r.source.ExpectedConcept(ctx, entry.BookID)
	if err != nil {
		return nil, err
	}
	quality, err := r.client.EvaluateResponse(ctx, llm.EvaluationRequest{
		ResponseText:    responseText,
		ExpectedConcept: concept,
	})
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}

	responseID, err := r.store.InsertResponse(ctx, store.Response{
		EntryID: entryID,
		UserID:  entry.UserID,
		BookID:  entry.BookID,
		Tier:    entry.Tier,
		Quality: quality,
		Text:    responseText,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{ResponseID: responseID, Quality: quality}
	adjusted, err := r.scheduler.AdjustNext(ctx, entry.UserID, entry.BookID, quality)
	if err != nil {
		// The response is stored; adjustment failure is not fatal.
		r.logger.Error("interval adjustment failed",
			"entry_id", entryID,
			"quality", quality,
			"error", err)
	} else if adjusted != nil {
		result.AdjustedTier = adjusted.Tier
	}

	r.logger.Info("response recorded",
		"entry_id", entryID,
		"user_id", entry.UserID,
		"tier", entry.Tier,
		"quality", quality,
		"adjusted_tier", result.AdjustedTier)
	return result, nil
}
