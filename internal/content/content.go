// Package content produces the learning material delivered at each
// spaced-repetition tier. Material is generated lazily from the book's
// synthesis on first request and cached, so repeated deliveries and
// restarted schedules reuse the same text.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/store"
)

// Source resolves tier content for completed books.
type Source struct {
	store  *store.Store
	client llm.Client
	logger *slog.Logger
}

// NewSource creates a content source backed by the store's material cache.
func NewSource(st *store.Store, client llm.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		store:  st,
		client: client,
		logger: logger.With("component", "content"),
	}
}

// TierContent returns the material for a (book, tier), generating and
// caching it on first use. The book's synthesis must exist.
func (s *Source) TierContent(ctx context.Context, bookID, tier string) (string, error) {
	cached, err := s.store.GetMaterial(ctx, bookID, tier)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	raw, err := s.store.SynthesisResult(ctx, bookID)
	if err != nil {
		return "", fmt.Errorf("no synthesis for book %s: %w", bookID, err)
	}
	var synthesis llm.Synthesis
	if err := json.Unmarshal([]byte(raw), &synthesis); err != nil {
		return "", fmt.Errorf("corrupt synthesis for book %s: %w", bookID, err)
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return "", err
	}

	material, err := s.client.GenerateTierContent(ctx, llm.TierContentRequest{
		BookID:    bookID,
		BookTitle: book.Title,
		Tier:      tier,
		Synthesis: synthesis,
	})
	if err != nil {
		return "", fmt.Errorf("content generation failed: %w", err)
	}

	if err := s.store.PutMaterial(ctx, bookID, tier, material); err != nil {
		return "", err
	}
	s.logger.Info("tier content generated", "book_id", bookID, "tier", tier)

	// Re-read so a concurrent generator's first write wins for everyone.
	return s.store.GetMaterial(ctx, bookID, tier)
}

// ExpectedConcept returns the concept a user response at this tier is
// graded against: the leading synthesis theme, falling back to the summary.
func (s *Source) ExpectedConcept(ctx context.Context, bookID string) (string, error) {
	raw, err := s.store.SynthesisResult(ctx, bookID)
	if err != nil {
		return "", err
	}
	var synthesis llm.Synthesis
	if err := json.Unmarshal([]byte(raw), &synthesis); err != nil {
		return "", err
	}
	if len(synthesis.KeyThemes) > 0 {
		return synthesis.KeyThemes[0], nil
	}
	return synthesis.Summary, nil
}
