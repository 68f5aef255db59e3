package pipeline

import (
	"context"

	"github.com/tomelabs/tome/internal/store"
)

// Phase is the coarse user-facing processing phase for a book.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseInProgress Phase = "in_progress"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
)

// Report summarizes a book's analysis progress.
type Report struct {
	BookID        string `json:"book_id"`
	Phase         Phase  `json:"phase"`
	TotalUnits    int    `json:"total_units"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	InFlight      int    `json:"in_flight"`
	SynthesisDone bool   `json:"synthesis_done"`
	FailedChapter string `json:"failed_chapter,omitempty"`
}

// Status builds a progress report from the stored job state.
func (p *Pipeline) Status(ctx context.Context, bookID string) (*Report, error) {
	book, err := p.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	jobs, err := p.store.JobsByBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return BuildReport(book, jobs), nil
}

// BuildReport derives the report from snapshots. A book is complete only
// when its synthesis job has succeeded; any terminal job failure makes the
// whole report failed.
func BuildReport(book *store.Book, jobs []*store.JobRecord) *Report {
	r := &Report{
		BookID:        book.ID,
		TotalUnits:    book.TotalUnits,
		FailedChapter: book.FailedChapter,
	}

	for _, j := range jobs {
		if j.Stage == store.StageSynthesis {
			r.SynthesisDone = j.State == store.JobSucceeded
			if j.State == store.JobFailed {
				r.Failed++
			}
			continue
		}
		switch j.State {
		case store.JobSucceeded:
			r.Succeeded++
		case store.JobFailed:
			r.Failed++
		default:
			r.InFlight++
		}
	}

	switch {
	case r.Failed > 0:
		r.Phase = PhaseFailed
	case r.SynthesisDone:
		r.Phase = PhaseComplete
	case len(jobs) == 0:
		r.Phase = PhasePending
	default:
		r.Phase = PhaseInProgress
	}
	return r
}
