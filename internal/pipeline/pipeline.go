// Package pipeline runs the two-stage book analysis: one job per content
// unit, then a single synthesis job once every chapter job has succeeded.
//
// Jobs live in the store and move through their lifecycle via conditional
// updates, so a transition observed by one worker is never repeated by
// another. The synthesis barrier is re-checked from full job state after
// every chapter completion rather than counted down, which keeps it correct
// across retries and restarts.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/tomelabs/tome/internal/chunker"
	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/store"
)

// Config tunes the pipeline worker pool and retry policy.
type Config struct {
	// Workers is the number of concurrent job processors (default 4).
	Workers int

	// QueueSize bounds the in-memory job queue (default 256).
	QueueSize int

	// MaxAttempts caps executions per job, first try included (default 3).
	MaxAttempts int

	// RetryBaseDelay is the backoff base, doubled per attempt (default 2s).
	RetryBaseDelay time.Duration

	// RetryMaxJitter is added uniformly at random to each delay (default 1s).
	RetryMaxJitter time.Duration

	// MaxTokensPerChunk is passed through to the chunker (default 100000).
	MaxTokensPerChunk int

	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 2 * time.Second
	}
	if c.RetryMaxJitter < 0 {
		c.RetryMaxJitter = 0
	}
	if c.MaxTokensPerChunk <= 0 {
		c.MaxTokensPerChunk = 100000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Transition describes one observed job state change, for tests and metrics.
type Transition struct {
	JobID  string
	BookID string
	Stage  store.Stage
	From   store.JobState
	To     store.JobState
}

// Pipeline orchestrates chapter analysis and synthesis for submitted books.
type Pipeline struct {
	cfg    Config
	store  *store.Store
	client llm.Client
	logger *slog.Logger

	queue chan string // job IDs
	wg    sync.WaitGroup

	// OnTransition, if set before Start, is invoked after each recorded
	// job state change. Called from worker goroutines.
	OnTransition func(Transition)
}

// New creates a pipeline. Call Start before submitting books.
func New(cfg Config, st *store.Store, client llm.Client) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{
		cfg:    cfg,
		store:  st,
		client: client,
		logger: cfg.Logger.With("component", "pipeline"),
		queue:  make(chan string, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("pipeline started", "workers", p.cfg.Workers)
}

// Wait blocks until all workers have exited.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// SubmitBook chunks the book, persists its content units, creates one
// pending job per unit, and enqueues them. The book must already exist in
// the store.
func (p *Pipeline) SubmitBook(ctx context.Context, book chunker.Book) error {
	units, err := chunker.Chunk(book, p.cfg.MaxTokensPerChunk)
	if err != nil {
		return fmt.Errorf("chunking failed: %w", err)
	}
	if err := p.store.InsertUnits(ctx, units); err != nil {
		return err
	}
	if err := p.store.SetBookTotalUnits(ctx, book.ID, len(units)); err != nil {
		return err
	}

	ids, err := p.store.CreateChapterJobs(ctx, book.ID, len(units))
	if err != nil {
		return err
	}
	if err := p.store.SetBookStatus(ctx, book.ID, store.BookProcessing); err != nil {
		return err
	}

	p.logger.Info("book submitted",
		"book_id", book.ID,
		"title", book.Title,
		"units", len(units))

	for _, id := range ids {
		p.enqueue(ctx, id)
	}
	return nil
}

// Resume re-enqueues every job left in a non-terminal state, including jobs
// that were running when the previous process died.
func (p *Pipeline) Resume(ctx context.Context) error {
	ids, err := p.store.ResumableJobs(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		p.logger.Info("resuming interrupted jobs", "count", len(ids))
	}
	for _, id := range ids {
		p.enqueue(ctx, id)
	}
	return nil
}

func (p *Pipeline) enqueue(ctx context.Context, jobID string) {
	select {
	case p.queue <- jobID:
	case <-ctx.Done():
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-p.queue:
			p.runJob(ctx, jobID)
		}
	}
}

func (p *Pipeline) runJob(ctx context.Context, jobID string) {
	ok, err := p.store.MarkJobRunning(ctx, jobID)
	if err != nil {
		p.logger.Error("failed to start job", "job_id", jobID, "error", err)
		return
	}
	if !ok {
		// Already terminal; another worker got here first.
		return
	}

	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		p.logger.Error("failed to load job", "job_id", jobID, "error", err)
		return
	}
	p.notify(job, store.JobPending, store.JobRunning)

	var result string
	switch job.Stage {
	case store.StageChapter:
		result, err = p.runChapterJob(ctx, job)
	case store.StageSynthesis:
		result, err = p.runSynthesisJob(ctx, job)
	default:
		err = llm.Permanent(fmt.Errorf("unknown stage %q", job.Stage))
	}

	if err != nil {
		p.handleFailure(ctx, job, err)
		return
	}

	if ok, err := p.store.MarkJobSucceeded(ctx, jobID, result); err != nil || !ok {
		p.logger.Error("failed to record job success", "job_id", jobID, "error", err)
		return
	}
	p.notify(job, store.JobRunning, store.JobSucceeded)
	p.logger.Info("job succeeded",
		"job_id", jobID,
		"book_id", job.BookID,
		"stage", job.Stage,
		"sequence", job.SequenceIndex)

	switch job.Stage {
	case store.StageChapter:
		p.checkBarrier(ctx, job.BookID)
	case store.StageSynthesis:
		if err := p.store.SetBookStatus(ctx, job.BookID, store.BookCompleted); err != nil {
			p.logger.Error("failed to mark book completed", "book_id", job.BookID, "error", err)
		}
	}
}

func (p *Pipeline) runChapterJob(ctx context.Context, job *store.JobRecord) (string, error) {
	unit, err := p.store.GetUnit(ctx, job.BookID, job.SequenceIndex)
	if err != nil {
		return "", llm.Permanent(err)
	}
	book, err := p.store.GetBook(ctx, job.BookID)
	if err != nil {
		return "", llm.Permanent(err)
	}

	analysis, err := p.client.AnalyzeChapter(ctx, llm.ChapterRequest{
		BookID:       job.BookID,
		BookTitle:    book.Title,
		ChapterRef:   unit.ChapterRef,
		ChapterTitle: unit.ChapterTitle,
		Text:         unit.Text,
	})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(analysis)
	if err != nil {
		return "", llm.Permanent(err)
	}
	return string(payload), nil
}

func (p *Pipeline) runSynthesisJob(ctx context.Context, job *store.JobRecord) (string, error) {
	results, err := p.store.ChapterResults(ctx, job.BookID)
	if err != nil {
		return "", llm.Permanent(err)
	}
	book, err := p.store.GetBook(ctx, job.BookID)
	if err != nil {
		return "", llm.Permanent(err)
	}

	chapters := make([]llm.ChapterAnalysis, 0, len(results))
	for i, raw := range results {
		var a llm.ChapterAnalysis
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return "", llm.Permanent(fmt.Errorf("corrupt chapter result %d: %w", i, err))
		}
		chapters = append(chapters, a)
	}

	synthesis, err := p.client.Synthesize(ctx, llm.SynthesisRequest{
		BookID:    job.BookID,
		BookTitle: book.Title,
		Author:    book.Author,
		Chapters:  chapters,
	})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(synthesis)
	if err != nil {
		return "", llm.Permanent(err)
	}
	return string(payload), nil
}

// checkBarrier creates and enqueues the synthesis job once all chapter jobs
// have succeeded. Creation is idempotent, so concurrent checks after the
// last two completions cannot produce duplicate synthesis work.
func (p *Pipeline) checkBarrier(ctx context.Context, bookID string) {
	ready, err := p.store.AllChapterJobsSucceeded(ctx, bookID)
	if err != nil {
		p.logger.Error("barrier check failed", "book_id", bookID, "error", err)
		return
	}
	if !ready {
		return
	}

	id, created, err := p.store.CreateSynthesisJob(ctx, bookID)
	if err != nil {
		p.logger.Error("failed to create synthesis job", "book_id", bookID, "error", err)
		return
	}
	if !created {
		return
	}
	p.logger.Info("all chapter jobs succeeded, synthesis queued", "book_id", bookID)
	p.enqueue(ctx, id)
}

func (p *Pipeline) handleFailure(ctx context.Context, job *store.JobRecord, cause error) {
	// Attempt numbering: the loaded record holds the count of prior
	// failures, so this execution is attempt+1.
	attempts := job.Attempt + 1
	if llm.IsTransient(cause) && attempts < p.cfg.MaxAttempts {
		if ok, err := p.store.MarkJobRetry(ctx, job.ID, cause.Error()); err != nil || !ok {
			p.logger.Error("failed to record retry", "job_id", job.ID, "error", err)
			return
		}
		p.notify(job, store.JobRunning, store.JobRetry)

		delay := p.backoff(attempts)
		p.logger.Warn("job failed, retrying",
			"job_id", job.ID,
			"book_id", job.BookID,
			"attempt", attempts,
			"delay", delay,
			"error", cause)
		time.AfterFunc(delay, func() { p.enqueue(ctx, job.ID) })
		return
	}

	if ok, err := p.store.MarkJobFailed(ctx, job.ID, cause.Error()); err != nil || !ok {
		p.logger.Error("failed to record terminal failure", "job_id", job.ID, "error", err)
		return
	}
	p.notify(job, store.JobRunning, store.JobFailed)
	p.logger.Error("job failed terminally",
		"job_id", job.ID,
		"book_id", job.BookID,
		"stage", job.Stage,
		"attempts", attempts,
		"error", cause)

	ref := "synthesis"
	if job.Stage == store.StageChapter {
		if unit, err := p.store.GetUnit(ctx, job.BookID, job.SequenceIndex); err == nil {
			ref = unit.ChapterRef
		} else {
			ref = fmt.Sprintf("unit-%d", job.SequenceIndex)
		}
	}
	if err := p.store.MarkBookPartialFailure(ctx, job.BookID, ref); err != nil {
		p.logger.Error("failed to record partial failure", "book_id", job.BookID, "error", err)
	}
}

// backoff returns base * 2^(attempt-1) plus uniform jitter.
func (p *Pipeline) backoff(attempt int) time.Duration {
	d := p.cfg.RetryBaseDelay << uint(attempt-1)
	if p.cfg.RetryMaxJitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.cfg.RetryMaxJitter)))
	}
	return d
}

func (p *Pipeline) notify(job *store.JobRecord, from, to store.JobState) {
	if p.OnTransition == nil {
		return
	}
	p.OnTransition(Transition{
		JobID:  job.ID,
		BookID: job.BookID,
		Stage:  job.Stage,
		From:   from,
		To:     to,
	})
}
