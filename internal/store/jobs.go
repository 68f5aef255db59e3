package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies the pipeline stage a job belongs to.
type Stage string

const (
	StageChapter   Stage = "chapter"
	StageSynthesis Stage = "synthesis"
)

// JobState is the analysis job lifecycle state.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobRetry     JobState = "retry"
	JobFailed    JobState = "failed"
)

// synthesisSequence is the sequence_index sentinel for synthesis jobs; the
// (book_id, stage, sequence_index) unique index then allows exactly one
// synthesis job per book.
const synthesisSequence = -1

// JobRecord is one unit of pipeline work.
type JobRecord struct {
	ID            string
	BookID        string
	Stage         Stage
	SequenceIndex int // content unit index for chapter jobs, -1 for synthesis
	State         JobState
	Attempt       int
	LastError     string
	Result        string // opaque analysis payload, present only when succeeded
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateChapterJobs inserts one pending chapter job per content unit index.
// Returns the created job IDs in sequence order.
func (s *Store) CreateChapterJobs(ctx context.Context, bookID string, unitCount int) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := millis(time.Now())
	ids := make([]string, 0, unitCount)
	for i := 0; i < unitCount; i++ {
		id := uuid.NewString()
		_, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_jobs (id, book_id, stage, sequence_index, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, bookID, string(StageChapter), i, string(JobPending), now, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create chapter job %d: %w", i, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// CreateSynthesisJob inserts the book's synthesis job if it does not already
// exist. Returns the job ID and whether this call created it; creation is
// idempotent under concurrent barrier checks.
func (s *Store) CreateSynthesisJob(ctx context.Context, bookID string) (string, bool, error) {
	id := uuid.NewString()
	now := millis(time.Now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_jobs (id, book_id, stage, sequence_index, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (book_id, stage, sequence_index) DO NOTHING`,
		id, bookID, string(StageSynthesis), synthesisSequence, string(JobPending), now, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to create synthesis job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.synthesisJobID(ctx, bookID)
		return existing, false, err
	}
	return id, true, nil
}

func (s *Store) synthesisJobID(ctx context.Context, bookID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM analysis_jobs WHERE book_id = ? AND stage = ?`,
		bookID, string(StageSynthesis)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: synthesis job for book %s", ErrNotFound, bookID)
	}
	return id, err
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, stage, sequence_index, state, attempt, COALESCE(last_error, ''), COALESCE(result, ''), created_at, updated_at
		FROM analysis_jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	return j, err
}

// JobsByBook returns a snapshot of all jobs for a book, chapter jobs in
// sequence order followed by the synthesis job.
func (s *Store) JobsByBook(ctx context.Context, bookID string) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, stage, sequence_index, state, attempt, COALESCE(last_error, ''), COALESCE(result, ''), created_at, updated_at
		FROM analysis_jobs WHERE book_id = ?
		ORDER BY stage, sequence_index`, bookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ResumableJobs returns IDs of jobs left in a non-terminal state, used to
// re-enqueue work after a restart. Jobs stuck in running are included: the
// worker that owned them is gone.
func (s *Store) ResumableJobs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM analysis_jobs
		WHERE state IN (?, ?, ?)
		ORDER BY created_at`,
		string(JobPending), string(JobRetry), string(JobRunning))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkJobRunning transitions pending/retry/running -> running. Returns false
// if the job was not in a runnable state (e.g. another worker finished it).
// Running is accepted so crash-resumed jobs can be re-dispatched.
func (s *Store) MarkJobRunning(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET state = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?, ?)`,
		string(JobRunning), millis(time.Now()), jobID,
		string(JobPending), string(JobRetry), string(JobRunning))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkJobSucceeded transitions running -> succeeded and stores the result.
func (s *Store) MarkJobSucceeded(ctx context.Context, jobID, result string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET state = ?, result = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(JobSucceeded), result, millis(time.Now()), jobID, string(JobRunning))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkJobRetry transitions running -> retry, bumping the attempt counter.
func (s *Store) MarkJobRetry(ctx context.Context, jobID, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET state = ?, attempt = attempt + 1, last_error = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(JobRetry), lastError, millis(time.Now()), jobID, string(JobRunning))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkJobFailed transitions running -> failed terminally.
func (s *Store) MarkJobFailed(ctx context.Context, jobID, lastError string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE analysis_jobs SET state = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = ?`,
		string(JobFailed), lastError, millis(time.Now()), jobID, string(JobRunning))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// AllChapterJobsSucceeded is the synthesis barrier check. It re-evaluates the
// full chapter job set for the book rather than counting down, so it stays
// correct under retries and concurrent completions.
func (s *Store) AllChapterJobsSucceeded(ctx context.Context, bookID string) (bool, error) {
	var total, succeeded int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(CASE WHEN state = ? THEN 1 END)
		FROM analysis_jobs WHERE book_id = ? AND stage = ?`,
		string(JobSucceeded), bookID, string(StageChapter)).Scan(&total, &succeeded)
	if err != nil {
		return false, err
	}
	return total > 0 && total == succeeded, nil
}

// ChapterResults returns the succeeded chapter job results in sequence order.
func (s *Store) ChapterResults(ctx context.Context, bookID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(result, '') FROM analysis_jobs
		WHERE book_id = ? AND stage = ? AND state = ?
		ORDER BY sequence_index`,
		bookID, string(StageChapter), string(JobSucceeded))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// SynthesisResult returns the succeeded synthesis payload for a book.
func (s *Store) SynthesisResult(ctx context.Context, bookID string) (string, error) {
	var result string
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(result, '') FROM analysis_jobs
		WHERE book_id = ? AND stage = ? AND state = ?`,
		bookID, string(StageSynthesis), string(JobSucceeded)).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: synthesis result for book %s", ErrNotFound, bookID)
	}
	return result, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var j JobRecord
	var stage, state string
	var createdAt, updatedAt int64
	if err := row.Scan(&j.ID, &j.BookID, &stage, &j.SequenceIndex, &state, &j.Attempt, &j.LastError, &j.Result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.Stage = Stage(stage)
	j.State = JobState(state)
	j.CreatedAt = fromMillis(createdAt)
	j.UpdatedAt = fromMillis(updatedAt)
	return &j, nil
}
