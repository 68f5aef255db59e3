package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tomelabs/tome/internal/chunker"
	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/store"
)

func testBook(chapters int) chunker.Book {
	b := chunker.Book{ID: uuid.NewString(), Title: "The Test Book", Author: "A. Writer"}
	for i := 0; i < chapters; i++ {
		b.Chapters = append(b.Chapters, chunker.Chapter{
			Ref:   fmt.Sprintf("ch%d", i+1),
			Title: fmt.Sprintf("Chapter %d", i+1),
			Text:  "Some chapter text about an idea worth remembering.",
		})
	}
	return b
}

func startPipeline(t *testing.T, cfg Config, client llm.Client) (*Pipeline, *store.Store, context.CancelFunc) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	p := New(cfg, st, client)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	return p, st, cancel
}

func submit(t *testing.T, p *Pipeline, st *store.Store, book chunker.Book) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateBook(ctx, store.Book{ID: book.ID, Title: book.Title, Author: book.Author}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if err := p.SubmitBook(ctx, book); err != nil {
		t.Fatalf("SubmitBook failed: %v", err)
	}
}

func waitForStatus(t *testing.T, st *store.Store, bookID string, want store.BookStatus) *store.Book {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		b, err := st.GetBook(context.Background(), bookID)
		if err != nil {
			t.Fatalf("GetBook failed: %v", err)
		}
		if b.Status == want {
			return b
		}
		select {
		case <-deadline:
			t.Fatalf("book never reached %s, stuck at %s", want, b.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPipelineCompletesBook(t *testing.T) {
	mock := &llm.MockClient{}
	p, st, _ := startPipeline(t, Config{Workers: 2}, mock)

	book := testBook(3)
	submit(t, p, st, book)
	waitForStatus(t, st, book.ID, store.BookCompleted)

	if got := mock.AnalyzeCalls(); got != 3 {
		t.Errorf("analyze calls = %d, want 3", got)
	}
	if got := mock.SynthesizeCalls(); got != 1 {
		t.Errorf("synthesize calls = %d, want 1", got)
	}

	report, err := p.Status(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Phase != PhaseComplete {
		t.Errorf("phase = %s, want complete", report.Phase)
	}
	if report.Succeeded != 3 || !report.SynthesisDone {
		t.Errorf("report = %+v, want 3 succeeded with synthesis done", report)
	}

	// Synthesis sees all chapter results, in order.
	result, err := st.SynthesisResult(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("SynthesisResult failed: %v", err)
	}
	if result == "" {
		t.Error("synthesis result is empty")
	}
}

func TestPipelineRetriesTransientFailures(t *testing.T) {
	var failures atomic.Int64
	mock := &llm.MockClient{
		AnalyzeFn: func(ctx context.Context, req llm.ChapterRequest) (*llm.ChapterAnalysis, error) {
			if failures.Add(1) <= 2 {
				return nil, llm.Transient(errors.New("rate limited"))
			}
			return &llm.ChapterAnalysis{Summary: "s", KeyConcepts: []string{"c"}, Themes: []string{"t"}}, nil
		},
	}
	p, st, _ := startPipeline(t, Config{
		Workers:        1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxJitter: time.Millisecond,
	}, mock)

	book := testBook(1)
	submit(t, p, st, book)
	waitForStatus(t, st, book.ID, store.BookCompleted)

	if got := mock.AnalyzeCalls(); got != 3 {
		t.Errorf("analyze calls = %d, want 3 (two retries)", got)
	}
}

func TestPipelineExhaustsRetriesThenFails(t *testing.T) {
	mock := &llm.MockClient{
		AnalyzeFn: func(ctx context.Context, req llm.ChapterRequest) (*llm.ChapterAnalysis, error) {
			return nil, llm.Transient(errors.New("still down"))
		},
	}
	p, st, _ := startPipeline(t, Config{
		Workers:        1,
		MaxAttempts:    3,
		RetryBaseDelay: time.Millisecond,
	}, mock)

	book := testBook(1)
	submit(t, p, st, book)
	b := waitForStatus(t, st, book.ID, store.BookPartialFailure)

	if got := mock.AnalyzeCalls(); got != 3 {
		t.Errorf("analyze calls = %d, want exactly 3", got)
	}
	if b.FailedChapter != "ch1" {
		t.Errorf("failed chapter = %q, want ch1", b.FailedChapter)
	}
	if got := mock.SynthesizeCalls(); got != 0 {
		t.Errorf("synthesize calls = %d, want 0 after chapter failure", got)
	}
}

func TestPipelinePermanentFailureSkipsRetries(t *testing.T) {
	var calls atomic.Int64
	mock := &llm.MockClient{
		AnalyzeFn: func(ctx context.Context, req llm.ChapterRequest) (*llm.ChapterAnalysis, error) {
			if req.ChapterRef == "ch2" {
				calls.Add(1)
				return nil, llm.Permanent(errors.New("content rejected"))
			}
			return &llm.ChapterAnalysis{Summary: "s", KeyConcepts: []string{"c"}, Themes: []string{"t"}}, nil
		},
	}
	p, st, _ := startPipeline(t, Config{Workers: 2, RetryBaseDelay: time.Millisecond}, mock)

	book := testBook(3)
	submit(t, p, st, book)
	b := waitForStatus(t, st, book.ID, store.BookPartialFailure)

	if got := calls.Load(); got != 1 {
		t.Errorf("ch2 attempts = %d, want 1 (no retries for permanent errors)", got)
	}
	if b.FailedChapter != "ch2" {
		t.Errorf("failed chapter = %q, want ch2", b.FailedChapter)
	}

	report, err := p.Status(context.Background(), book.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if report.Phase != PhaseFailed {
		t.Errorf("phase = %s, want failed", report.Phase)
	}
}

func TestSynthesisRunsOnlyAfterAllChapters(t *testing.T) {
	var analyzed atomic.Int64
	mock := &llm.MockClient{
		SynthFn: func(ctx context.Context, req llm.SynthesisRequest) (*llm.Synthesis, error) {
			if n := analyzed.Load(); n != 4 {
				return nil, llm.Permanent(fmt.Errorf("synthesis started with %d chapters analyzed", n))
			}
			if len(req.Chapters) != 4 {
				return nil, llm.Permanent(fmt.Errorf("synthesis got %d chapters", len(req.Chapters)))
			}
			return &llm.Synthesis{Summary: "all four"}, nil
		},
		AnalyzeFn: func(ctx context.Context, req llm.ChapterRequest) (*llm.ChapterAnalysis, error) {
			defer analyzed.Add(1)
			return &llm.ChapterAnalysis{Summary: req.ChapterRef, KeyConcepts: []string{"c"}, Themes: []string{"t"}}, nil
		},
	}
	p, st, _ := startPipeline(t, Config{Workers: 4}, mock)

	book := testBook(4)
	submit(t, p, st, book)
	waitForStatus(t, st, book.ID, store.BookCompleted)

	if got := mock.SynthesizeCalls(); got != 1 {
		t.Errorf("synthesize calls = %d, want exactly 1", got)
	}
}

func TestResumeReenqueuesInterruptedJobs(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	// Simulate a crashed process: jobs exist but no pipeline ran them.
	book := testBook(2)
	if err := st.CreateBook(ctx, store.Book{ID: book.ID, Title: book.Title}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	units, err := chunker.Chunk(book, 100000)
	if err != nil {
		t.Fatalf("Chunk failed: %v", err)
	}
	if err := st.InsertUnits(ctx, units); err != nil {
		t.Fatalf("InsertUnits failed: %v", err)
	}
	ids, err := st.CreateChapterJobs(ctx, book.ID, len(units))
	if err != nil {
		t.Fatalf("CreateChapterJobs failed: %v", err)
	}
	// One job was mid-flight when the process died.
	if ok, _ := st.MarkJobRunning(ctx, ids[0]); !ok {
		t.Fatal("could not mark job running")
	}
	if err := st.SetBookStatus(ctx, book.ID, store.BookProcessing); err != nil {
		t.Fatalf("SetBookStatus failed: %v", err)
	}

	mock := &llm.MockClient{}
	p := New(Config{Workers: 2}, st, mock)
	runCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(runCtx)
	if err := p.Resume(runCtx); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	waitForStatus(t, st, book.ID, store.BookCompleted)
	if got := mock.AnalyzeCalls(); got != 2 {
		t.Errorf("analyze calls = %d, want 2", got)
	}
}

func TestBuildReportPhases(t *testing.T) {
	book := &store.Book{ID: "b", TotalUnits: 2}
	chapter := func(state store.JobState) *store.JobRecord {
		return &store.JobRecord{Stage: store.StageChapter, State: state}
	}
	synthesis := func(state store.JobState) *store.JobRecord {
		return &store.JobRecord{Stage: store.StageSynthesis, State: state}
	}

	cases := []struct {
		name string
		jobs []*store.JobRecord
		want Phase
	}{
		{"no jobs", nil, PhasePending},
		{"chapters running", []*store.JobRecord{chapter(store.JobRunning), chapter(store.JobPending)}, PhaseInProgress},
		{"chapters done, synthesis pending", []*store.JobRecord{chapter(store.JobSucceeded), chapter(store.JobSucceeded), synthesis(store.JobPending)}, PhaseInProgress},
		{"complete", []*store.JobRecord{chapter(store.JobSucceeded), chapter(store.JobSucceeded), synthesis(store.JobSucceeded)}, PhaseComplete},
		{"chapter failed", []*store.JobRecord{chapter(store.JobFailed), chapter(store.JobSucceeded)}, PhaseFailed},
		{"synthesis failed", []*store.JobRecord{chapter(store.JobSucceeded), chapter(store.JobSucceeded), synthesis(store.JobFailed)}, PhaseFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := BuildReport(book, tc.jobs).Phase; got != tc.want {
				t.Errorf("phase = %s, want %s", got, tc.want)
			}
		})
	}
}
