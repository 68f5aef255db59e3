package content

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tomelabs/tome/internal/llm"
	"github.com/tomelabs/tome/internal/store"
)

func seededSource(t *testing.T, mock *llm.MockClient) (*Source, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()

	if err := st.CreateBook(ctx, store.Book{ID: "b1", Title: "T"}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}
	if _, err := st.CreateChapterJobs(ctx, "b1", 1); err != nil {
		t.Fatalf("CreateChapterJobs failed: %v", err)
	}
	id, _, err := st.CreateSynthesisJob(ctx, "b1")
	if err != nil {
		t.Fatalf("CreateSynthesisJob failed: %v", err)
	}
	if ok, _ := st.MarkJobRunning(ctx, id); !ok {
		t.Fatal("synthesis job not runnable")
	}
	payload, _ := json.Marshal(llm.Synthesis{
		Summary:   "a book about habits",
		KeyThemes: []string{"small changes compound"},
	})
	if ok, _ := st.MarkJobSucceeded(ctx, id, string(payload)); !ok {
		t.Fatal("synthesis job did not succeed")
	}

	return NewSource(st, mock, nil), st
}

func TestTierContentGeneratesOnceAndCaches(t *testing.T) {
	mock := &llm.MockClient{}
	src, _ := seededSource(t, mock)
	ctx := context.Background()

	first, err := src.TierContent(ctx, "b1", "day1")
	if err != nil {
		t.Fatalf("TierContent failed: %v", err)
	}
	if first == "" {
		t.Fatal("empty tier content")
	}

	second, err := src.TierContent(ctx, "b1", "day1")
	if err != nil {
		t.Fatalf("second TierContent failed: %v", err)
	}
	if second != first {
		t.Errorf("cached content differs: %q vs %q", second, first)
	}
	if got := mock.GenerateCalls(); got != 1 {
		t.Errorf("generate calls = %d, want 1", got)
	}

	// Different tiers generate separately.
	if _, err := src.TierContent(ctx, "b1", "day3"); err != nil {
		t.Fatalf("day3 TierContent failed: %v", err)
	}
	if got := mock.GenerateCalls(); got != 2 {
		t.Errorf("generate calls = %d, want 2", got)
	}
}

func TestTierContentRequiresSynthesis(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "tome.db"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	if err := st.CreateBook(ctx, store.Book{ID: "b1", Title: "T"}); err != nil {
		t.Fatalf("CreateBook failed: %v", err)
	}

	src := NewSource(st, &llm.MockClient{}, nil)
	if _, err := src.TierContent(ctx, "b1", "day1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("TierContent without synthesis = %v, want ErrNotFound", err)
	}
}

func TestExpectedConceptPrefersKeyTheme(t *testing.T) {
	src, _ := seededSource(t, &llm.MockClient{})
	concept, err := src.ExpectedConcept(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ExpectedConcept failed: %v", err)
	}
	if concept != "small changes compound" {
		t.Errorf("concept = %q, want leading key theme", concept)
	}
}
