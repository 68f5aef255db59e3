// Package llm wraps the external AI capability behind a single rate-limited
// gate. Both the analysis pipeline and the feedback loop route their calls
// through the gate so the process-wide outstanding-call budget is respected.
package llm

import "context"

// ChapterRequest asks for an analysis of one content unit.
type ChapterRequest struct {
	BookID       string
	BookTitle    string
	ChapterRef   string
	ChapterTitle string
	Text         string
}

// ChapterAnalysis is the structured result of analyzing one chapter chunk.
type ChapterAnalysis struct {
	Summary         string   `json:"summary"`
	KeyConcepts     []string `json:"key_concepts"`
	Themes          []string `json:"themes"`
	ImportantQuotes []string `json:"important_quotes,omitempty"`
}

// SynthesisRequest asks for a book-wide synthesis from completed chapter analyses.
type SynthesisRequest struct {
	BookID    string
	BookTitle string
	Author    string
	Chapters  []ChapterAnalysis // ordered by sequence index
}

// Synthesis is the book-wide result built from all chapter analyses.
type Synthesis struct {
	Summary            string   `json:"summary"`
	KeyThemes          []string `json:"key_themes"`
	ConceptHierarchy   []string `json:"concept_hierarchy"`
	CrossChapterThemes []string `json:"cross_chapter_themes,omitempty"`
}

// TierContentRequest asks for spaced-repetition content for one tier.
type TierContentRequest struct {
	BookID    string
	BookTitle string
	Tier      string // day1, day3, day7, day30
	Synthesis Synthesis
}

// EvaluationRequest asks for a quality grade of a user's free-text response.
type EvaluationRequest struct {
	ResponseText    string
	ExpectedConcept string
}

// Client is the opaque content-analysis and generation capability.
// Implementations must return errors classified via Transient/Permanent
// (or raw provider errors, which the gate classifies).
type Client interface {
	// AnalyzeChapter analyzes a single content unit.
	AnalyzeChapter(ctx context.Context, req ChapterRequest) (*ChapterAnalysis, error)

	// Synthesize builds a book-wide synthesis from chapter analyses.
	Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error)

	// GenerateTierContent produces delivery content for a spaced-repetition tier.
	GenerateTierContent(ctx context.Context, req TierContentRequest) (string, error)

	// EvaluateResponse grades a user response against the expected concept,
	// returning a quality score in [0, 1].
	EvaluateResponse(ctx context.Context, req EvaluationRequest) (float64, error)

	// Name returns the client identifier (e.g. "openai").
	Name() string
}
