package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// MockClient is a configurable Client for tests. Zero value returns
// canned successful results; set the Fn fields to override behavior.
type MockClient struct {
	AnalyzeFn  func(ctx context.Context, req ChapterRequest) (*ChapterAnalysis, error)
	SynthFn    func(ctx context.Context, req SynthesisRequest) (*Synthesis, error)
	GenerateFn func(ctx context.Context, req TierContentRequest) (string, error)
	EvaluateFn func(ctx context.Context, req EvaluationRequest) (float64, error)

	analyzeCalls  atomic.Int64
	synthCalls    atomic.Int64
	generateCalls atomic.Int64
	evaluateCalls atomic.Int64

	mu       sync.Mutex
	inFlight int
	maxSeen  int
}

// Name returns the mock identifier.
func (m *MockClient) Name() string { return "mock" }

// AnalyzeChapter records the call and delegates to AnalyzeFn if set.
func (m *MockClient) AnalyzeChapter(ctx context.Context, req ChapterRequest) (*ChapterAnalysis, error) {
	m.analyzeCalls.Add(1)
	defer m.track()()
	if m.AnalyzeFn != nil {
		return m.AnalyzeFn(ctx, req)
	}
	return &ChapterAnalysis{
		Summary:     fmt.Sprintf("summary of %s", req.ChapterRef),
		KeyConcepts: []string{"concept-a", "concept-b"},
		Themes:      []string{"theme-a"},
	}, nil
}

// Synthesize records the call and delegates to SynthFn if set.
func (m *MockClient) Synthesize(ctx context.Context, req SynthesisRequest) (*Synthesis, error) {
	m.synthCalls.Add(1)
	defer m.track()()
	if m.SynthFn != nil {
		return m.SynthFn(ctx, req)
	}
	return &Synthesis{
		Summary:          fmt.Sprintf("synthesis of %s from %d chapters", req.BookID, len(req.Chapters)),
		KeyThemes:        []string{"theme-a", "theme-b"},
		ConceptHierarchy: []string{"concept-a", "concept-b"},
	}, nil
}

// GenerateTierContent records the call and delegates to GenerateFn if set.
func (m *MockClient) GenerateTierContent(ctx context.Context, req TierContentRequest) (string, error) {
	m.generateCalls.Add(1)
	defer m.track()()
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, req)
	}
	return fmt.Sprintf("%s content for %s", req.Tier, req.BookID), nil
}

// EvaluateResponse records the call and delegates to EvaluateFn if set.
func (m *MockClient) EvaluateResponse(ctx context.Context, req EvaluationRequest) (float64, error) {
	m.evaluateCalls.Add(1)
	defer m.track()()
	if m.EvaluateFn != nil {
		return m.EvaluateFn(ctx, req)
	}
	return 0.75, nil
}

// AnalyzeCalls returns the number of AnalyzeChapter invocations.
func (m *MockClient) AnalyzeCalls() int64 { return m.analyzeCalls.Load() }

// SynthesizeCalls returns the number of Synthesize invocations.
func (m *MockClient) SynthesizeCalls() int64 { return m.synthCalls.Load() }

// GenerateCalls returns the number of GenerateTierContent invocations.
func (m *MockClient) GenerateCalls() int64 { return m.generateCalls.Load() }

// EvaluateCalls returns the number of EvaluateResponse invocations.
func (m *MockClient) EvaluateCalls() int64 { return m.evaluateCalls.Load() }

// MaxConcurrentSeen returns the highest number of simultaneous in-flight
// calls observed, for asserting the gate's concurrency cap.
func (m *MockClient) MaxConcurrentSeen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

func (m *MockClient) track() func() {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}
}
