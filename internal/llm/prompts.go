package llm

import (
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You are a careful book analyst. Always answer with a single JSON object and nothing else.`

const generationSystemPrompt = `You write concise, memorable learning content that helps readers retain books long-term.`

const evaluationSystemPrompt = `You grade how well a learner's explanation captures a concept. Answer with a single decimal number between 0.0 and 1.0 and nothing else.`

// chapterAnalysisPrompt builds the per-chunk analysis request.
func chapterAnalysisPrompt(req ChapterRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<book>\nTitle: %s\n</book>\n\n", orUnknown(req.BookTitle))
	fmt.Fprintf(&b, "<chapter ref=%q>\nTitle: %s\n\n%s\n</chapter>\n\n", req.ChapterRef, orUnknown(req.ChapterTitle), req.Text)
	b.WriteString(`Analyze this chapter. Respond with a JSON object:
{
  "summary": "3-5 sentence summary",
  "key_concepts": ["the key concepts and ideas presented"],
  "themes": ["main themes explored"],
  "important_quotes": ["notable quotes or passages"]
}
Focus on the elements a reader should remember.`)
	return b.String()
}

// synthesisPrompt builds the book-wide synthesis request.
func synthesisPrompt(req SynthesisRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<book>\nTitle: %s\nAuthor: %s\n</book>\n\n<chapter_analyses>\n", orUnknown(req.BookTitle), orUnknown(req.Author))
	for i, ch := range req.Chapters {
		fmt.Fprintf(&b, "Chapter %d summary: %s\nKey concepts: %s\n\n", i+1, ch.Summary, strings.Join(ch.KeyConcepts, ", "))
	}
	b.WriteString(`</chapter_analyses>

Based on the chapter analyses above, respond with a JSON object:
{
  "summary": "1-2 paragraph book summary",
  "key_themes": ["themes explored throughout the book"],
  "concept_hierarchy": ["core concepts ordered from foundational to advanced"],
  "cross_chapter_themes": ["ideas that develop across multiple chapters"]
}
Capture the essence of the entire book, not a chapter-by-chapter recap.`)
	return b.String()
}

// tierPromptStyles maps each spaced-repetition tier to its content style.
// Mirrors the recap/connect/apply/master progression.
var tierPromptStyles = map[string]string{
	"day1":  "Write a core-concept recap: remind the reader of the most important ideas in plain language.",
	"day3":  "Write concept connections: show how the book's key ideas relate to each other and to things the reader already knows.",
	"day7":  "Write application prompts: concrete situations where the reader can apply the book's ideas this week.",
	"day30": "Write a comprehensive review: a deep recap tying together all major themes, suitable for long-term retention.",
}

// tierContentPrompt builds the generation request for one tier.
func tierContentPrompt(req TierContentRequest) (string, error) {
	style, ok := tierPromptStyles[req.Tier]
	if !ok {
		return "", fmt.Errorf("unknown tier %q", req.Tier)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Book: %s\n\nSynthesis:\n%s\n\nKey themes: %s\nConcept hierarchy: %s\n\n",
		orUnknown(req.BookTitle),
		req.Synthesis.Summary,
		strings.Join(req.Synthesis.KeyThemes, ", "),
		strings.Join(req.Synthesis.ConceptHierarchy, " > "),
	)
	b.WriteString(style)
	b.WriteString(" Keep it under 300 words and end with one question that checks the reader's recall.")
	return b.String(), nil
}

// evaluationPrompt builds the response-grading request.
func evaluationPrompt(req EvaluationRequest) string {
	return fmt.Sprintf(`Expected concept:
%s

Learner's explanation:
%s

How well does the explanation capture the expected concept? Consider accuracy and completeness. Respond with only a decimal number between 0.0 (no understanding) and 1.0 (complete understanding).`,
		req.ExpectedConcept, req.ResponseText)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
