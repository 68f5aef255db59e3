// Package chunker splits a book's chapters into token-bounded content units.
//
// Chapters are kept whole whenever they fit the token budget. Oversized
// chapters are split at paragraph boundaries, falling back to sentence and
// then word boundaries, never mid-word. The output is deterministic so a
// resubmitted book always produces an identical unit sequence.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrNoText indicates the book had no extractable text.
var ErrNoText = errors.New("chunker: book has no extractable text")

// Chapter is one chapter of source text, as produced by text extraction.
type Chapter struct {
	Ref   string // stable reference from the extractor (e.g. "ch-3")
	Title string
	Text  string
}

// Book is the chunker input: extracted text with chapter boundaries.
type Book struct {
	ID       string
	Title    string
	Author   string
	Chapters []Chapter
}

// ContentUnit is an immutable chunk of source text sized for analysis.
type ContentUnit struct {
	BookID          string
	SequenceIndex   int // unique per book, total order
	ChapterRef      string
	ChapterTitle    string
	Text            string
	TokenCount      int
	PositionPercent float64 // 0-100, monotonic with SequenceIndex
	Partial         bool    // true when an oversized chapter was split
}

// Chunk splits book into an ordered sequence of content units, each within
// maxTokensPerChunk except where a single indivisible word exceeds it.
func Chunk(book Book, maxTokensPerChunk int) ([]ContentUnit, error) {
	if maxTokensPerChunk <= 0 {
		return nil, fmt.Errorf("chunker: max tokens per chunk must be positive, got %d", maxTokensPerChunk)
	}

	total := 0
	for _, ch := range book.Chapters {
		total += EstimateTokens(strings.TrimSpace(ch.Text))
	}
	if total == 0 {
		return nil, ErrNoText
	}

	units := make([]ContentUnit, 0, len(book.Chapters))
	seq := 0
	cumulative := 0

	for _, ch := range book.Chapters {
		text := strings.TrimSpace(ch.Text)
		tokens := EstimateTokens(text)
		if tokens == 0 {
			continue
		}

		var pieces []string
		partial := false
		if tokens <= maxTokensPerChunk {
			pieces = []string{text}
		} else {
			pieces = splitText(text, maxTokensPerChunk)
			partial = true
		}

		for _, piece := range pieces {
			pieceTokens := EstimateTokens(piece)
			cumulative += pieceTokens
			units = append(units, ContentUnit{
				BookID:          book.ID,
				SequenceIndex:   seq,
				ChapterRef:      ch.Ref,
				ChapterTitle:    ch.Title,
				Text:            piece,
				TokenCount:      pieceTokens,
				PositionPercent: 100 * float64(cumulative) / float64(total),
				Partial:         partial,
			})
			seq++
		}
	}

	if len(units) == 0 {
		return nil, ErrNoText
	}
	return units, nil
}

// splitText breaks text into pieces of at most budget tokens, preferring
// paragraph boundaries, then sentences, then words. Rune counts are tracked
// exactly so the joined piece never exceeds the token budget.
func splitText(text string, budget int) []string {
	var pieces []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
			currentRunes = 0
		}
	}

	for _, block := range splitBlocks(text, budget) {
		blockRunes := utf8.RuneCountInString(block)
		joined := currentRunes + blockRunes
		if currentRunes > 0 {
			joined += 2 // "\n\n" joiner
		}
		if runesToTokens(joined) > budget {
			flush()
			joined = blockRunes
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(block)
		currentRunes = joined
	}
	flush()

	return pieces
}

// splitBlocks yields paragraph-sized blocks, breaking oversized paragraphs
// down to sentences and oversized sentences down to word runs.
func splitBlocks(text string, budget int) []string {
	var blocks []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if EstimateTokens(para) <= budget {
			blocks = append(blocks, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if EstimateTokens(sent) <= budget {
				blocks = append(blocks, sent)
				continue
			}
			blocks = append(blocks, splitWords(sent, budget)...)
		}
	}
	return blocks
}

// splitSentences splits at sentence terminators followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			// Consume trailing terminators (e.g. "?!", "...").
			for i+1 < len(runes) && isTerminator(runes[i+1]) {
				i++
			}
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// splitWords packs whitespace-separated words into budget-sized runs.
func splitWords(text string, budget int) []string {
	words := strings.Fields(text)
	var runs []string
	var current strings.Builder
	currentRunes := 0

	for _, w := range words {
		wRunes := utf8.RuneCountInString(w)
		joined := currentRunes + wRunes
		if currentRunes > 0 {
			joined++ // space joiner
		}
		if runesToTokens(joined) > budget && current.Len() > 0 {
			runs = append(runs, current.String())
			current.Reset()
			joined = wRunes
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
		currentRunes = joined
	}
	if current.Len() > 0 {
		runs = append(runs, current.String())
	}
	return runs
}
