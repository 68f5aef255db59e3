package chunker

import "unicode/utf8"

// charsPerToken is the rough character-to-token ratio used for budgeting.
// Good enough for chunk sizing; the analysis providers report exact counts.
const charsPerToken = 4

// EstimateTokens returns an approximate token count for text.
// Pure function: same input always yields the same estimate.
func EstimateTokens(text string) int {
	return runesToTokens(utf8.RuneCountInString(text))
}

func runesToTokens(n int) int {
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
