package llm

import "unicode/utf8"

// CharsPerToken is the fixed ratio used to estimate token counts.
// It is an approximation, not a tokenizer: real counts depend on the model's
// vocabulary and on the language of the text.
const CharsPerToken = 4

// TruncationMarker is appended to text cut by TruncateForContext.
const TruncationMarker = "... [truncated]"

// EstimateTokens approximates the token count of text as runes / CharsPerToken.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / CharsPerToken
}

// TruncateForContext returns text unchanged when its estimated token count fits
// maxTokens. Otherwise it keeps a rune prefix and appends TruncationMarker so
// that the result, marker included, stays within maxTokens*CharsPerToken runes.
// When the budget is smaller than the marker, the marker alone is returned as
// long as that still shortens the estimate.
func TruncateForContext(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}

	budget := maxTokens * CharsPerToken
	if budget < 0 {
		budget = 0
	}
	markerLen := utf8.RuneCountInString(TruncationMarker)

	runes := []rune(text)
	if budget <= markerLen {
		if EstimateTokens(text) > EstimateTokens(TruncationMarker) {
			return TruncationMarker
		}
		return string(runes[:budget])
	}
	return string(runes[:budget-markerLen]) + TruncationMarker
}

// TruncateChars cuts text to at most n runes without a marker.
func TruncateChars(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
