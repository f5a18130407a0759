package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcdefghij"))
	assert.Equal(t, 1, EstimateTokens("éééé"))
}

func TestTruncateForContextUnderBudget(t *testing.T) {
	text := strings.Repeat("a", 400)
	assert.Equal(t, text, TruncateForContext(text, 100))
	assert.Equal(t, text, TruncateForContext(text, 1000))
}

func TestTruncateForContextOverBudget(t *testing.T) {
	for _, budget := range []int{4, 10, 100, 999} {
		text := strings.Repeat("word ", 1000)
		out := TruncateForContext(text, budget)

		assert.True(t, strings.HasSuffix(out, TruncationMarker), "budget %d", budget)
		assert.Less(t, EstimateTokens(out), EstimateTokens(text), "budget %d", budget)
		assert.LessOrEqual(t, EstimateTokens(out), budget, "budget %d", budget)
	}
}

func TestTruncateForContextTinyBudget(t *testing.T) {
	long := strings.Repeat("x", 100)
	for _, budget := range []int{0, 1, 2, 3} {
		out := TruncateForContext(long, budget)
		assert.Equal(t, TruncationMarker, out, "budget %d", budget)
		assert.Less(t, EstimateTokens(out), EstimateTokens(long), "budget %d", budget)
	}

	// the marker would not shorten an eight-rune input
	assert.Equal(t, "", TruncateForContext("abcdefgh", 0))
	assert.Equal(t, "abcd", TruncateForContext("abcdefgh", 1))
}

func TestTruncateChars(t *testing.T) {
	assert.Equal(t, "héllo", TruncateChars("héllo wörld", 5))
	assert.Equal(t, "short", TruncateChars("short", 10))
}
