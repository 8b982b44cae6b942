package chunker

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens gives a rough token count. Word count covers spaced scripts;
// the rune-based floor covers scripts written without spaces.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	byWords := int(float64(len(strings.Fields(text))) * 1.33)
	byRunes := utf8.RuneCountInString(text) / 4
	tokens := max(byWords, byRunes)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
