package memory

import (
	"unicode/utf8"
)

// Token estimation uses the ~4 characters per token approximation with a
// 10% safety margin. Calibrated against the implementer's tokenizer;
// close enough for zone decisions, which have generous thresholds.

const (
	charsPerToken = 4.0
	safetyMargin  = 1.10
)

// EstimateTokens estimates the token count of a string.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	return int(float64(runes) / charsPerToken * safetyMargin)
}
