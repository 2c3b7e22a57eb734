package validation

import (
	"context"
	"strconv"
	"strings"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// ConfidenceScorer produces an integer confidence 0-100 as a weighted
// combination of the validator verdict, the quality score, prior task
// history, and (when available) the validator model's self-estimate.
type ConfidenceScorer struct {
	Model types.ModelPort // nil disables the self-estimate component
}

// Weights of the components. The self-estimate weight is redistributed
// when no model is available.
const (
	weightVerdict  = 25
	weightQuality  = 35
	weightHistory  = 20
	weightEstimate = 20
)

// Score combines the signals. history carries the confidence values of
// prior iterations for this task, oldest first; empty history scores a
// neutral 50.
func (c *ConfidenceScorer) Score(ctx context.Context, rec Record, quality int, history []int, response string) int {
	verdict := 0
	if rec.Valid {
		verdict = 70
		if rec.Complete {
			verdict = 100
		}
	}

	hist := 50
	if len(history) > 0 {
		sum := 0
		for _, h := range history {
			sum += h
		}
		hist = sum / len(history)
	}

	weighted := verdict*weightVerdict + quality*weightQuality + hist*weightHistory
	total := weightVerdict + weightQuality + weightHistory

	if c.Model != nil {
		if est, ok := c.selfEstimate(ctx, response); ok {
			weighted += est * weightEstimate
			total += weightEstimate
		}
	}

	confidence := clampScore(weighted / total)
	logging.Validation("Confidence %d (verdict=%d quality=%d history=%d)", confidence, verdict, quality, hist)
	return confidence
}

// selfEstimate asks the model how confident it is in the response.
func (c *ConfidenceScorer) selfEstimate(ctx context.Context, response string) (int, bool) {
	prompt := "On a 0-100 scale, how confident are you that the following response fully and correctly completes its task? Reply with only the number.\n\n" + response
	out, err := c.Model.Generate(ctx, prompt, 8, 0.0)
	if err != nil {
		logging.Get(logging.CategoryValidation).Warn("Self-estimate failed: %v", err)
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(scorePattern.FindString(out)))
	if err != nil || n > 100 {
		return 0, false
	}
	return n, true
}
