package validation

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// SubScores are the required quality sub-scores. Both feed the composite
// and are persisted with it.
type SubScores struct {
	RequirementsMet int `json:"requirements_met"`
	ErrorFree       int `json:"error_free"`
	Structure       int `json:"structure"`
}

// QualityController assigns an integer quality score 0-100 from
// rubric-based heuristics, blended with a validator-model rubric when a
// ModelPort is available.
type QualityController struct {
	Model types.ModelPort // nil disables the model rubric
}

var scorePattern = regexp.MustCompile(`\b(\d{1,3})\b`)

// Score evaluates the response against the task description.
func (q *QualityController) Score(ctx context.Context, taskDescription, response string) (int, SubScores) {
	sub := SubScores{
		RequirementsMet: requirementsScore(taskDescription, response),
		ErrorFree:       errorFreeScore(response),
		Structure:       structureScore(response),
	}
	heuristic := (sub.RequirementsMet*4 + sub.ErrorFree*4 + sub.Structure*2) / 10

	score := heuristic
	if q.Model != nil {
		if modelScore, ok := q.modelRubric(ctx, taskDescription, response); ok {
			score = (heuristic + modelScore) / 2
		}
	}

	logging.Validation("Quality %d (req=%d err=%d structure=%d)",
		score, sub.RequirementsMet, sub.ErrorFree, sub.Structure)
	return clampScore(score), sub
}

// requirementsScore measures how much of the task vocabulary the
// response covers.
func requirementsScore(taskDescription, response string) int {
	words := significantWords(taskDescription)
	if len(words) == 0 {
		return 70
	}
	lower := strings.ToLower(response)
	hit := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hit++
		}
	}
	return clampScore(30 + 70*hit/len(words))
}

// errorFreeScore penalizes self-reported failure markers.
func errorFreeScore(response string) int {
	lower := strings.ToLower(response)
	score := 90
	for _, marker := range []string{"error:", "failed to", "cannot ", "unable to", "panic:", "traceback"} {
		score -= 20 * strings.Count(lower, marker)
	}
	return clampScore(score)
}

// structureScore rewards code blocks and organized output.
func structureScore(response string) int {
	score := 50
	if strings.Contains(response, "```") {
		score += 25
	}
	if strings.Contains(response, "\n- ") || strings.Contains(response, "\n1. ") {
		score += 10
	}
	if len(response) > 200 {
		score += 15
	}
	return clampScore(score)
}

// modelRubric asks the validator model for a 0-100 score.
func (q *QualityController) modelRubric(ctx context.Context, taskDescription, response string) (int, bool) {
	prompt := fmt.Sprintf(
		"Rate the following response to a coding task on a 0-100 scale for correctness and completeness. Reply with only the number.\n\nTask: %s\n\nResponse:\n%s",
		taskDescription, response)
	out, err := q.Model.Generate(ctx, prompt, 8, 0.0)
	if err != nil {
		logging.Get(logging.CategoryValidation).Warn("Model rubric failed: %v", err)
		return 0, false
	}
	m := scorePattern.FindString(out)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n > 100 {
		return 0, false
	}
	return n, true
}

// significantWords extracts the task words worth checking coverage for.
func significantWords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:()\"'")
		if len(w) >= 5 {
			out = append(out, w)
		}
	}
	return out
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
