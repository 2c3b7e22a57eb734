// Package budget computes the adaptive per-task turn budget from task
// complexity signals before the agent is called.
package budget

import (
	"fmt"
	"strings"

	"overseer/internal/config"
	"overseer/internal/logging"
)

// Per-type defaults, used when the task declares a recognized type.
var typeDefaults = map[string]int{
	"validation":      5,
	"planning":        5,
	"documentation":   3,
	"error_analysis":  8,
	"testing":         8,
	"code_generation": 12,
	"refactoring":     15,
	"debugging":       20,
}

// complexityWords signal inherent difficulty in the task text.
var complexityWords = []string{
	"migrate", "refactor", "implement", "debug", "comprehensive", "entire",
	"all", "complete", "full", "across", "multiple", "system",
	"architecture", "framework",
}

// scopeIndicators signal breadth of the change.
var scopeIndicators = []string{
	"all files", "entire codebase", "multiple", "across", "throughout",
	"repository", "project-wide", "every",
}

// Signals are the per-task inputs to the budgeter.
type Signals struct {
	TaskType       string // optional override; recognized types win
	Text           string // title + description
	EstimatedFiles int
	EstimatedLOC   int
}

// Budgeter picks a turn budget proportional to task complexity.
type Budgeter struct {
	cfg config.MaxTurnsConfig
}

// New creates a budgeter bounded by the configured turn limits.
func New(cfg config.MaxTurnsConfig) *Budgeter {
	return &Budgeter{cfg: cfg}
}

// Calculate returns the turn budget and the rationale behind it. The
// rationale is logged next to the value for auditability.
func (b *Budgeter) Calculate(sig Signals) (int, string) {
	turns, rationale := b.pick(sig)
	clamped := clamp(turns, b.cfg.Min, b.cfg.Max)
	if clamped != turns {
		rationale = fmt.Sprintf("%s, clamped %d -> [%d, %d]", rationale, turns, b.cfg.Min, b.cfg.Max)
	}
	logging.Budget("Turn budget %d (%s)", clamped, rationale)
	return clamped, rationale
}

func (b *Budgeter) pick(sig Signals) (int, string) {
	if sig.TaskType != "" {
		if turns, ok := typeDefaults[strings.ToLower(sig.TaskType)]; ok {
			return turns, fmt.Sprintf("task type %q default", sig.TaskType)
		}
	}

	text := strings.ToLower(sig.Text)
	complexity := countMatches(text, complexityWords)
	scope := countMatches(text, scopeIndicators)

	switch {
	case sig.EstimatedLOC > 500 || scope >= 2:
		return 20, fmt.Sprintf("very complex (loc=%d scope=%d)", sig.EstimatedLOC, scope)
	case complexity == 0 && scope == 0 && sig.EstimatedFiles <= 1:
		return 3, "simple (no complexity signals, single file)"
	case complexity <= 1 && scope == 0 && sig.EstimatedFiles <= 3:
		return 6, fmt.Sprintf("medium (complexity=%d files=%d)", complexity, sig.EstimatedFiles)
	case complexity <= 2 && scope == 1 && sig.EstimatedFiles <= 8:
		return 12, fmt.Sprintf("complex (complexity=%d scope=%d files=%d)", complexity, scope, sig.EstimatedFiles)
	default:
		return b.cfg.Default, fmt.Sprintf("configured default (complexity=%d scope=%d files=%d)",
			complexity, scope, sig.EstimatedFiles)
	}
}

func countMatches(text string, vocabulary []string) int {
	n := 0
	for _, word := range vocabulary {
		if strings.Contains(text, word) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
