package validation

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"overseer/internal/config"
	"overseer/internal/store"
	"overseer/internal/types"
)

const goodResponse = `Implemented the tokenizer in the parser package.

- Added the token kinds and the scanner loop
- Wired the tokenizer into the existing grammar tables

` + "```go" + `
func (s *Scanner) Next() Token {
	s.skipSpace()
	return s.scanToken()
}
` + "```" + `

All unit checks pass locally.`

func TestValidatorStructuralChecks(t *testing.T) {
	v := &Validator{}

	rec := v.Validate("")
	if rec.Valid || rec.Complete {
		t.Error("Empty response must be invalid and incomplete")
	}

	rec = v.Validate("Here is the code:\n```go\nfunc main() {}")
	if rec.Valid {
		t.Error("Unbalanced code fences must invalidate the response")
	}

	rec = v.Validate("I changed the config and then...")
	if !rec.Valid || rec.Complete {
		t.Errorf("Truncated response must be valid but incomplete: %+v", rec)
	}

	rec = v.Validate(goodResponse)
	if !rec.Valid || !rec.Complete {
		t.Errorf("Expected valid+complete, got %+v", rec)
	}
}

func TestValidatorExpectedSections(t *testing.T) {
	v := &Validator{ExpectedSections: []string{"Summary", "Changes"}}

	rec := v.Validate("## Summary\nDone.\n## Changes\nOne file.")
	if !rec.Complete {
		t.Errorf("All sections present, expected complete: %+v", rec)
	}

	rec = v.Validate("## Summary\nDone.")
	if rec.Complete {
		t.Error("Missing section must mark the response incomplete")
	}
	if len(rec.Notes) == 0 || !strings.Contains(rec.Notes[0], "Changes") {
		t.Errorf("Note must name the missing section: %v", rec.Notes)
	}
}

func TestQualitySubScores(t *testing.T) {
	q := &QualityController{}

	score, sub := q.Score(context.Background(),
		"Implement the tokenizer for the parser package", goodResponse)
	if sub.RequirementsMet != 100 {
		t.Errorf("Full vocabulary coverage: expected 100, got %d", sub.RequirementsMet)
	}
	if sub.ErrorFree != 90 {
		t.Errorf("No failure markers: expected 90, got %d", sub.ErrorFree)
	}
	if sub.Structure != 100 {
		t.Errorf("Fenced, listed, long response: expected 100, got %d", sub.Structure)
	}
	if score != 96 {
		t.Errorf("Composite: expected 96, got %d", score)
	}

	_, sub = q.Score(context.Background(), "Implement the tokenizer",
		"error: build failed to complete. cannot continue.")
	if sub.ErrorFree != 30 {
		t.Errorf("Three failure markers: expected 30, got %d", sub.ErrorFree)
	}
}

func TestQualityModelRubricBlended(t *testing.T) {
	q := &QualityController{Model: &scriptedModel{reply: "60"}}

	score, _ := q.Score(context.Background(),
		"Implement the tokenizer for the parser package", goodResponse)
	if score != (96+60)/2 {
		t.Errorf("Expected heuristic/model average %d, got %d", (96+60)/2, score)
	}
}

func TestConfidenceWeights(t *testing.T) {
	c := &ConfidenceScorer{}
	ctx := context.Background()

	// verdict 100, quality 80, neutral history 50:
	// (100*25 + 80*35 + 50*20) / 80 = 78.
	got := c.Score(ctx, Record{Valid: true, Complete: true}, 80, nil, "x")
	if got != 78 {
		t.Errorf("Expected 78, got %d", got)
	}

	// Invalid verdict scores zero.
	got = c.Score(ctx, Record{}, 0, nil, "x")
	if got != 12 {
		t.Errorf("Expected 12 for invalid response, got %d", got)
	}

	// History pulls the score toward the prior iterations.
	got = c.Score(ctx, Record{Valid: true, Complete: true}, 80, []int{90, 90}, "x")
	if got != 88 {
		t.Errorf("Expected 88 with strong history, got %d", got)
	}
}

func TestConfidenceSelfEstimate(t *testing.T) {
	c := &ConfidenceScorer{Model: &scriptedModel{reply: "Confidence: 90"}}

	// (100*25 + 80*35 + 50*20 + 90*20) / 100 = 81.
	got := c.Score(context.Background(), Record{Valid: true, Complete: true}, 80, nil, "x")
	if got != 81 {
		t.Errorf("Expected 81 with self-estimate, got %d", got)
	}

	// A model failure falls back to the three-component score.
	c = &ConfidenceScorer{Model: &scriptedModel{fail: true}}
	got = c.Score(context.Background(), Record{Valid: true, Complete: true}, 80, nil, "x")
	if got != 78 {
		t.Errorf("Expected fallback 78, got %d", got)
	}
}

func TestDecisionRuleTable(t *testing.T) {
	d := &DecisionEngine{Cfg: config.Default().Validation}

	cases := []struct {
		name       string
		rec        Record
		quality    int
		confidence int
		left       int
		want       types.Decision
	}{
		{"invalid retries", Record{}, 0, 50, 2, types.DecisionRetry},
		{"invalid exhausted escalates", Record{}, 0, 50, 0, types.DecisionEscalate},
		{"quality below floor retries", Record{Valid: true}, 40, 60, 2, types.DecisionRetry},
		{"quality below floor exhausted", Record{Valid: true}, 40, 60, 0, types.DecisionEscalate},
		{"low confidence clarifies", Record{Valid: true}, 60, 20, 2, types.DecisionClarify},
		{"targets met proceeds", Record{Valid: true}, 75, 60, 2, types.DecisionProceed},
		{"middle ground retries", Record{Valid: true}, 60, 40, 2, types.DecisionRetry},
		{"middle ground exhausted", Record{Valid: true}, 60, 40, 0, types.DecisionEscalate},
	}
	for _, tc := range cases {
		if got := d.Decide(tc.rec, tc.quality, tc.confidence, tc.left); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestBreakpointRulePrecedence(t *testing.T) {
	st := newTestStore(t)
	b := &BreakpointManager{State: st, Cfg: config.Default().Validation}
	valid := Record{Valid: true, Complete: true}

	cases := []struct {
		name       string
		rec        Record
		quality    int
		confidence int
		left       int
		flags      Flags
		reason     types.BreakpointReason
	}{
		{"operator request wins", Record{}, 0, 0, 0, Flags{OperatorRequested: true, DestructivePlanned: true}, types.ReasonExplicitRequest},
		{"destructive op", valid, 80, 80, 2, Flags{DestructivePlanned: true}, types.ReasonDestructiveOp},
		{"validation failure exhausted", Record{}, 0, 80, 0, Flags{}, types.ReasonValidationFailed},
		{"low confidence", valid, 80, 10, 2, Flags{}, types.ReasonLowConfidence},
		{"quality below half floor", valid, 20, 80, 2, Flags{}, types.ReasonQualityBelowFloor},
	}
	for _, tc := range cases {
		bp, err := b.Evaluate(1, tc.rec, tc.quality, tc.confidence, tc.left, tc.flags)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if bp == nil || bp.Reason != tc.reason {
			t.Errorf("%s: expected %s, got %+v", tc.name, tc.reason, bp)
		}
	}

	bp, err := b.Evaluate(1, valid, 80, 80, 2, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if bp != nil {
		t.Errorf("Healthy iteration must not trigger a breakpoint: %+v", bp)
	}

	// An invalid response with retries left belongs to the decision
	// engine; the zeroed quality and confidence must not trip the
	// valid-response rules either.
	bp, err = b.Evaluate(1, Record{}, 0, 12, 2, Flags{})
	if err != nil {
		t.Fatal(err)
	}
	if bp != nil {
		t.Errorf("Invalid response with retries left must not pause: %+v", bp)
	}
}

func TestPipelineProceed(t *testing.T) {
	p := NewPipeline(config.Default().Validation, newTestStore(t), nil)

	out, err := p.Evaluate(context.Background(), Input{
		TaskID:          1,
		TaskDescription: "Implement the tokenizer for the parser package",
		Response:        goodResponse,
		IterationsLeft:  3,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !out.Record.Valid || out.Quality != 96 || out.Decision != types.DecisionProceed {
		t.Errorf("Expected a clean proceed, got %+v", out)
	}
	if out.Breakpoint != nil {
		t.Errorf("Unexpected breakpoint: %+v", out.Breakpoint)
	}
}

func TestPipelineInvalidResponseRetries(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(config.Default().Validation, st, nil)

	out, err := p.Evaluate(context.Background(), Input{
		TaskID:          7,
		TaskDescription: "Implement the tokenizer",
		Response:        "",
		IterationsLeft:  2,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.Record.Valid || out.Quality != 0 {
		t.Errorf("Empty response must zero out quality: %+v", out)
	}
	if out.Decision != types.DecisionRetry {
		t.Errorf("Expected RETRY with iterations left, got %s", out.Decision)
	}
	// RETRY must actually drive the loop: no breakpoint may supersede it
	// while iterations remain.
	if out.Breakpoint != nil {
		t.Fatalf("First invalid response must not pause the task: %+v", out.Breakpoint)
	}
	if stored, err := st.UnresolvedBreakpoint(7); err != nil || stored != nil {
		t.Errorf("No breakpoint may be persisted: %+v %v", stored, err)
	}
}

func TestPipelineInvalidOnLastIterationBreaks(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(config.Default().Validation, st, nil)

	out, err := p.Evaluate(context.Background(), Input{
		TaskID:          7,
		TaskDescription: "Implement the tokenizer",
		Response:        "",
		IterationsLeft:  0,
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out.Breakpoint == nil || out.Breakpoint.Reason != types.ReasonValidationFailed {
		t.Fatalf("Expected a VALIDATION_FAILED breakpoint with no retries left, got %+v", out.Breakpoint)
	}

	stored, err := st.UnresolvedBreakpoint(7)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.ID != out.Breakpoint.ID {
		t.Errorf("Breakpoint not persisted: %+v", stored)
	}
}

// scriptedModel returns a fixed reply, or an error when fail is set.
type scriptedModel struct {
	reply string
	fail  bool
}

func (m *scriptedModel) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if m.fail {
		return "", context.DeadlineExceeded
	}
	return m.reply, nil
}

func (m *scriptedModel) ContextWindow() int { return 32_000 }

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
