package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// Optimizer applies the context-reduction techniques, in order, when
// building a context string from the tiers:
//
//  1. Pruning: drop old debug/trace operations and all but the last N
//     validation records.
//  2. Artifact registry: replace large file bodies with their entry.
//  3. External storage: spill oversized items to the episodic tier,
//     keep a pointer.
//  4. Differential state: emit deltas for already-described objects.
//  5. Summarization: collapse a run of older operations into a synopsis
//     (validator-backed, optional).
//
// Target compression ratio: 0.7x or better.
type Optimizer struct {
	PruningAge               time.Duration
	MaxValidationResults     int
	ExternalizationThreshold int // tokens
	SummarizeAfter           int // operations; 0 disables
}

// DefaultOptimizer returns the tuning the profiles assume.
func DefaultOptimizer() Optimizer {
	return Optimizer{
		PruningAge:               10 * time.Minute,
		MaxValidationResults:     3,
		ExternalizationThreshold: 800,
		SummarizeAfter:           30,
	}
}

// BuildResult reports what a context build produced.
type BuildResult struct {
	Context          string
	InputTokens      int
	OutputTokens     int
	CompressionRatio float64
}

// Build assembles the context string for the next validator call. The
// model may be nil, which disables summarization.
func (o Optimizer) Build(ctx context.Context, working *WorkingMemory, session *SessionMemory,
	episodic *EpisodicMemory, model types.ModelPort) (BuildResult, error) {

	ops := working.Operations()
	inputTokens := 0
	for _, op := range ops {
		inputTokens += op.Tokens
	}

	ops = o.prune(ops)
	ops = o.substituteArtifacts(ops, session)
	ops, err := o.spill(ops, episodic)
	if err != nil {
		return BuildResult{}, err
	}
	ops = o.differential(ops)
	ops, err = o.summarize(ctx, ops, model)
	if err != nil {
		return BuildResult{}, err
	}

	working.Replace(ops)

	var b strings.Builder
	for _, s := range session.Summaries() {
		b.WriteString("[summary] ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	for _, op := range ops {
		fmt.Fprintf(&b, "[%s] %s\n", op.Kind, op.Content)
	}

	out := b.String()
	outputTokens := EstimateTokens(out)
	ratio := 1.0
	if inputTokens > 0 {
		ratio = float64(outputTokens) / float64(inputTokens)
	}
	logging.MemoryDebug("Context build: %d -> %d tokens (ratio %.2f)", inputTokens, outputTokens, ratio)

	return BuildResult{
		Context:          out,
		InputTokens:      inputTokens,
		OutputTokens:     outputTokens,
		CompressionRatio: ratio,
	}, nil
}

// prune drops stale debug/trace operations and keeps only the last
// MaxValidationResults validation records.
func (o Optimizer) prune(ops []Operation) []Operation {
	cutoff := time.Now().Add(-o.PruningAge)

	validations := 0
	for _, op := range ops {
		if op.Kind == OpValidation {
			validations++
		}
	}

	var out []Operation
	seen := 0
	for _, op := range ops {
		switch op.Kind {
		case OpDebug, OpTrace:
			if op.Timestamp.Before(cutoff) {
				continue
			}
		case OpValidation:
			seen++
			if validations-seen >= o.MaxValidationResults {
				continue
			}
		}
		out = append(out, op)
	}
	return out
}

// substituteArtifacts replaces file-operation bodies with their registry
// entry when one exists.
func (o Optimizer) substituteArtifacts(ops []Operation, session *SessionMemory) []Operation {
	for i, op := range ops {
		if op.Kind != OpFile || op.Subject == "" {
			continue
		}
		if a, ok := session.Artifact(op.Subject); ok {
			replacement := fmt.Sprintf("file %s (hash %s): %s", a.Path, a.Hash, a.Summary)
			if EstimateTokens(replacement) < op.Tokens {
				ops[i].Content = replacement
				ops[i].Tokens = EstimateTokens(replacement)
			}
		}
	}
	return ops
}

// spill moves oversized operations to the episodic tier, leaving a
// pointer behind.
func (o Optimizer) spill(ops []Operation, episodic *EpisodicMemory) ([]Operation, error) {
	if episodic == nil {
		return ops, nil
	}
	for i, op := range ops {
		if op.Kind == OpPointer || op.Tokens <= o.ExternalizationThreshold {
			continue
		}
		version, err := episodic.Append(op.Subject, op.Content)
		if err != nil {
			return nil, fmt.Errorf("failed to spill operation %d: %w", op.ID, err)
		}
		pointer := fmt.Sprintf("externalized to episodic v%d (%s, %d tokens)", version, op.Subject, op.Tokens)
		ops[i].Kind = OpPointer
		ops[i].Content = pointer
		ops[i].Tokens = EstimateTokens(pointer)
	}
	return ops, nil
}

// differential collapses repeated state descriptions of the same subject
// into deltas: only the newest full description survives, older ones
// shrink to a marker.
func (o Optimizer) differential(ops []Operation) []Operation {
	latest := map[string]int{}
	for i, op := range ops {
		if op.Kind == OpState && op.Subject != "" {
			latest[op.Subject] = i
		}
	}
	for i, op := range ops {
		if op.Kind != OpState || op.Subject == "" || latest[op.Subject] == i {
			continue
		}
		delta := fmt.Sprintf("state of %s superseded (was %d tokens)", op.Subject, op.Tokens)
		ops[i].Content = delta
		ops[i].Tokens = EstimateTokens(delta)
	}
	return ops
}

// summarize collapses the older half of a long run into one synopsis via
// the validator model.
func (o Optimizer) summarize(ctx context.Context, ops []Operation, model types.ModelPort) ([]Operation, error) {
	if model == nil || o.SummarizeAfter <= 0 || len(ops) < o.SummarizeAfter {
		return ops, nil
	}

	half := len(ops) / 2
	var b strings.Builder
	for _, op := range ops[:half] {
		fmt.Fprintf(&b, "[%s] %s\n", op.Kind, op.Content)
	}
	prompt := "Summarize the following operation log in a few sentences, keeping decisions and file names:\n\n" + b.String()

	synopsis, err := model.Generate(ctx, prompt, 512, 0.0)
	if err != nil {
		// Summarization is best-effort; the other techniques already ran.
		logging.Get(logging.CategoryMemory).Warn("Summarization failed: %v", err)
		return ops, nil
	}

	summary := Operation{
		ID:        ops[half-1].ID,
		Kind:      OpSummary,
		Content:   synopsis,
		Tokens:    EstimateTokens(synopsis),
		Timestamp: time.Now(),
	}
	return append([]Operation{summary}, ops[half:]...), nil
}
