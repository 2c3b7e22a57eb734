package validation

import (
	"context"

	"overseer/internal/config"
	"overseer/internal/types"
)

// Input is everything one evaluation needs.
type Input struct {
	TaskID          int64
	TaskDescription string
	Response        string
	IterationsLeft  int
	History         []int // prior confidence values, oldest first
	Flags           Flags
}

// Outcome is the full structured result of one pipeline run. Callers
// persist it on the Interaction row; no field may be discarded on the
// way down.
type Outcome struct {
	Record     Record
	Quality    int
	SubScores  SubScores
	Confidence int
	Decision   types.Decision
	Breakpoint *types.Breakpoint // non-nil supersedes Decision
}

// Pipeline runs validator -> quality -> confidence -> decision ->
// breakpoint manager, in strict order.
type Pipeline struct {
	Validator   *Validator
	Quality     *QualityController
	Confidence  *ConfidenceScorer
	Decisions   *DecisionEngine
	Breakpoints *BreakpointManager
}

// NewPipeline wires the stages with shared configuration. model may be
// nil; the heuristic paths then stand alone.
func NewPipeline(cfg config.ValidationConfig, state types.StatePort, model types.ModelPort) *Pipeline {
	return &Pipeline{
		Validator:   &Validator{},
		Quality:     &QualityController{Model: model},
		Confidence:  &ConfidenceScorer{Model: model},
		Decisions:   &DecisionEngine{Cfg: cfg},
		Breakpoints: &BreakpointManager{State: state, Cfg: cfg},
	}
}

// Evaluate runs the stages. An empty or invalid response short-circuits
// quality scoring to zero but still flows through the decision engine so
// every iteration produces a full record.
func (p *Pipeline) Evaluate(ctx context.Context, in Input) (*Outcome, error) {
	out := &Outcome{}

	out.Record = p.Validator.Validate(in.Response)

	if out.Record.Valid {
		out.Quality, out.SubScores = p.Quality.Score(ctx, in.TaskDescription, in.Response)
	}

	out.Confidence = p.Confidence.Score(ctx, out.Record, out.Quality, in.History, in.Response)

	out.Decision = p.Decisions.Decide(out.Record, out.Quality, out.Confidence, in.IterationsLeft)

	bp, err := p.Breakpoints.Evaluate(in.TaskID, out.Record, out.Quality, out.Confidence, in.IterationsLeft, in.Flags)
	if err != nil {
		return nil, err
	}
	out.Breakpoint = bp

	return out, nil
}
