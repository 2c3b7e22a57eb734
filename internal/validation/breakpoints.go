package validation

import (
	"overseer/internal/config"
	"overseer/internal/logging"
	"overseer/internal/types"
)

// BreakpointManager runs after the decision engine and persists a
// breakpoint when any configured rule matches. A triggered breakpoint
// supersedes the decision: the task pauses until it is resolved.
type BreakpointManager struct {
	State types.StatePort
	Cfg   config.ValidationConfig
}

// Flags carry per-iteration signals the stages themselves cannot see.
type Flags struct {
	DestructivePlanned bool // the response plans a destructive operation
	OperatorRequested  bool // an operator asked for a pause
}

// Evaluate checks the rules in order and records the first match. It
// returns the created breakpoint, or nil when the task may continue.
// iterationsLeft gates the validation-failure rule: while retries
// remain, an invalid response is the decision engine's problem, not a
// pause.
func (b *BreakpointManager) Evaluate(taskID int64, rec Record, quality, confidence, iterationsLeft int, flags Flags) (*types.Breakpoint, error) {
	reason, hit := b.match(rec, quality, confidence, iterationsLeft, flags)
	if !hit {
		return nil, nil
	}

	bp := &types.Breakpoint{TaskID: taskID, Reason: reason}
	if _, err := b.State.CreateBreakpoint(bp); err != nil {
		return nil, err
	}
	logging.Validation("Breakpoint %d triggered on task %d: %s", bp.ID, taskID, reason)
	return bp, nil
}

func (b *BreakpointManager) match(rec Record, quality, confidence, iterationsLeft int, flags Flags) (types.BreakpointReason, bool) {
	switch {
	case flags.OperatorRequested:
		return types.ReasonExplicitRequest, true
	case flags.DestructivePlanned:
		return types.ReasonDestructiveOp, true
	case !rec.Valid && iterationsLeft <= 0:
		return types.ReasonValidationFailed, true
	case rec.Valid && confidence < b.Cfg.BreakpointConfidenceThreshold:
		return types.ReasonLowConfidence, true
	case rec.Valid && quality < b.Cfg.QualityFloor/2:
		return types.ReasonQualityBelowFloor, true
	}
	return "", false
}
