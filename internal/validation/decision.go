package validation

import (
	"overseer/internal/config"
	"overseer/internal/logging"
	"overseer/internal/types"
)

// DecisionEngine selects the next action from the stage outputs. The
// rule table is deterministic; ties break in listed order.
type DecisionEngine struct {
	Cfg config.ValidationConfig
}

// Decide applies the rule table. iterationsLeft counts the retries still
// available after the current iteration.
func (d *DecisionEngine) Decide(rec Record, quality, confidence, iterationsLeft int) types.Decision {
	decision := d.decide(rec, quality, confidence, iterationsLeft)
	logging.Validation("Decision %s (valid=%v quality=%d confidence=%d left=%d)",
		decision, rec.Valid, quality, confidence, iterationsLeft)
	return decision
}

func (d *DecisionEngine) decide(rec Record, quality, confidence, iterationsLeft int) types.Decision {
	if !rec.Valid {
		if iterationsLeft > 0 {
			return types.DecisionRetry
		}
		return types.DecisionEscalate
	}
	if quality < d.Cfg.QualityFloor {
		if iterationsLeft > 0 {
			return types.DecisionRetry
		}
		return types.DecisionEscalate
	}
	if confidence < d.Cfg.ConfidenceFloor {
		return types.DecisionClarify
	}
	if quality >= d.Cfg.QualityTarget && confidence >= d.Cfg.ConfidenceTarget {
		return types.DecisionProceed
	}
	if iterationsLeft > 0 {
		return types.DecisionRetry
	}
	return types.DecisionEscalate
}
