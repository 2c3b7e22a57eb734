package nl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"overseer/internal/config"
	"overseer/internal/logging"
	"overseer/internal/types"
)

// Pipeline runs the six stages over a user sentence and manages the
// per-conversation confirmation state. One Pipeline per conversation.
type Pipeline struct {
	mu      sync.Mutex
	cfg     config.NLConfig
	state   types.StatePort
	model   types.ModelPort // optional fallback classifier
	pending *PendingConfirmation
	now     func() time.Time
}

// NewPipeline creates a pipeline. model may be nil; the keyword stages
// then stand alone.
func NewPipeline(cfg config.NLConfig, state types.StatePort, model types.ModelPort) *Pipeline {
	return &Pipeline{cfg: cfg, state: state, model: model, now: time.Now}
}

// Process turns one user input into an Outcome. The confirmation state
// machine runs first: if a confirmation is pending, yes/no words resolve
// it and anything else clears it implicitly.
func (p *Pipeline) Process(ctx context.Context, projectID int64, input string) (*Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timer := logging.StartTimer(logging.CategoryNL, "process")
	defer timer.Stop()

	intent, intentConf := classifyIntent(input)
	logging.NL("Intent %s (%.2f) for %q", intent, intentConf, truncate(input, 80))

	if p.pending != nil {
		return p.resolvePending(intent, projectID, input)
	}

	switch intent {
	case IntentConfirmation:
		return &Outcome{
			Intent:       intent,
			ResponseText: "Nothing is awaiting confirmation.",
			Confidence:   intentConf,
		}, nil
	case IntentCancellation:
		return &Outcome{
			Intent:       intent,
			ResponseText: "Nothing to cancel.",
			Confidence:   intentConf,
		}, nil
	case IntentHelp:
		return &Outcome{
			Intent:       intent,
			ResponseText: helpText(),
			Confidence:   intentConf,
		}, nil
	case IntentConversation:
		return &Outcome{
			Intent:       intent,
			ResponseText: "I did not recognize a command. Try 'help' for examples.",
			Confidence:   intentConf,
			ErrKind:      "user",
		}, nil
	}

	return p.parseCommand(ctx, projectID, input, intent, intentConf)
}

// parseCommand runs stages 2-6 and applies the confidence threshold and
// confirmation rules.
func (p *Pipeline) parseCommand(ctx context.Context, projectID int64, input string, intent Intent, intentConf float64) (*Outcome, error) {
	stages := []StageResult{{Stage: "intent_classifier", Confidence: intentConf}}

	op, opConf := classifyOperation(input)
	if opConf == 0 {
		if label, ok := modelFallback(ctx, p.model, "Classify this request as one of CREATE, READ, UPDATE, DELETE, QUERY.", input); ok {
			switch Operation(label) {
			case OpCreate, OpRead, OpUpdate, OpDelete, OpQuery:
				op, opConf = Operation(label), 0.6
			}
		}
	}
	if opConf == 0 {
		return p.clarify(intent, stages, "operation_classifier"), nil
	}
	stages = append(stages, StageResult{Stage: "operation_classifier", Confidence: opConf})

	entities, entConf := classifyEntities(input)
	if entConf == 0 {
		return p.clarify(intent, stages, "entity_classifier"), nil
	}
	stages = append(stages, StageResult{Stage: "entity_classifier", Confidence: entConf})

	ident, identConf := extractIdentifier(input)
	stages = append(stages, StageResult{Stage: "identifier_extractor", Confidence: identConf})

	params, paramConf, err := extractParams(input)
	if err != nil {
		return validationOutcome(intent, err), nil
	}
	stages = append(stages, StageResult{Stage: "parameter_extractor", Confidence: paramConf})

	oc := &OperationContext{
		Operation:  op,
		Entities:   entities,
		Identifier: ident,
		Params:     params,
		Scope:      "current_project",
		Bulk:       ident.Kind == IdentAll,
		ProjectID:  projectID,
	}

	valConf, warnings, err := validateOperation(oc)
	if err != nil {
		return validationOutcome(intent, err), nil
	}
	stages = append(stages, StageResult{Stage: "validator", Confidence: valConf})

	confidence, lowest := minStage(stages)
	if confidence < p.cfg.ConfidenceThreshold {
		return p.clarify(intent, stages, lowest), nil
	}

	// Destructive operations confirm before they run. Bulk deletes may
	// opt out of the prompt via configuration.
	if oc.Destructive() {
		if oc.Bulk && !p.cfg.BulkRequireConfirmation {
			oc.Confirmed = true
			logging.NL("Bulk confirmation disabled; executing directly")
			return &Outcome{
				Intent:       intent,
				Op:           oc,
				ResponseText: responseFor(oc, warnings),
				Confidence:   confidence,
			}, nil
		}
		return p.requestConfirmation(oc, projectID, confidence, warnings)
	}

	return &Outcome{
		Intent:       intent,
		Op:           oc,
		ResponseText: responseFor(oc, warnings),
		Confidence:   confidence,
	}, nil
}

// requestConfirmation stores the pending operation and emits a prompt
// describing what will change.
func (p *Pipeline) requestConfirmation(oc *OperationContext, projectID int64, confidence float64, warnings []string) (*Outcome, error) {
	prompt := fmt.Sprintf("Confirm %s of %s %s? (yes/no)",
		strings.ToLower(string(oc.Operation)), entityList(oc.Entities), identText(oc.Identifier))

	if oc.Bulk {
		plan, err := PlanBulkDelete(p.state, projectID, oc.Entities)
		if err != nil {
			return nil, err
		}
		if plan.Total == 0 {
			return &Outcome{
				Intent:       IntentCommand,
				ResponseText: "Nothing matches; no items to delete.",
				Confidence:   confidence,
			}, nil
		}
		prompt = plan.Describe() + " Proceed? (yes/no)"
	}

	p.pending = &PendingConfirmation{
		Op:        oc,
		ProjectID: projectID,
		Prompt:    prompt,
		CreatedAt: p.now(),
	}
	logging.NL("Pending confirmation stored for project %d", projectID)

	return &Outcome{
		Intent:       IntentCommand,
		ResponseText: prompt,
		Confidence:   confidence,
		Pending:      p.pending,
	}, nil
}

// resolvePending handles the input that follows a confirmation prompt.
func (p *Pipeline) resolvePending(intent Intent, projectID int64, input string) (*Outcome, error) {
	pending := p.pending

	if pending.Expired(p.cfg.ConfirmationTimeoutDuration(), p.now()) {
		p.pending = nil
		logging.NL("Pending confirmation expired")
		return &Outcome{
			Intent:       intent,
			ResponseText: "The confirmation window expired; nothing was executed.",
			Confidence:   1.0,
		}, nil
	}

	switch intent {
	case IntentConfirmation:
		p.pending = nil
		pending.Op.Confirmed = true
		return &Outcome{
			Intent:       IntentConfirmation,
			Op:           pending.Op,
			ResponseText: "Confirmed.",
			Confidence:   1.0,
		}, nil
	case IntentCancellation:
		p.pending = nil
		return &Outcome{
			Intent:       IntentCancellation,
			ResponseText: "Cancelled; nothing was executed.",
			Confidence:   1.0,
		}, nil
	}

	// Anything else clears the pending state and reprocesses as fresh.
	p.pending = nil
	logging.NL("Pending confirmation cleared by unrelated input")
	return p.parseCommandFresh(projectID, input, intent)
}

func (p *Pipeline) parseCommandFresh(projectID int64, input string, intent Intent) (*Outcome, error) {
	switch intent {
	case IntentCommand, IntentQuery:
		return p.parseCommand(context.Background(), projectID, input, intent, 0.9)
	case IntentHelp:
		return &Outcome{Intent: intent, ResponseText: helpText(), Confidence: 0.95}, nil
	}
	return &Outcome{
		Intent:       intent,
		ResponseText: "I did not recognize a command. Try 'help' for examples.",
		Confidence:   0.5,
		ErrKind:      "user",
	}, nil
}

// Pending reports the pending confirmation, if any, for status display.
func (p *Pipeline) Pending() *PendingConfirmation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *Pipeline) clarify(intent Intent, stages []StageResult, lowest string) *Outcome {
	conf, _ := minStage(stages)
	return &Outcome{
		Intent:       intent,
		ResponseText: fmt.Sprintf("I am not confident about the %s; can you rephrase or add detail?", strings.ReplaceAll(lowest, "_", " ")),
		Confidence:   conf,
		ErrKind:      "user",
	}
}

func validationOutcome(intent Intent, err error) *Outcome {
	return &Outcome{
		Intent:       intent,
		ResponseText: err.Error(),
		Confidence:   0,
		ErrKind:      "validation",
	}
}

// minStage returns the overall confidence and the name of the weakest
// stage.
func minStage(stages []StageResult) (float64, string) {
	if len(stages) == 0 {
		return 0, ""
	}
	low := stages[0]
	for _, s := range stages[1:] {
		if s.Confidence < low.Confidence {
			low = s
		}
	}
	return low.Confidence, low.Stage
}

func responseFor(oc *OperationContext, warnings []string) string {
	text := fmt.Sprintf("%s %s %s", string(oc.Operation), entityList(oc.Entities), identText(oc.Identifier))
	if len(warnings) > 0 {
		text += " (note: " + strings.Join(warnings, "; ") + ")"
	}
	return strings.TrimSpace(text)
}

func entityList(entities []EntityType) string {
	parts := make([]string, len(entities))
	for i, e := range entities {
		parts[i] = strings.ToLower(string(e))
	}
	return strings.Join(parts, ", ")
}

func identText(id Identifier) string {
	switch id.Kind {
	case IdentID:
		return fmt.Sprintf("#%d", id.ID)
	case IdentTitle:
		return fmt.Sprintf("%q", id.Title)
	case IdentAll:
		return "(all)"
	}
	return ""
}

func helpText() string {
	return strings.Join([]string{
		"Examples:",
		`  create a task "wire the config loader" priority 8`,
		"  show task 12",
		"  list all stories",
		"  update task 12 status to COMPLETED",
		"  delete all epics, stories and tasks",
	}, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
