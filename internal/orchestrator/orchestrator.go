// Package orchestrator runs the supervised task iteration loop: budget,
// prompt, agent call, validation, decision. One cooperative loop per
// project; all state flows through the StatePort.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"overseer/internal/budget"
	"overseer/internal/config"
	"overseer/internal/events"
	"overseer/internal/logging"
	"overseer/internal/memory"
	"overseer/internal/session"
	"overseer/internal/types"
	"overseer/internal/validation"
)

// recentInteractionLimit bounds how much history goes into each prompt.
const recentInteractionLimit = 5

// Orchestrator executes tasks one iteration at a time under the
// validation pipeline's supervision.
type Orchestrator struct {
	cfg      config.Config
	state    types.StatePort
	agent    types.AgentPort
	sessions *session.Manager
	pipeline *validation.Pipeline
	budgeter *budget.Budgeter
	windows  *memory.WindowManager
	bus      *events.Bus
	mem      *memory.Core // optional working-memory recorder

	cancel atomic.Bool

	noteMu       sync.Mutex
	operatorNote string
}

// New wires an orchestrator. bus and mem may be nil.
func New(cfg config.Config, state types.StatePort, agent types.AgentPort, sessions *session.Manager,
	pipeline *validation.Pipeline, windows *memory.WindowManager, bus *events.Bus, mem *memory.Core) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		state:    state,
		agent:    agent,
		sessions: sessions,
		pipeline: pipeline,
		budgeter: budget.New(cfg.Orchestration.MaxTurns),
		windows:  windows,
		bus:      bus,
		mem:      mem,
	}
}

// RequestCancel sets the cooperative cancel flag. The loop observes it
// between iterations.
func (o *Orchestrator) RequestCancel() { o.cancel.Store(true) }

// ClearCancel resets the flag before a new run.
func (o *Orchestrator) ClearCancel() { o.cancel.Store(false) }

// InjectNote queues operator guidance for the next prompt. The note rides
// along once and never touches the task record.
func (o *Orchestrator) InjectNote(note string) {
	o.noteMu.Lock()
	defer o.noteMu.Unlock()
	o.operatorNote = note
}

// takeNote consumes the queued note, if any.
func (o *Orchestrator) takeNote() string {
	o.noteMu.Lock()
	defer o.noteMu.Unlock()
	note := o.operatorNote
	o.operatorNote = ""
	return note
}

// ExecuteTask runs the iteration loop for one task and returns a
// terminal TaskResult. maxIterations <= 0 uses the configured default.
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID int64, maxIterations int) (*types.TaskResult, error) {
	if maxIterations <= 0 {
		maxIterations = o.cfg.Orchestration.MaxIterations
	}

	task, err := o.state.GetWorkItem(taskID)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}
	if task == nil {
		return nil, types.NewUserError("no task with id %d", taskID)
	}

	blocked, err := o.blockedOn(task)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}
	if blocked != 0 {
		logging.Orchestrator("Task %d blocked on dependency %d", taskID, blocked)
		return &types.TaskResult{Status: types.TaskBlocked}, nil
	}

	maxTurns, rationale := o.budgeter.Calculate(budget.Signals{
		Text: task.Title + " " + task.Description,
	})
	logging.Orchestrator("Task %d budgeted %d turns (%s)", taskID, maxTurns, rationale)

	proj, err := o.state.GetProject(task.ProjectID)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}

	milestoneID, err := o.milestoneFor(task)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}
	sess, err := o.sessions.Start(task.ProjectID, milestoneID)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}
	milestoneCtx, err := o.sessions.BuildMilestoneContext(task.ProjectID, sess.MilestoneID)
	if err != nil {
		return o.failWithBreakpoint(taskID, err)
	}

	run := &taskRun{
		task:         task,
		project:      proj,
		session:      sess,
		milestoneCtx: milestoneCtx,
		maxTurns:     maxTurns,
	}

	result := &types.TaskResult{}
	for iteration := 1; iteration <= maxIterations; iteration++ {
		if o.cancel.Load() {
			logging.Orchestrator("Task %d cancelled at iteration %d", taskID, iteration)
			result.Status = types.TaskCancelled
			result.Iterations = iteration - 1
			return result, nil
		}
		result.Iterations = iteration

		iterCtx := ctx
		var cancelIter context.CancelFunc
		if d := o.cfg.Orchestration.IterationTimeoutDuration(); d > 0 {
			iterCtx, cancelIter = context.WithTimeout(ctx, d)
		}
		done, err := o.iterate(iterCtx, run, result, maxIterations-iteration)
		if cancelIter != nil {
			cancelIter()
		}
		if err != nil {
			var fault *types.StorageFault
			if errors.As(err, &fault) {
				return o.failWithBreakpoint(taskID, err)
			}
			return nil, err
		}
		if done {
			return result, nil
		}
	}

	// Loop exhausted without a terminal decision.
	bp := &types.Breakpoint{TaskID: taskID, Reason: types.ReasonBudgetExhausted}
	if _, err := o.state.CreateBreakpoint(bp); err != nil {
		return nil, err
	}
	result.Status = types.TaskEscalated
	result.BreakpointID = bp.ID
	return result, nil
}

// taskRun is the per-run mutable state threaded through iterations.
type taskRun struct {
	task           *types.WorkItem
	project        *types.Project
	session        *types.Session
	milestoneCtx   string
	maxTurns       int
	retries        int
	refreshSummary string // prepended to the next prompt after a refresh
}

// iterate performs one loop body. It returns done=true when result holds
// a terminal status.
func (o *Orchestrator) iterate(ctx context.Context, run *taskRun, result *types.TaskResult, iterationsLeft int) (bool, error) {
	if err := o.maybeRefresh(ctx, run); err != nil {
		return false, err
	}

	prompt, err := o.buildPrompt(run)
	if err != nil {
		return false, err
	}
	o.publish(events.PromptPrepared, run, "")

	res, err := o.send(ctx, run, prompt)
	if err != nil {
		return false, err
	}

	// MAX_TURNS consumes a retry, not an iteration. Retrying at all is
	// opt-in via configuration.
	for res.ExitReason == types.ExitMaxTurns &&
		o.cfg.Orchestration.MaxTurns.AutoRetry &&
		run.retries < o.cfg.Orchestration.MaxTurns.MaxRetries {
		run.retries++
		result.Retries = run.retries
		run.maxTurns = o.growBudget(run.maxTurns)
		logging.Orchestrator("Task %d hit MAX_TURNS, retry %d with budget %d", run.task.ID, run.retries, run.maxTurns)
		res, err = o.send(ctx, run, prompt)
		if err != nil {
			return false, err
		}
	}
	if res.ExitReason == types.ExitMaxTurns {
		bp := &types.Breakpoint{TaskID: run.task.ID, Reason: types.ReasonBudgetExhausted}
		if _, err := o.state.CreateBreakpoint(bp); err != nil {
			return false, err
		}
		result.Status = types.TaskEscalated
		result.BreakpointID = bp.ID
		return true, nil
	}

	if err := o.sessions.RecordUsage(run.session.ID, run.task.ID, res); err != nil {
		return false, err
	}

	interactionID, outcome, err := o.record(ctx, run, result, prompt, res, iterationsLeft)
	if err != nil {
		return false, err
	}
	if o.mem != nil {
		o.noteMemory(run, res, interactionID)
	}

	result.Quality = outcome.Quality
	result.Confidence = outcome.Confidence
	result.Response = res.Text

	if outcome.Breakpoint != nil {
		o.publish(events.BreakpointTriggered, run, string(outcome.Breakpoint.Reason))
		result.Status = types.TaskPaused
		result.BreakpointID = outcome.Breakpoint.ID
		return true, nil
	}

	o.publish(events.DecisionMade, run, string(outcome.Decision))
	switch outcome.Decision {
	case types.DecisionProceed:
		result.Status = types.TaskCompleted
		return true, nil
	case types.DecisionRetry:
		return false, nil
	case types.DecisionClarify:
		result.Status = types.TaskWaitingUser
		result.Clarification = clarificationFor(outcome)
		return true, nil
	case types.DecisionEscalate:
		bp := &types.Breakpoint{TaskID: run.task.ID, Reason: types.ReasonEscalate}
		if _, err := o.state.CreateBreakpoint(bp); err != nil {
			return false, err
		}
		result.Status = types.TaskEscalated
		result.BreakpointID = bp.ID
		return true, nil
	case types.DecisionAbort:
		result.Status = types.TaskFailed
		return true, nil
	}
	return false, fmt.Errorf("failed to handle decision %q", outcome.Decision)
}

// maybeRefresh rotates the session when the window manager says the
// current one is too hot.
func (o *Orchestrator) maybeRefresh(ctx context.Context, run *taskRun) error {
	used, err := o.sessions.Usage(run.session.ID)
	if err != nil {
		return err
	}
	if !o.windows.ShouldRefresh(used) {
		return nil
	}

	next, summary, err := o.sessions.Refresh(ctx, run.session.ID)
	if err != nil {
		return err
	}
	run.session = next
	run.refreshSummary = summary
	o.publish(events.SessionRefreshed, run, fmt.Sprintf("usage %.0f%%", o.windows.Usage(used)*100))
	return nil
}

// buildPrompt assembles milestone context, any refresh summary, the task,
// and recent interaction history.
func (o *Orchestrator) buildPrompt(run *taskRun) (string, error) {
	var b strings.Builder
	b.WriteString(run.milestoneCtx)

	if run.refreshSummary != "" {
		fmt.Fprintf(&b, "\n## Session summary (continued from a refreshed session)\n%s\n", run.refreshSummary)
		run.refreshSummary = ""
	}

	if note := o.takeNote(); note != "" {
		fmt.Fprintf(&b, "\n## Operator note\n%s\n", note)
	}

	fmt.Fprintf(&b, "\n## Task #%d: %s\n", run.task.ID, run.task.Title)
	if run.task.Description != "" {
		fmt.Fprintf(&b, "%s\n", run.task.Description)
	}

	history, err := o.state.ListInteractions(run.task.ID, recentInteractionLimit)
	if err != nil {
		return "", err
	}
	if len(history) > 0 {
		b.WriteString("\n## Recent attempts\n")
		for _, in := range history {
			fmt.Fprintf(&b, "- iteration %d: %s (quality %d, decision %s)\n",
				in.Iteration, firstLine(in.Response), in.Meta.Quality, in.Meta.Decision)
		}
	}
	return b.String(), nil
}

// send calls the agent with transient-fault retry and exponential
// backoff.
func (o *Orchestrator) send(ctx context.Context, run *taskRun, prompt string) (*types.AgentResult, error) {
	call := types.CallContext{
		SessionID: run.session.ID,
		MaxTurns:  run.maxTurns,
		Workdir:   run.project.WorkingDirectory,
		Timeout:   o.cfg.Agent.ResponseTimeoutDuration(),
	}

	backoff := time.Second
	for attempt := 0; ; attempt++ {
		o.publish(events.PromptSent, run, "")
		res, err := o.agent.Send(ctx, prompt, call)
		if err == nil {
			o.publish(events.ResponseReceived, run, string(res.ExitReason))
			return res, nil
		}

		var fault *types.AgentFault
		if !errors.As(err, &fault) || !fault.Reason.Transient() || attempt >= o.cfg.Agent.Retries {
			return nil, err
		}
		logging.Orchestrator("Transient agent fault (%s), retrying in %s", fault.Reason, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// record appends the interaction, runs the validation pipeline, and
// persists the structured outcome on the row.
func (o *Orchestrator) record(ctx context.Context, run *taskRun, result *types.TaskResult, prompt string, res *types.AgentResult, iterationsLeft int) (int64, *validation.Outcome, error) {
	history, err := o.state.ListInteractions(run.task.ID, recentInteractionLimit)
	if err != nil {
		return 0, nil, err
	}
	var confidences []int
	for _, in := range history {
		confidences = append(confidences, in.Meta.Confidence)
	}

	outcome, err := o.pipeline.Evaluate(ctx, validation.Input{
		TaskID:          run.task.ID,
		TaskDescription: run.task.Title + "\n" + run.task.Description,
		Response:        res.Text,
		IterationsLeft:  iterationsLeft,
		History:         confidences,
	})
	if err != nil {
		return 0, nil, err
	}
	o.publish(events.ValidationDone, run, fmt.Sprintf("quality=%d confidence=%d", outcome.Quality, outcome.Confidence))

	id, err := o.state.AppendInteraction(&types.Interaction{
		ProjectID: run.task.ProjectID,
		TaskID:    run.task.ID,
		SessionID: run.session.ID,
		Iteration: result.Iterations,
		Prompt:    prompt,
		Response:  res.Text,
		Meta: types.InteractionMeta{
			TurnsUsed:  res.TurnsUsed,
			DurationMs: res.DurationMs,
			Valid:      outcome.Record.Valid,
			Complete:   outcome.Record.Complete,
			Notes:      outcome.Record.Notes,
			Quality:    outcome.Quality,
			Confidence: outcome.Confidence,
			Decision:   outcome.Decision,
		},
	})
	if err != nil {
		return 0, nil, err
	}
	return id, outcome, nil
}

// noteMemory mirrors the iteration into the working-memory tier.
func (o *Orchestrator) noteMemory(run *taskRun, res *types.AgentResult, interactionID int64) {
	used, err := o.sessions.Usage(run.session.ID)
	if err != nil {
		logging.Get(logging.CategoryOrchestrator).Warn("Usage lookup for memory failed: %v", err)
		used = 0
	}
	o.mem.Record(memory.OpAction,
		fmt.Sprintf("task_%d", run.task.ID),
		firstLine(res.Text), used)
	o.mem.NoteInteraction(interactionID)
}

// milestoneFor walks the task's parent chain up to its epic and returns
// the milestone that requires that epic, if any.
func (o *Orchestrator) milestoneFor(task *types.WorkItem) (*int64, error) {
	item := task
	for item.Kind != types.KindEpic {
		if item.ParentID == nil {
			return nil, nil
		}
		parent, err := o.state.GetWorkItem(*item.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, nil
		}
		item = parent
	}

	milestones, err := o.state.ListWorkItems(task.ProjectID, types.KindMilestone, false)
	if err != nil {
		return nil, err
	}
	for _, ms := range milestones {
		for _, epicID := range ms.EpicIDs {
			if epicID == item.ID {
				id := ms.ID
				return &id, nil
			}
		}
	}
	return nil, nil
}

// blockedOn returns the id of the first incomplete dependency, or 0.
func (o *Orchestrator) blockedOn(task *types.WorkItem) (int64, error) {
	for _, dep := range task.Dependencies {
		item, err := o.state.GetWorkItem(dep)
		if err != nil {
			return 0, err
		}
		if item == nil || item.Status != types.StatusCompleted {
			return dep, nil
		}
	}
	return 0, nil
}

// failWithBreakpoint converts a storage fault into a FAILED result with
// a breakpoint so an operator can inspect it.
func (o *Orchestrator) failWithBreakpoint(taskID int64, cause error) (*types.TaskResult, error) {
	logging.Get(logging.CategoryOrchestrator).Error("Task %d aborted: %v", taskID, cause)
	bp := &types.Breakpoint{TaskID: taskID, Reason: types.ReasonEscalate}
	if _, err := o.state.CreateBreakpoint(bp); err != nil {
		logging.Get(logging.CategoryOrchestrator).Error("Breakpoint create failed: %v", err)
	}
	return &types.TaskResult{Status: types.TaskFailed, BreakpointID: bp.ID}, nil
}

func (o *Orchestrator) growBudget(current int) int {
	grown := int(float64(current) * o.cfg.Orchestration.MaxTurns.RetryMultiplier)
	if grown <= current {
		grown = current + 1
	}
	if grown > o.cfg.Orchestration.MaxTurns.Max {
		grown = o.cfg.Orchestration.MaxTurns.Max
	}
	return grown
}

func (o *Orchestrator) publish(t events.Type, run *taskRun, msg string) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:      t,
		Timestamp: time.Now(),
		ProjectID: run.task.ProjectID,
		TaskID:    run.task.ID,
		SessionID: run.session.ID,
		Message:   msg,
	})
}

func clarificationFor(outcome *validation.Outcome) string {
	if len(outcome.Record.Notes) > 0 {
		return "Please clarify: " + strings.Join(outcome.Record.Notes, "; ")
	}
	return "Confidence is low; please review the latest response and give direction."
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
