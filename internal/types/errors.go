package types

import (
	"fmt"
	"time"
)

// Error kinds are tagged structs rather than sentinel values so outer
// boundaries (CLI, REPL) can map them to structured user messages and
// exit codes with errors.As. Internal code must never collapse them to
// a bare boolean.

// UserError is malformed user input: a bad slash command, an invalid id.
// Recoverable; surfaced to the user verbatim.
type UserError struct {
	Msg string
}

func (e *UserError) Error() string { return e.Msg }

// NewUserError builds a UserError with fmt semantics.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// ValidationError is an NL or operation validation failure. It names the
// stage and, when known, the offending field.
type ValidationError struct {
	Stage string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed at %s (field %q): %s", e.Stage, e.Field, e.Msg)
	}
	return fmt.Sprintf("validation failed at %s: %s", e.Stage, e.Msg)
}

// StorageFault is a StatePort failure. Fatal to the current operation;
// the orchestrator aborts the task and records a breakpoint.
type StorageFault struct {
	Op  string
	Err error
}

func (e *StorageFault) Error() string { return fmt.Sprintf("storage fault in %s: %v", e.Op, e.Err) }
func (e *StorageFault) Unwrap() error { return e.Err }

// ExitReason classifies how an agent call ended.
type ExitReason string

const (
	ExitOK            ExitReason = "OK"
	ExitMaxTurns      ExitReason = "MAX_TURNS"
	ExitTimeout       ExitReason = "TIMEOUT"
	ExitInternalError ExitReason = "INTERNAL_ERROR"
	ExitSessionLocked ExitReason = "SESSION_LOCKED"
)

// Transient reports whether a fault with this exit reason is worth
// retrying with backoff.
func (r ExitReason) Transient() bool {
	switch r {
	case ExitTimeout, ExitSessionLocked, ExitInternalError:
		return true
	}
	return false
}

// AgentFault is a transport or process failure on the implementer side.
type AgentFault struct {
	Reason ExitReason
	Err    error
}

func (e *AgentFault) Error() string {
	return fmt.Sprintf("agent fault (%s): %v", e.Reason, e.Err)
}
func (e *AgentFault) Unwrap() error { return e.Err }

// BudgetExhausted is a normal outcome, not a hard error: the agent hit
// its per-call turn budget. It drives the turn-budget retry rule.
type BudgetExhausted struct {
	MaxTurns int
}

func (e *BudgetExhausted) Error() string {
	return fmt.Sprintf("turn budget exhausted (max_turns=%d)", e.MaxTurns)
}

// ContextCritical signals the red zone: no new calls until a checkpoint
// and session refresh have happened.
type ContextCritical struct {
	UsagePct float64
}

func (e *ContextCritical) Error() string {
	return fmt.Sprintf("context window critical at %.1f%% usage", e.UsagePct*100)
}

// ConfirmationRequired is a state, not an error: the operation needs a
// yes/no round trip before it runs.
type ConfirmationRequired struct {
	Prompt    string
	ExpiresAt time.Time
}

func (e *ConfirmationRequired) Error() string { return "confirmation required: " + e.Prompt }

// Escalation surfaces as a breakpoint with reason ESCALATE.
type Escalation struct {
	TaskID       int64
	BreakpointID int64
	Why          string
}

func (e *Escalation) Error() string {
	return fmt.Sprintf("task %d escalated: %s", e.TaskID, e.Why)
}
