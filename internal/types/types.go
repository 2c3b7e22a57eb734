// Package types defines the shared domain model for overseer: projects,
// the work-item hierarchy, sessions, the token ledger, interactions,
// breakpoints, checkpoints, and the port contracts that bind the core
// components together.
package types

import (
	"time"
)

// AllSentinel is the reserved identifier meaning "every item of the stated
// kind in the stated scope". It is only valid inside bulk operations and
// must never be stored as a real identifier.
const AllSentinel = "__ALL__"

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectActive    ProjectStatus = "ACTIVE"
	ProjectPaused    ProjectStatus = "PAUSED"
	ProjectCompleted ProjectStatus = "COMPLETED"
	ProjectArchived  ProjectStatus = "ARCHIVED"
)

// Project owns a working directory on the host file system.
type Project struct {
	ID               int64
	Name             string
	WorkingDirectory string
	Status           ProjectStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	IsDeleted        bool
}

// WorkItemKind discriminates the work-item hierarchy.
type WorkItemKind string

const (
	KindEpic      WorkItemKind = "epic"
	KindStory     WorkItemKind = "story"
	KindTask      WorkItemKind = "task"
	KindSubtask   WorkItemKind = "subtask"
	KindMilestone WorkItemKind = "milestone"
)

// CascadeOrder is the child-first deletion order for cascading bulk deletes.
var CascadeOrder = []WorkItemKind{KindSubtask, KindTask, KindStory, KindEpic}

// WorkItemStatus represents the execution state of a work item.
type WorkItemStatus string

const (
	StatusPending   WorkItemStatus = "PENDING"
	StatusRunning   WorkItemStatus = "RUNNING"
	StatusBlocked   WorkItemStatus = "BLOCKED"
	StatusCompleted WorkItemStatus = "COMPLETED"
	StatusFailed    WorkItemStatus = "FAILED"
	StatusCancelled WorkItemStatus = "CANCELLED"
)

// Named priority levels on the 1-10 scale (1 is highest).
const (
	PriorityHigh   = 1
	PriorityMedium = 5
	PriorityLow    = 10
)

// WorkItem is the polymorphic unit of the hierarchy. Epics group stories,
// stories group tasks, tasks own subtasks, and milestones reference a
// required set of epics. ParentID points at the owning item one level up
// (story->epic, task->story or epic, subtask->task); it is nil for epics
// and for unparented items.
type WorkItem struct {
	ID           int64
	ProjectID    int64
	Kind         WorkItemKind
	Title        string
	Description  string
	Priority     int
	Status       WorkItemStatus
	ParentID     *int64
	EpicIDs      []int64 // milestone-only: required epic set
	Dependencies []int64 // same-kind dependency edges
	CreatedAt    time.Time
	UpdatedAt    time.Time
	IsDeleted    bool
}

// SessionStatus represents the lifecycle state of an implementer session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionRefreshed SessionStatus = "REFRESHED"
	SessionAbandoned SessionStatus = "ABANDONED"
)

// Session is the unit of continuity with the implementer for a milestone.
type Session struct {
	ID          string // UUID
	ProjectID   int64
	MilestoneID *int64
	StartedAt   time.Time
	EndedAt     *time.Time
	Status      SessionStatus
	TotalTokens int64
	TotalTurns  int
	Summary     string
}

// TokenLedgerEntry is one append-only row of the per-session token ledger.
// CacheReadTokens do not count toward the context window.
type TokenLedgerEntry struct {
	ID                  int64
	SessionID           string
	TaskID              int64
	Timestamp           time.Time
	InputTokens         int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	OutputTokens        int64
	TotalTokens         int64
	Turns               int
}

// WindowTokens returns the tokens that count against the context window.
func (e *TokenLedgerEntry) WindowTokens() int64 {
	return e.InputTokens + e.CacheCreationTokens + e.OutputTokens
}

// InteractionMeta carries the structured per-iteration record the
// validation pipeline produces. It is persisted alongside the raw
// prompt/response pair, never reduced to a bare boolean.
type InteractionMeta struct {
	TurnsUsed  int      `json:"turns_used"`
	DurationMs int64    `json:"duration_ms"`
	Valid      bool     `json:"valid"`
	Complete   bool     `json:"complete"`
	Notes      []string `json:"notes,omitempty"`
	Quality    int      `json:"quality"`
	Confidence int      `json:"confidence"`
	Decision   Decision `json:"decision"`
}

// Interaction is one append-only prompt/response exchange for a task.
type Interaction struct {
	ID        int64
	ProjectID int64
	TaskID    int64
	SessionID string
	Iteration int
	Prompt    string
	Response  string
	Timestamp time.Time
	Meta      InteractionMeta
}

// BreakpointReason identifies why a task was paused.
type BreakpointReason string

const (
	ReasonLowConfidence     BreakpointReason = "LOW_CONFIDENCE"
	ReasonQualityBelowFloor BreakpointReason = "QUALITY_BELOW_FLOOR"
	ReasonValidationFailed  BreakpointReason = "VALIDATION_FAILED"
	ReasonDestructiveOp     BreakpointReason = "DESTRUCTIVE_OP"
	ReasonExplicitRequest   BreakpointReason = "EXPLICIT_REQUEST"
	ReasonBudgetExhausted   BreakpointReason = "BUDGET_EXHAUSTED"
	ReasonEscalate          BreakpointReason = "ESCALATE"
)

// Resolution maps a resolved breakpoint back onto a decision.
type Resolution string

const (
	ResolveProceed  Resolution = "PROCEED"
	ResolveRetry    Resolution = "RETRY"
	ResolveClarify  Resolution = "CLARIFY"
	ResolveEscalate Resolution = "ESCALATE"
	ResolveAbort    Resolution = "ABORT"
)

// Breakpoint is a persisted pause point. A task with an unresolved
// breakpoint may not advance.
type Breakpoint struct {
	ID          int64
	TaskID      int64
	Reason      BreakpointReason
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	Resolution  Resolution
}

// Resolved reports whether the breakpoint has been resolved.
func (b *Breakpoint) Resolved() bool { return b.ResolvedAt != nil }

// CheckpointTrigger identifies what caused a memory checkpoint.
type CheckpointTrigger string

const (
	TriggerThreshold      CheckpointTrigger = "THRESHOLD"
	TriggerInterval       CheckpointTrigger = "INTERVAL"
	TriggerOperationCount CheckpointTrigger = "OPERATION_COUNT"
	TriggerManual         CheckpointTrigger = "MANUAL"
)

// Checkpoint registers a serialized working-memory snapshot. The artifact
// is opaque to the store; MemoryCore owns its format.
type Checkpoint struct {
	ID                string // UUID
	SessionID         string
	CreatedAt         time.Time
	Trigger           CheckpointTrigger
	Artifact          []byte
	LastInteractionID int64
}

// Decision is the outcome the decision engine selects after each iteration.
type Decision string

const (
	DecisionProceed  Decision = "PROCEED"
	DecisionRetry    Decision = "RETRY"
	DecisionClarify  Decision = "CLARIFY"
	DecisionEscalate Decision = "ESCALATE"
	DecisionAbort    Decision = "ABORT"
)

// TaskResultStatus is the terminal status of one ExecuteTask run.
type TaskResultStatus string

const (
	TaskCompleted   TaskResultStatus = "COMPLETED"
	TaskBlocked     TaskResultStatus = "BLOCKED"
	TaskPaused      TaskResultStatus = "PAUSED"
	TaskWaitingUser TaskResultStatus = "WAITING_USER"
	TaskEscalated   TaskResultStatus = "ESCALATED"
	TaskFailed      TaskResultStatus = "FAILED"
	TaskCancelled   TaskResultStatus = "CANCELLED"
)

// TaskResult is what Orchestrator.ExecuteTask returns to callers.
type TaskResult struct {
	Status        TaskResultStatus
	Iterations    int
	Retries       int
	Quality       int
	Confidence    int
	Response      string
	BreakpointID  int64  // set when Status == TaskPaused or TaskEscalated
	Clarification string // set when Status == TaskWaitingUser
}
