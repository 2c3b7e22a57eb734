package types

import (
	"context"
	"time"
)

// AgentResult is the structured response of one implementer call.
type AgentResult struct {
	Text                string
	InputTokens         int64
	CacheCreationTokens int64
	CacheReadTokens     int64
	OutputTokens        int64
	TurnsUsed           int
	DurationMs          int64
	ExitReason          ExitReason
}

// WindowTokens returns the tokens that count against the context window.
// Cache reads are free with respect to the window.
func (r *AgentResult) WindowTokens() int64 {
	return r.InputTokens + r.CacheCreationTokens + r.OutputTokens
}

// CallContext carries per-call parameters for an agent invocation. The
// session id is owned by the SessionManager; the agent must not retain
// state outside it.
type CallContext struct {
	SessionID  string
	MaxTurns   int
	Workdir    string
	Timeout    time.Duration
}

// AgentPort is the contract for the implementer agent. Implementations
// are stateless senders: they read the session id on each call and may
// restart between calls.
type AgentPort interface {
	Send(ctx context.Context, prompt string, call CallContext) (*AgentResult, error)
}

// ModelPort is the contract for the local validator model. Generate is
// synchronous and may take seconds.
type ModelPort interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error)
	// ContextWindow reports the model's declared context window in tokens.
	ContextWindow() int
}

// StatePort is the single source of truth for persistent state. Every
// mutation passes through it in a transaction; partial failure rolls
// back. All failures surface as *StorageFault.
type StatePort interface {
	// Projects.
	CreateProject(name, workingDirectory string) (*Project, error)
	GetProject(id int64) (*Project, error)
	ListProjects(includeDeleted bool) ([]*Project, error)
	UpdateProject(id int64, updates map[string]any) error
	SoftDeleteProject(id int64) error

	// Work items. CreateWorkItem reads Kind, ProjectID, Title and the
	// optional fields from the passed item and returns it with ID and
	// timestamps filled in.
	CreateWorkItem(item *WorkItem) (*WorkItem, error)
	GetWorkItem(id int64) (*WorkItem, error)
	ListWorkItems(projectID int64, kind WorkItemKind, includeDeleted bool) ([]*WorkItem, error)
	// UpdateWorkItem applies whitelisted fields only; unknown fields are
	// ignored, not errors.
	UpdateWorkItem(id int64, updates map[string]any) error
	DeleteWorkItem(id int64, soft bool) error
	// DeleteAllOf soft-deletes every live item of the given kinds in the
	// project, dependents first, inside a single transaction. It returns
	// the per-kind deleted counts.
	DeleteAllOf(projectID int64, kinds []WorkItemKind) (map[WorkItemKind]int, error)
	CountOf(projectID int64, kind WorkItemKind) (int, error)

	// Sessions.
	CreateSessionRecord(s *Session) error
	GetSessionRecord(id string) (*Session, error)
	CompleteSessionRecord(id string) error
	SaveSessionSummary(id, summary string) error
	MarkSessionRefreshed(id, summary string) error
	ActiveSessionFor(projectID int64, milestoneID *int64) (*Session, error)
	ListSessionsForMilestone(projectID int64, milestoneID *int64) ([]*Session, error)

	// Token ledger and interactions. Both are append-only.
	RecordTokenUsage(e *TokenLedgerEntry) error
	GetSessionTokenUsage(sessionID string) (int64, error)
	AppendInteraction(in *Interaction) (int64, error)
	ListInteractions(taskID int64, limit int) ([]*Interaction, error)

	// Breakpoints.
	CreateBreakpoint(bp *Breakpoint) (int64, error)
	GetBreakpoint(id int64) (*Breakpoint, error)
	ResolveBreakpoint(id int64, resolution Resolution) error
	UnresolvedBreakpoint(taskID int64) (*Breakpoint, error)

	// Checkpoint registry.
	RegisterCheckpoint(cp *Checkpoint) error
	GetCheckpoint(id string) (*Checkpoint, error)
	ListCheckpoints(sessionID string) ([]*Checkpoint, error)

	Close() error
}

// Change is one file-change event from a watcher: the absolute path and
// the content hash after the change (empty for removals).
type Change struct {
	Path string
	Hash string
	Op   string // create, write, remove, rename
	At   time.Time
}

// Watcher emits change events for a directory tree.
type Watcher interface {
	Events() <-chan Change
	Close() error
}
