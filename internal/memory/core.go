package memory

import (
	"context"
	"sync"
	"time"

	"overseer/internal/config"
	"overseer/internal/logging"
	"overseer/internal/types"
)

// Core ties the three tiers together for one session. The orchestrator
// task owns it exclusively: other tasks read summaries through the state
// store but never mutate working memory or the checkpoint files.
type Core struct {
	Working  *WorkingMemory
	Session  *SessionMemory
	Episodic *EpisodicMemory
	Windows  *WindowManager

	state     types.StatePort
	model     types.ModelPort
	optimizer Optimizer
	profile   Profile
	sessionID string

	mu                 sync.Mutex
	opsSinceCheckpoint int
	lastCheckpoint     time.Time
	lastInteractionID  int64
	checkpointInterval time.Duration
}

// CoreConfig assembles a memory core.
type CoreConfig struct {
	Dir                string // memory directory, owned by this core
	SessionID          string
	ContextWindow      int
	Thresholds         config.ThresholdsConfig
	State              types.StatePort
	Model              types.ModelPort // nil disables summarization
	CheckpointInterval time.Duration   // 0 disables interval checkpoints
}

// NewCore selects the optimization profile for the declared context
// window and wires up the tiers.
func NewCore(cfg CoreConfig) (*Core, error) {
	profile := ProfileFor(cfg.ContextWindow)
	logging.Memory("Memory core for session %s: profile %s (window %d)",
		cfg.SessionID, profile.Name, cfg.ContextWindow)

	session, err := NewSessionMemory(cfg.Dir, cfg.SessionID)
	if err != nil {
		return nil, err
	}
	episodic, err := NewEpisodicMemory(cfg.Dir)
	if err != nil {
		return nil, err
	}

	return &Core{
		Working:            NewWorkingMemory(profile, cfg.ContextWindow),
		Session:            session,
		Episodic:           episodic,
		Windows:            NewWindowManager(cfg.ContextWindow, cfg.Thresholds),
		state:              cfg.State,
		model:              cfg.Model,
		optimizer:          DefaultOptimizer(),
		profile:            profile,
		sessionID:          cfg.SessionID,
		lastCheckpoint:     time.Now(),
		checkpointInterval: cfg.CheckpointInterval,
	}, nil
}

// Profile returns the selected optimization profile.
func (c *Core) Profile() Profile { return c.profile }

// Record adds an operation to working memory, demotes evictions to the
// session tier, and fires automatic checkpoints.
func (c *Core) Record(kind OperationKind, subject, content string, usedTokens int64) {
	evicted := c.Working.Record(kind, subject, content)
	if len(evicted) > 0 {
		if err := c.Session.Demote(evicted); err != nil {
			logging.Get(logging.CategoryMemory).Error("Failed to demote operations: %v", err)
		}
	}

	c.mu.Lock()
	c.opsSinceCheckpoint++
	last := c.lastInteractionID
	c.mu.Unlock()

	c.maybeCheckpoint(usedTokens, last)
}

// NoteInteraction records the id of the most recent persisted
// interaction, which checkpoints reference as the resume point.
func (c *Core) NoteInteraction(id int64) {
	c.mu.Lock()
	c.lastInteractionID = id
	c.mu.Unlock()
}

// BuildContext runs the optimizer pipeline and returns the context
// string for the next call.
func (c *Core) BuildContext(ctx context.Context) (BuildResult, error) {
	return c.optimizer.Build(ctx, c.Working, c.Session, c.Episodic, c.model)
}
