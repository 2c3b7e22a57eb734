// Package memory implements the multi-tier working/session/episodic
// memory that keeps a small-context validator (or orchestrator) inside
// its window while preserving enough information to resume work.
//
// Tiers:
//
//	Working  - bounded deque of recent operations; FIFO eviction
//	Session  - compact per-session document + artifact registry
//	Episodic - append-only versioned documents across sessions
//
// An adaptive optimizer picks a profile from the declared context window
// and applies pruning, artifact substitution, external spill,
// differential state, and optional validator-backed summarization when
// building a context string.
package memory

import (
	"time"
)

// OperationKind classifies working-memory operations for pruning.
type OperationKind string

const (
	OpDebug      OperationKind = "debug"
	OpTrace      OperationKind = "trace"
	OpAction     OperationKind = "action"
	OpFile       OperationKind = "file"
	OpState      OperationKind = "state"
	OpValidation OperationKind = "validation"
	OpSummary    OperationKind = "summary"
	OpPointer    OperationKind = "pointer" // spilled to episodic tier
)

// Operation is one opaque record in working memory.
type Operation struct {
	ID        int64         `json:"id"`
	Kind      OperationKind `json:"kind"`
	Subject   string        `json:"subject,omitempty"` // e.g. file path or object key
	Content   string        `json:"content"`
	Tokens    int           `json:"tokens"`
	Timestamp time.Time     `json:"timestamp"`
}

// Profile is one adaptive optimization profile. Thresholds are fractions
// of the context window.
type Profile struct {
	Name            string
	MaxOps          int
	MaxTokensPct    float64 // working-memory share of the window
	CheckpointEvery int     // operations between interval checkpoints
	CheckpointAt    float64 // usage fraction that forces a checkpoint
}

// The profile table, keyed by declared context window size.
var profiles = []struct {
	maxWindow int // inclusive upper bound; 0 means unbounded
	profile   Profile
}{
	{4_000, Profile{Name: "ultra-aggressive", MaxOps: 10, MaxTokensPct: 0.05, CheckpointEvery: 20, CheckpointAt: 0.70}},
	{32_000, Profile{Name: "aggressive", MaxOps: 20, MaxTokensPct: 0.07, CheckpointEvery: 50, CheckpointAt: 0.70}},
	{100_000, Profile{Name: "balanced-aggressive", MaxOps: 40, MaxTokensPct: 0.08, CheckpointEvery: 80, CheckpointAt: 0.75}},
	{250_000, Profile{Name: "balanced", MaxOps: 75, MaxTokensPct: 0.10, CheckpointEvery: 100, CheckpointAt: 0.80}},
	{0, Profile{Name: "minimal", MaxOps: 100, MaxTokensPct: 0.10, CheckpointEvery: 200, CheckpointAt: 0.85}},
}

// ProfileFor selects the optimization profile for a context window.
func ProfileFor(contextWindow int) Profile {
	for _, row := range profiles {
		if row.maxWindow == 0 || contextWindow <= row.maxWindow {
			return row.profile
		}
	}
	return profiles[len(profiles)-1].profile
}

// Artifact is a registry entry standing in for a large file body.
type Artifact struct {
	Path    string    `json:"path"`
	Hash    string    `json:"hash"`
	Summary string    `json:"summary"`
	SeenAt  time.Time `json:"seen_at"`
}

// Zone is a context-window usage band.
type Zone int

const (
	ZoneGreen Zone = iota
	ZoneYellow
	ZoneOrange
	ZoneRed
)

func (z Zone) String() string {
	switch z {
	case ZoneGreen:
		return "green"
	case ZoneYellow:
		return "yellow"
	case ZoneOrange:
		return "orange"
	case ZoneRed:
		return "red"
	}
	return "unknown"
}
