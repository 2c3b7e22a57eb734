package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"

	"github.com/google/uuid"
)

// checkpointArtifact is the self-contained serialization of working
// memory plus the pointer to the last persisted interaction.
type checkpointArtifact struct {
	Version           int         `json:"version"`
	SessionID         string      `json:"session_id"`
	Operations        []Operation `json:"operations"`
	LastInteractionID int64       `json:"last_interaction_id"`
	CreatedAt         time.Time   `json:"created_at"`
}

const checkpointArtifactVersion = 1

// Checkpoint serializes working memory and registers the artifact with
// the state store. Triggers: usage crossing the profile threshold
// upward, the operation counter, a fixed interval, or manual request.
func (c *Core) Checkpoint(trigger types.CheckpointTrigger, lastInteractionID int64) (*types.Checkpoint, error) {
	artifact := checkpointArtifact{
		Version:           checkpointArtifactVersion,
		SessionID:         c.sessionID,
		Operations:        c.Working.Operations(),
		LastInteractionID: lastInteractionID,
		CreatedAt:         time.Now().UTC(),
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	cp := &types.Checkpoint{
		ID:                uuid.NewString(),
		SessionID:         c.sessionID,
		CreatedAt:         artifact.CreatedAt,
		Trigger:           trigger,
		Artifact:          data,
		LastInteractionID: lastInteractionID,
	}
	if err := c.state.RegisterCheckpoint(cp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.opsSinceCheckpoint = 0
	c.lastCheckpoint = time.Now()
	c.mu.Unlock()

	logging.Memory("Checkpoint %s created (%s, %d ops)", cp.ID, trigger, len(artifact.Operations))
	return cp, nil
}

// Restore reconstructs working memory from a checkpoint and returns the
// interaction id to resume at. Restore is deterministic and idempotent:
// given the same artifact it always produces the same working memory.
func (c *Core) Restore(cp *types.Checkpoint) (int64, error) {
	var artifact checkpointArtifact
	if err := json.Unmarshal(cp.Artifact, &artifact); err != nil {
		return 0, fmt.Errorf("corrupt checkpoint artifact %s: %w", cp.ID, err)
	}
	if artifact.Version != checkpointArtifactVersion {
		return 0, fmt.Errorf("checkpoint %s has unsupported artifact version %d", cp.ID, artifact.Version)
	}

	c.Working.Replace(artifact.Operations)

	c.mu.Lock()
	c.opsSinceCheckpoint = 0
	c.mu.Unlock()

	logging.Memory("Restored checkpoint %s (%d ops, resume at interaction %d)",
		cp.ID, len(artifact.Operations), artifact.LastInteractionID)
	return artifact.LastInteractionID, nil
}

// maybeCheckpoint fires an automatic checkpoint when a trigger matches.
// Called after every recorded operation.
func (c *Core) maybeCheckpoint(usedTokens int64, lastInteractionID int64) {
	c.mu.Lock()
	ops := c.opsSinceCheckpoint
	last := c.lastCheckpoint
	c.mu.Unlock()

	usage := c.Windows.Usage(usedTokens)
	switch {
	case usage >= c.profile.CheckpointAt:
		if _, err := c.Checkpoint(types.TriggerThreshold, lastInteractionID); err != nil {
			logging.Get(logging.CategoryMemory).Error("Threshold checkpoint failed: %v", err)
		}
	case c.profile.CheckpointEvery > 0 && ops >= c.profile.CheckpointEvery:
		if _, err := c.Checkpoint(types.TriggerOperationCount, lastInteractionID); err != nil {
			logging.Get(logging.CategoryMemory).Error("Operation-count checkpoint failed: %v", err)
		}
	case c.checkpointInterval > 0 && time.Since(last) >= c.checkpointInterval:
		if _, err := c.Checkpoint(types.TriggerInterval, lastInteractionID); err != nil {
			logging.Get(logging.CategoryMemory).Error("Interval checkpoint failed: %v", err)
		}
	}
}
