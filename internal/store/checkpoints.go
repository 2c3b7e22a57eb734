package store

import (
	"database/sql"
	"fmt"

	"overseer/internal/types"
)

// RegisterCheckpoint records a checkpoint artifact in the registry. The
// artifact bytes are opaque to the store; MemoryCore owns the format.
// Re-registering the same id overwrites the row, which keeps restore
// idempotent.
func (s *Store) RegisterCheckpoint(cp *types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.ID == "" {
		return fault("RegisterCheckpoint", fmt.Errorf("checkpoint id required"))
	}
	_, err := s.db.Exec(
		`INSERT INTO checkpoints (id, session_id, created_at, trigger_code, artifact, last_interaction_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET artifact = excluded.artifact,
		                               last_interaction_id = excluded.last_interaction_id`,
		cp.ID, cp.SessionID, cp.CreatedAt, string(cp.Trigger), cp.Artifact, cp.LastInteractionID,
	)
	if err != nil {
		return fault("RegisterCheckpoint", err)
	}
	return nil
}

// GetCheckpoint loads one checkpoint by id.
func (s *Store) GetCheckpoint(id string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, err := scanCheckpoint(s.db.QueryRow(checkpointSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fault("GetCheckpoint", fmt.Errorf("checkpoint %s not found", id))
	}
	if err != nil {
		return nil, fault("GetCheckpoint", err)
	}
	return cp, nil
}

// ListCheckpoints lists a session's checkpoints, oldest first.
func (s *Store) ListCheckpoints(sessionID string) ([]*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(checkpointSelect+` WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fault("ListCheckpoints", err)
	}
	defer rows.Close()

	var out []*types.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fault("ListCheckpoints", err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("ListCheckpoints", err)
	}
	return out, nil
}

const checkpointSelect = `SELECT id, session_id, created_at, trigger_code, artifact, last_interaction_id FROM checkpoints`

func scanCheckpoint(row rowScanner) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	var trigger string
	err := row.Scan(&cp.ID, &cp.SessionID, &cp.CreatedAt, &trigger, &cp.Artifact, &cp.LastInteractionID)
	if err != nil {
		return nil, err
	}
	cp.Trigger = types.CheckpointTrigger(trigger)
	return &cp, nil
}
