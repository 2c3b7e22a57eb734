package store

import (
	"encoding/json"
	"fmt"
	"time"

	"overseer/internal/types"
)

// AppendInteraction appends one prompt/response exchange and returns its
// id. Interactions are append-only; there is no update path.
func (s *Store) AppendInteraction(in *types.Interaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	meta, err := json.Marshal(in.Meta)
	if err != nil {
		return 0, fault("AppendInteraction", err)
	}

	res, err := s.db.Exec(
		`INSERT INTO interactions (project_id, task_id, session_id, iteration, prompt, response, timestamp, meta)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ProjectID, in.TaskID, in.SessionID, in.Iteration, in.Prompt, in.Response,
		in.Timestamp, string(meta),
	)
	if err != nil {
		return 0, fault("AppendInteraction", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("AppendInteraction", err)
	}
	in.ID = id
	return id, nil
}

// ListInteractions returns the most recent interactions for a task in
// iteration order, capped at limit (0 means all).
func (s *Store) ListInteractions(taskID int64, limit int) ([]*types.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, project_id, task_id, session_id, iteration, prompt, response, timestamp, meta
	          FROM interactions WHERE task_id = ? ORDER BY iteration DESC, id DESC`
	args := []any{taskID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fault("ListInteractions", err)
	}
	defer rows.Close()

	var out []*types.Interaction
	for rows.Next() {
		var in types.Interaction
		var meta string
		if err := rows.Scan(&in.ID, &in.ProjectID, &in.TaskID, &in.SessionID, &in.Iteration,
			&in.Prompt, &in.Response, &in.Timestamp, &meta); err != nil {
			return nil, fault("ListInteractions", err)
		}
		if err := json.Unmarshal([]byte(meta), &in.Meta); err != nil {
			return nil, fault("ListInteractions", fmt.Errorf("corrupt meta on interaction %d: %w", in.ID, err))
		}
		out = append(out, &in)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("ListInteractions", err)
	}

	// Reverse into ascending iteration order so callers read a
	// consistent prefix.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
