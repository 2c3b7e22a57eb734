package store

import (
	"database/sql"
	"fmt"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// CreateBreakpoint records a new unresolved breakpoint for a task.
func (s *Store) CreateBreakpoint(bp *types.Breakpoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bp.TriggeredAt.IsZero() {
		bp.TriggeredAt = time.Now().UTC()
	}
	res, err := s.db.Exec(
		`INSERT INTO breakpoints (task_id, reason, triggered_at) VALUES (?, ?, ?)`,
		bp.TaskID, string(bp.Reason), bp.TriggeredAt,
	)
	if err != nil {
		return 0, fault("CreateBreakpoint", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fault("CreateBreakpoint", err)
	}
	bp.ID = id
	logging.Store("Breakpoint %d on task %d (%s)", id, bp.TaskID, bp.Reason)
	return id, nil
}

// GetBreakpoint loads a breakpoint by id.
func (s *Store) GetBreakpoint(id int64) (*types.Breakpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, err := scanBreakpoint(s.db.QueryRow(breakpointSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fault("GetBreakpoint", fmt.Errorf("breakpoint %d not found", id))
	}
	if err != nil {
		return nil, fault("GetBreakpoint", err)
	}
	return bp, nil
}

// ResolveBreakpoint stores the resolution and the resolve time.
func (s *Store) ResolveBreakpoint(id int64, resolution types.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE breakpoints SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`,
		time.Now().UTC(), string(resolution), id)
	if err != nil {
		return fault("ResolveBreakpoint", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault("ResolveBreakpoint", fmt.Errorf("breakpoint %d not found or already resolved", id))
	}
	logging.Store("Breakpoint %d resolved: %s", id, resolution)
	return nil
}

// UnresolvedBreakpoint returns the oldest unresolved breakpoint for a
// task, or nil when the task may advance.
func (s *Store) UnresolvedBreakpoint(taskID int64) (*types.Breakpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bp, err := scanBreakpoint(s.db.QueryRow(
		breakpointSelect+` WHERE task_id = ? AND resolved_at IS NULL ORDER BY id LIMIT 1`, taskID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault("UnresolvedBreakpoint", err)
	}
	return bp, nil
}

const breakpointSelect = `SELECT id, task_id, reason, triggered_at, resolved_at, resolution FROM breakpoints`

func scanBreakpoint(row rowScanner) (*types.Breakpoint, error) {
	var bp types.Breakpoint
	var reason, resolution string
	var resolvedAt sql.NullTime
	err := row.Scan(&bp.ID, &bp.TaskID, &reason, &bp.TriggeredAt, &resolvedAt, &resolution)
	if err != nil {
		return nil, err
	}
	bp.Reason = types.BreakpointReason(reason)
	if resolvedAt.Valid {
		bp.ResolvedAt = &resolvedAt.Time
	}
	bp.Resolution = types.Resolution(resolution)
	return &bp, nil
}
