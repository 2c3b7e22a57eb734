package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// CreateWorkItem inserts a new work item of the kind carried on the item.
// ID and timestamps are filled in on the returned copy.
func (s *Store) CreateWorkItem(item *types.WorkItem) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Title == "" || item.Title == types.AllSentinel {
		return nil, fault("CreateWorkItem", fmt.Errorf("invalid title %q", item.Title))
	}
	switch item.Kind {
	case types.KindEpic, types.KindStory, types.KindTask, types.KindSubtask, types.KindMilestone:
	default:
		return nil, fault("CreateWorkItem", fmt.Errorf("unknown work item kind %q", item.Kind))
	}
	if item.Priority == 0 {
		item.Priority = types.PriorityMedium
	}
	if item.Priority < 1 || item.Priority > 10 {
		return nil, fault("CreateWorkItem", fmt.Errorf("priority %d out of range [1,10]", item.Priority))
	}
	if item.Status == "" {
		item.Status = types.StatusPending
	}

	epicIDs, err := json.Marshal(emptyIfNil(item.EpicIDs))
	if err != nil {
		return nil, fault("CreateWorkItem", err)
	}
	deps, err := json.Marshal(emptyIfNil(item.Dependencies))
	if err != nil {
		return nil, fault("CreateWorkItem", err)
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO work_items
		 (project_id, kind, title, description, priority, status, parent_id, epic_ids, dependencies, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ProjectID, string(item.Kind), item.Title, item.Description, item.Priority,
		string(item.Status), item.ParentID, string(epicIDs), string(deps), now, now,
	)
	if err != nil {
		return nil, fault("CreateWorkItem", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fault("CreateWorkItem", err)
	}

	out := *item
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	logging.Store("Created %s %d (%s) in project %d", item.Kind, id, item.Title, item.ProjectID)
	return &out, nil
}

// GetWorkItem loads a work item by id, including soft-deleted rows. A
// missing id returns (nil, nil).
func (s *Store) GetWorkItem(id int64) (*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := s.getWorkItem(s.db, id)
	if err != nil {
		var fault *types.StorageFault
		if errors.As(err, &fault) && errors.Is(fault.Err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func (s *Store) getWorkItem(q querier, id int64) (*types.WorkItem, error) {
	item, err := scanWorkItem(q.QueryRow(
		`SELECT id, project_id, kind, title, description, priority, status, parent_id,
		        epic_ids, dependencies, created_at, updated_at, is_deleted
		 FROM work_items WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fault("GetWorkItem", fmt.Errorf("work item %d: %w", id, sql.ErrNoRows))
	}
	if err != nil {
		return nil, fault("GetWorkItem", err)
	}
	return item, nil
}

// ListWorkItems lists items of one kind in a project, excluding
// soft-deleted rows unless opted in.
func (s *Store) ListWorkItems(projectID int64, kind types.WorkItemKind, includeDeleted bool) ([]*types.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listWorkItems(s.db, projectID, kind, includeDeleted)
}

func (s *Store) listWorkItems(q querier, projectID int64, kind types.WorkItemKind, includeDeleted bool) ([]*types.WorkItem, error) {
	query := `SELECT id, project_id, kind, title, description, priority, status, parent_id,
	                 epic_ids, dependencies, created_at, updated_at, is_deleted
	          FROM work_items WHERE project_id = ? AND kind = ?`
	if !includeDeleted {
		query += ` AND is_deleted = 0`
	}
	query += ` ORDER BY priority, id`

	rows, err := q.Query(query, projectID, string(kind))
	if err != nil {
		return nil, fault("ListWorkItems", err)
	}
	defer rows.Close()

	var out []*types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fault("ListWorkItems", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("ListWorkItems", err)
	}
	return out, nil
}

// workItemUpdateWhitelist maps accepted update fields to columns. Fields
// outside the whitelist are ignored, not errors. Status, dependencies and
// epic_ids are handled separately because they carry invariants.
var workItemUpdateWhitelist = map[string]string{
	"title":       "title",
	"description": "description",
	"priority":    "priority",
	"parent_id":   "parent_id",
}

// UpdateWorkItem applies whitelisted fields. Two invariants are enforced
// here: an item may not move to RUNNING while any dependency is not
// COMPLETED, and a dependency update may not introduce a cycle.
func (s *Store) UpdateWorkItem(id int64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx("UpdateWorkItem", func(tx *sql.Tx) error {
		item, err := s.getWorkItem(tx, id)
		if err != nil {
			return err
		}

		set, args := buildUpdate(workItemUpdateWhitelist, updates)

		if raw, ok := updates["status"]; ok {
			status, err := asStatus(raw)
			if err != nil {
				return err
			}
			if status == types.StatusRunning {
				if err := s.checkDepsCompleted(tx, item); err != nil {
					return err
				}
			}
			if set != "" {
				set += ", "
			}
			set += "status = ?"
			args = append(args, string(status))
		}

		if raw, ok := updates["dependencies"]; ok {
			deps, err := asIDSlice(raw)
			if err != nil {
				return fmt.Errorf("dependencies: %w", err)
			}
			if err := s.checkAcyclic(tx, item, deps); err != nil {
				return err
			}
			encoded, err := json.Marshal(emptyIfNil(deps))
			if err != nil {
				return err
			}
			if set != "" {
				set += ", "
			}
			set += "dependencies = ?"
			args = append(args, string(encoded))
		}

		if raw, ok := updates["epic_ids"]; ok {
			ids, err := asIDSlice(raw)
			if err != nil {
				return fmt.Errorf("epic_ids: %w", err)
			}
			encoded, err := json.Marshal(emptyIfNil(ids))
			if err != nil {
				return err
			}
			if set != "" {
				set += ", "
			}
			set += "epic_ids = ?"
			args = append(args, string(encoded))
		}

		if set == "" {
			return nil
		}
		args = append(args, id)
		_, err = tx.Exec(`UPDATE work_items SET `+set+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, args...)
		return err
	})
}

// checkDepsCompleted verifies every dependency of the item is COMPLETED.
func (s *Store) checkDepsCompleted(tx *sql.Tx, item *types.WorkItem) error {
	for _, depID := range item.Dependencies {
		dep, err := s.getWorkItem(tx, depID)
		if err != nil {
			return err
		}
		if dep.Status != types.StatusCompleted {
			return fmt.Errorf("%s %d cannot run: dependency %d is %s", item.Kind, item.ID, depID, dep.Status)
		}
	}
	return nil
}

// checkAcyclic rejects a dependency set that would create a cycle within
// the item's kind. DFS from each proposed dependency looking for a path
// back to the item.
func (s *Store) checkAcyclic(tx *sql.Tx, item *types.WorkItem, newDeps []int64) error {
	visited := map[int64]bool{}
	var visit func(id int64) error
	visit = func(id int64) error {
		if id == item.ID {
			return fmt.Errorf("circular dependency: %s %d reaches itself", item.Kind, item.ID)
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		node, err := s.getWorkItem(tx, id)
		if err != nil {
			return err
		}
		for _, next := range node.Dependencies {
			if err := visit(next); err != nil {
				return err
			}
		}
		return nil
	}
	for _, dep := range newDeps {
		if dep == item.ID {
			return fmt.Errorf("circular dependency: %s %d depends on itself", item.Kind, item.ID)
		}
		if err := visit(dep); err != nil {
			return err
		}
	}
	return nil
}

// DeleteWorkItem deletes an item and every transitive child under it in
// one transaction, children first. Soft by default; hard delete removes
// the rows entirely.
func (s *Store) DeleteWorkItem(id int64, soft bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx("DeleteWorkItem", func(tx *sql.Tx) error {
		if _, err := s.getWorkItem(tx, id); err != nil {
			return err
		}

		var ids []int64
		if err := s.gatherSubtree(tx, id, &ids); err != nil {
			return err
		}
		for _, target := range ids {
			var err error
			if soft {
				_, err = tx.Exec(
					`UPDATE work_items SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, target)
			} else {
				_, err = tx.Exec(`DELETE FROM work_items WHERE id = ?`, target)
			}
			if err != nil {
				return fmt.Errorf("delete item %d: %w", target, err)
			}
		}
		logging.Store("Deleted work item %d with %d descendant(s)", id, len(ids)-1)
		return nil
	})
}

// gatherSubtree appends the subtree rooted at id in post-order, so every
// child precedes its parent in the delete sequence.
func (s *Store) gatherSubtree(tx *sql.Tx, id int64, out *[]int64) error {
	rows, err := tx.Query(`SELECT id FROM work_items WHERE parent_id = ?`, id)
	if err != nil {
		return err
	}
	var children []int64
	for rows.Next() {
		var child int64
		if err := rows.Scan(&child); err != nil {
			rows.Close()
			return err
		}
		children = append(children, child)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, child := range children {
		if err := s.gatherSubtree(tx, child, out); err != nil {
			return err
		}
	}
	*out = append(*out, id)
	return nil
}

// DeleteAllOf soft-deletes every live item of the given kinds in the
// project inside one transaction, dependents first. Kinds are reordered
// to the cascade order (subtasks, tasks, stories, epics, milestones last)
// regardless of the order passed in. On failure the whole transaction
// rolls back and the returned map carries the per-tier counts staged
// before the failure.
func (s *Store) DeleteAllOf(projectID int64, kinds []types.WorkItemKind) (map[types.WorkItemKind]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	requested := map[types.WorkItemKind]bool{}
	for _, k := range kinds {
		requested[k] = true
	}

	ordered := make([]types.WorkItemKind, 0, len(kinds))
	for _, k := range types.CascadeOrder {
		if requested[k] {
			ordered = append(ordered, k)
		}
	}
	if requested[types.KindMilestone] {
		ordered = append(ordered, types.KindMilestone)
	}

	counts := map[types.WorkItemKind]int{}
	err := s.inTx("DeleteAllOf", func(tx *sql.Tx) error {
		for _, kind := range ordered {
			var n int
			if err := tx.QueryRow(
				`SELECT COUNT(*) FROM work_items WHERE project_id = ? AND kind = ? AND is_deleted = 0`,
				projectID, string(kind),
			).Scan(&n); err != nil {
				return fmt.Errorf("count %s: %w", kind, err)
			}
			if _, err := tx.Exec(
				`UPDATE work_items SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP
				 WHERE project_id = ? AND kind = ? AND is_deleted = 0`,
				projectID, string(kind),
			); err != nil {
				return fmt.Errorf("delete %s tier: %w", kind, err)
			}
			counts[kind] = n
		}
		return nil
	})
	if err != nil {
		return counts, err
	}

	logging.Store("Bulk-deleted in project %d: %v", projectID, counts)
	return counts, nil
}

// CountOf counts live items of one kind in a project.
func (s *Store) CountOf(projectID int64, kind types.WorkItemKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM work_items WHERE project_id = ? AND kind = ? AND is_deleted = 0`,
		projectID, string(kind),
	).Scan(&n)
	if err != nil {
		return 0, fault("CountOf", err)
	}
	return n, nil
}

func scanWorkItem(row rowScanner) (*types.WorkItem, error) {
	var item types.WorkItem
	var kind, status, epicIDs, deps string
	var parentID sql.NullInt64
	var deleted int
	err := row.Scan(&item.ID, &item.ProjectID, &kind, &item.Title, &item.Description,
		&item.Priority, &status, &parentID, &epicIDs, &deps,
		&item.CreatedAt, &item.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	item.Kind = types.WorkItemKind(kind)
	item.Status = types.WorkItemStatus(status)
	if parentID.Valid {
		item.ParentID = &parentID.Int64
	}
	if err := json.Unmarshal([]byte(epicIDs), &item.EpicIDs); err != nil {
		return nil, fmt.Errorf("corrupt epic_ids on item %d: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(deps), &item.Dependencies); err != nil {
		return nil, fmt.Errorf("corrupt dependencies on item %d: %w", item.ID, err)
	}
	item.IsDeleted = deleted != 0
	return &item, nil
}

func asStatus(raw any) (types.WorkItemStatus, error) {
	switch v := raw.(type) {
	case types.WorkItemStatus:
		return v, nil
	case string:
		return types.WorkItemStatus(v), nil
	}
	return "", fmt.Errorf("status: expected string, got %T", raw)
}

func asIDSlice(raw any) ([]int64, error) {
	switch v := raw.(type) {
	case []int64:
		return v, nil
	case []int:
		out := make([]int64, len(v))
		for i, n := range v {
			out[i] = int64(n)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected id slice, got %T", raw)
}

func emptyIfNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
