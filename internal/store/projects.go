package store

import (
	"database/sql"
	"fmt"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// CreateProject inserts a new ACTIVE project.
func (s *Store) CreateProject(name, workingDirectory string) (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" || name == types.AllSentinel {
		return nil, fault("CreateProject", fmt.Errorf("invalid project name %q", name))
	}

	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO projects (name, working_directory, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name, workingDirectory, string(types.ProjectActive), now, now,
	)
	if err != nil {
		return nil, fault("CreateProject", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fault("CreateProject", err)
	}

	logging.Store("Created project %d (%s)", id, name)
	return &types.Project{
		ID:               id,
		Name:             name,
		WorkingDirectory: workingDirectory,
		Status:           types.ProjectActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// GetProject loads a project by id, including soft-deleted rows.
func (s *Store) GetProject(id int64) (*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return scanProject(s.db.QueryRow(
		`SELECT id, name, working_directory, status, created_at, updated_at, is_deleted
		 FROM projects WHERE id = ?`, id))
}

// ListProjects lists projects, excluding soft-deleted rows unless opted in.
func (s *Store) ListProjects(includeDeleted bool) ([]*types.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, name, working_directory, status, created_at, updated_at, is_deleted
	          FROM projects`
	if !includeDeleted {
		query += ` WHERE is_deleted = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fault("ListProjects", err)
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("ListProjects", err)
	}
	return out, nil
}

// projectUpdateWhitelist maps accepted update fields to their columns.
var projectUpdateWhitelist = map[string]string{
	"name":              "name",
	"working_directory": "working_directory",
	"status":            "status",
}

// UpdateProject applies whitelisted fields; unknown fields are ignored.
func (s *Store) UpdateProject(id int64, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, args := buildUpdate(projectUpdateWhitelist, updates)
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := s.db.Exec(
		`UPDATE projects SET `+set+`, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, args...)
	if err != nil {
		return fault("UpdateProject", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault("UpdateProject", fmt.Errorf("project %d not found", id))
	}
	return nil
}

// SoftDeleteProject marks a project deleted. It refuses while any live
// work item still references the project.
func (s *Store) SoftDeleteProject(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx("SoftDeleteProject", func(tx *sql.Tx) error {
		var live int
		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM work_items WHERE project_id = ? AND is_deleted = 0`, id,
		).Scan(&live); err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("project %d has %d live work items", id, live)
		}
		res, err := tx.Exec(
			`UPDATE projects SET is_deleted = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("project %d not found", id)
		}
		logging.Store("Soft-deleted project %d", id)
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var p types.Project
	var status string
	var deleted int
	err := row.Scan(&p.ID, &p.Name, &p.WorkingDirectory, &status, &p.CreatedAt, &p.UpdatedAt, &deleted)
	if err == sql.ErrNoRows {
		return nil, fault("GetProject", fmt.Errorf("not found"))
	}
	if err != nil {
		return nil, fault("GetProject", err)
	}
	p.Status = types.ProjectStatus(status)
	p.IsDeleted = deleted != 0
	return &p, nil
}

// buildUpdate assembles "col = ?, col = ?" from the whitelisted subset of
// updates. Unknown keys are skipped silently.
func buildUpdate(whitelist map[string]string, updates map[string]any) (string, []any) {
	set := ""
	var args []any
	for field, col := range whitelist {
		v, ok := updates[field]
		if !ok {
			continue
		}
		if set != "" {
			set += ", "
		}
		set += col + " = ?"
		args = append(args, v)
	}
	return set, args
}
