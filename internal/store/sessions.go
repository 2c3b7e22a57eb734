package store

import (
	"database/sql"
	"fmt"
	"time"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// CreateSessionRecord inserts a new session row. Creating a second
// ACTIVE session for the same (project, milestone) is rejected; refresh
// marks the predecessor REFRESHED first.
func (s *Store) CreateSessionRecord(sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		return fault("CreateSessionRecord", fmt.Errorf("session id required"))
	}
	if sess.Status == "" {
		sess.Status = types.SessionActive
	}
	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}

	return s.inTx("CreateSessionRecord", func(tx *sql.Tx) error {
		if sess.Status == types.SessionActive {
			var n int
			if err := tx.QueryRow(
				`SELECT COUNT(*) FROM sessions
				 WHERE project_id = ? AND status = ?
				   AND ((milestone_id IS NULL AND ? IS NULL) OR milestone_id = ?)`,
				sess.ProjectID, string(types.SessionActive), sess.MilestoneID, sess.MilestoneID,
			).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("an ACTIVE session already exists for project %d milestone %v",
					sess.ProjectID, sess.MilestoneID)
			}
		}
		_, err := tx.Exec(
			`INSERT INTO sessions (id, project_id, milestone_id, started_at, status, total_tokens, total_turns, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.ProjectID, sess.MilestoneID, sess.StartedAt,
			string(sess.Status), sess.TotalTokens, sess.TotalTurns, sess.Summary,
		)
		return err
	})
}

// GetSessionRecord loads a session by id.
func (s *Store) GetSessionRecord(id string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := scanSession(s.db.QueryRow(sessionSelect+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fault("GetSessionRecord", fmt.Errorf("session %s not found", id))
	}
	if err != nil {
		return nil, fault("GetSessionRecord", err)
	}
	return sess, nil
}

// CompleteSessionRecord marks a session COMPLETED with an end time.
func (s *Store) CompleteSessionRecord(id string) error {
	return s.setSessionStatus("CompleteSessionRecord", id, types.SessionCompleted, nil)
}

// SaveSessionSummary stores the summary text on the session row.
func (s *Store) SaveSessionSummary(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE sessions SET summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return fault("SaveSessionSummary", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault("SaveSessionSummary", fmt.Errorf("session %s not found", id))
	}
	return nil
}

// MarkSessionRefreshed stores the bridge summary and moves the session to
// REFRESHED with an end time, in one statement.
func (s *Store) MarkSessionRefreshed(id, summary string) error {
	return s.setSessionStatus("MarkSessionRefreshed", id, types.SessionRefreshed, &summary)
}

func (s *Store) setSessionStatus(op, id string, status types.SessionStatus, summary *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var res sql.Result
	var err error
	if summary != nil {
		res, err = s.db.Exec(
			`UPDATE sessions SET status = ?, ended_at = ?, summary = ? WHERE id = ?`,
			string(status), now, *summary, id)
	} else {
		res, err = s.db.Exec(
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fault(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault(op, fmt.Errorf("session %s not found", id))
	}
	logging.Session("Session %s -> %s", id, status)
	return nil
}

// ActiveSessionFor returns the single ACTIVE session for the project and
// milestone, or nil when none exists.
func (s *Store) ActiveSessionFor(projectID int64, milestoneID *int64) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := scanSession(s.db.QueryRow(
		sessionSelect+` WHERE project_id = ? AND status = ?
		 AND ((milestone_id IS NULL AND ? IS NULL) OR milestone_id = ?)`,
		projectID, string(types.SessionActive), milestoneID, milestoneID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fault("ActiveSessionFor", err)
	}
	return sess, nil
}

// ListSessionsForMilestone lists all sessions for the project/milestone
// pair, oldest first.
func (s *Store) ListSessionsForMilestone(projectID int64, milestoneID *int64) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		sessionSelect+` WHERE project_id = ?
		 AND ((milestone_id IS NULL AND ? IS NULL) OR milestone_id = ?)
		 ORDER BY started_at`,
		projectID, milestoneID, milestoneID)
	if err != nil {
		return nil, fault("ListSessionsForMilestone", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fault("ListSessionsForMilestone", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fault("ListSessionsForMilestone", err)
	}
	return out, nil
}

// RecordTokenUsage appends a ledger entry and bumps the session totals in
// the same transaction, so GetSessionTokenUsage never reads a stale sum.
func (s *Store) RecordTokenUsage(e *types.TokenLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	// The total is derived here, never trusted from the caller.
	e.TotalTokens = e.InputTokens + e.CacheCreationTokens + e.CacheReadTokens + e.OutputTokens

	return s.inTx("RecordTokenUsage", func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO token_ledger
			 (session_id, task_id, timestamp, input_tokens, cache_creation_tokens, cache_read_tokens, output_tokens, total_tokens, turns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.SessionID, e.TaskID, e.Timestamp, e.InputTokens, e.CacheCreationTokens,
			e.CacheReadTokens, e.OutputTokens, e.TotalTokens, e.Turns,
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`UPDATE sessions SET total_tokens = total_tokens + ?, total_turns = total_turns + ? WHERE id = ?`,
			e.WindowTokens(), e.Turns, e.SessionID)
		return err
	})
}

// GetSessionTokenUsage sums the window-relevant tokens for a session.
// Cache reads do not count toward the window.
func (s *Store) GetSessionTokenUsage(sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(input_tokens + cache_creation_tokens + output_tokens)
		 FROM token_ledger WHERE session_id = ?`, sessionID,
	).Scan(&sum)
	if err != nil {
		return 0, fault("GetSessionTokenUsage", err)
	}
	if !sum.Valid {
		return 0, nil
	}
	return sum.Int64, nil
}

const sessionSelect = `SELECT id, project_id, milestone_id, started_at, ended_at, status,
	total_tokens, total_turns, summary FROM sessions`

func scanSession(row rowScanner) (*types.Session, error) {
	var sess types.Session
	var milestoneID sql.NullInt64
	var endedAt sql.NullTime
	var status string
	err := row.Scan(&sess.ID, &sess.ProjectID, &milestoneID, &sess.StartedAt, &endedAt,
		&status, &sess.TotalTokens, &sess.TotalTurns, &sess.Summary)
	if err != nil {
		return nil, err
	}
	if milestoneID.Valid {
		sess.MilestoneID = &milestoneID.Int64
	}
	if endedAt.Valid {
		sess.EndedAt = &endedAt.Time
	}
	sess.Status = types.SessionStatus(status)
	return &sess, nil
}
