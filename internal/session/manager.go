// Package session owns milestone session lifecycle: start, end with a
// model-written summary, and mid-task refresh when the context window
// runs hot. All persistence goes through the StatePort.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// summaryTokenCap bounds the model summary length. Roughly 1200 tokens.
const summaryTokenCap = 1200

// Manager creates and retires milestone sessions and keeps the token
// ledger current.
type Manager struct {
	state types.StatePort
	model types.ModelPort // optional; fallback summaries are mechanical
}

// NewManager wires a Manager. model may be nil.
func NewManager(state types.StatePort, model types.ModelPort) *Manager {
	return &Manager{state: state, model: model}
}

// Start creates a new ACTIVE session for the project and milestone. The
// store enforces the single-ACTIVE rule; an existing ACTIVE session for
// the same scope is returned instead of erroring.
func (m *Manager) Start(projectID int64, milestoneID *int64) (*types.Session, error) {
	if existing, err := m.state.ActiveSessionFor(projectID, milestoneID); err != nil {
		return nil, err
	} else if existing != nil {
		logging.Session("Reusing active session %s for project %d", existing.ID, projectID)
		return existing, nil
	}

	s := &types.Session{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		MilestoneID: milestoneID,
		Status:      types.SessionActive,
	}
	if err := m.state.CreateSessionRecord(s); err != nil {
		return nil, err
	}
	logging.Session("Started session %s (project %d, milestone %v)", s.ID, projectID, deref(milestoneID))
	return s, nil
}

// End summarizes the session and marks it COMPLETED. The milestone link
// is not carried forward; a later run starts fresh.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	summary, err := m.summarize(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.state.SaveSessionSummary(sessionID, summary); err != nil {
		return err
	}
	if err := m.state.CompleteSessionRecord(sessionID); err != nil {
		return err
	}
	logging.Session("Completed session %s", sessionID)
	return nil
}

// Refresh retires the current session as REFRESHED and opens a successor
// on the same milestone. It returns the new session and the summary the
// orchestrator prepends to its next prompt.
func (m *Manager) Refresh(ctx context.Context, sessionID string) (*types.Session, string, error) {
	old, err := m.state.GetSessionRecord(sessionID)
	if err != nil {
		return nil, "", err
	}
	if old == nil {
		return nil, "", fmt.Errorf("failed to refresh session: %s not found", sessionID)
	}

	summary, err := m.summarize(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if err := m.state.MarkSessionRefreshed(sessionID, summary); err != nil {
		return nil, "", err
	}

	next := &types.Session{
		ID:          uuid.NewString(),
		ProjectID:   old.ProjectID,
		MilestoneID: old.MilestoneID,
		Status:      types.SessionActive,
	}
	if err := m.state.CreateSessionRecord(next); err != nil {
		return nil, "", err
	}
	logging.Session("Refreshed session %s -> %s", sessionID, next.ID)
	return next, summary, nil
}

// BuildMilestoneContext assembles the standing prompt header: project,
// previous milestone summaries, current milestone.
func (m *Manager) BuildMilestoneContext(projectID int64, milestoneID *int64) (string, error) {
	proj, err := m.state.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if proj == nil {
		return "", fmt.Errorf("failed to build context: project %d not found", projectID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Project: %s\n", proj.Name)
	if proj.WorkingDirectory != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", proj.WorkingDirectory)
	}

	prior, err := m.state.ListSessionsForMilestone(projectID, milestoneID)
	if err != nil {
		return "", err
	}
	for _, s := range prior {
		if s.Summary == "" || s.Status == types.SessionActive {
			continue
		}
		fmt.Fprintf(&b, "\n## Previous session summary\n%s\n", s.Summary)
	}

	if milestoneID != nil {
		ms, err := m.state.GetWorkItem(*milestoneID)
		if err != nil {
			return "", err
		}
		if ms != nil {
			fmt.Fprintf(&b, "\n## Current milestone: %s\n", ms.Title)
			if ms.Description != "" {
				fmt.Fprintf(&b, "%s\n", ms.Description)
			}
		}
	}
	return b.String(), nil
}

// RecordUsage appends an agent result to the token ledger. Cache reads
// are stored but never count toward the window totals.
func (m *Manager) RecordUsage(sessionID string, taskID int64, res *types.AgentResult) error {
	return m.state.RecordTokenUsage(&types.TokenLedgerEntry{
		SessionID:           sessionID,
		TaskID:              taskID,
		InputTokens:         res.InputTokens,
		CacheCreationTokens: res.CacheCreationTokens,
		CacheReadTokens:     res.CacheReadTokens,
		OutputTokens:        res.OutputTokens,
		Turns:               res.TurnsUsed,
	})
}

// Usage reports the authoritative used-token count for a session.
func (m *Manager) Usage(sessionID string) (int64, error) {
	return m.state.GetSessionTokenUsage(sessionID)
}

// summarize writes a content-only summary of what the session did. With
// a model it follows the accomplishments/decisions/state/issues/next
// structure; without one it degrades to a mechanical interaction digest.
func (m *Manager) summarize(ctx context.Context, sessionID string) (string, error) {
	s, err := m.state.GetSessionRecord(sessionID)
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", fmt.Errorf("failed to summarize: session %s not found", sessionID)
	}

	digest := fmt.Sprintf("Session used %d tokens over %d turns.", s.TotalTokens, s.TotalTurns)
	if m.model == nil {
		return digest, nil
	}

	prompt := fmt.Sprintf(`Summarize this work session in at most %d tokens. Cover only:
- what was accomplished
- key decisions
- current code state
- open issues
- next steps
Do not include internal deliberation or secrets.

%s`, summaryTokenCap, digest)

	out, err := m.model.Generate(ctx, prompt, summaryTokenCap, 0.2)
	if err != nil {
		logging.Get(logging.CategorySession).Warn("Summary model failed, using digest: %v", err)
		return digest, nil
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return digest, nil
	}
	return out, nil
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
