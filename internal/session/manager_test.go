package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"overseer/internal/store"
	"overseer/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestProject(t *testing.T, st *store.Store) int64 {
	t.Helper()
	proj, err := st.CreateProject("demo", "/tmp/demo")
	if err != nil {
		t.Fatalf("Failed to create project: %v", err)
	}
	return proj.ID
}

// fixedModel returns a fixed reply for every prompt.
type fixedModel struct {
	reply string
}

func (m *fixedModel) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	return m.reply, nil
}

func (m *fixedModel) ContextWindow() int { return 32_000 }

func TestStartReusesActiveSession(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	first, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	second, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("Expected the ACTIVE session reused, got %s and %s", first.ID, second.ID)
	}
}

func TestStartSeparateMilestoneScopes(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	plain, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatal(err)
	}
	ms := int64(7)
	scoped, err := mgr.Start(projectID, &ms)
	if err != nil {
		t.Fatal(err)
	}
	if plain.ID == scoped.ID {
		t.Error("Different milestone scopes must get different sessions")
	}
}

func TestEndWritesSummaryAndCompletes(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	s, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}

	got, err := st.GetSessionRecord(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.SessionCompleted {
		t.Errorf("Expected COMPLETED, got %s", got.Status)
	}
	if got.Summary == "" {
		t.Error("Ended session must carry a summary")
	}
}

func TestEndUsesModelSummary(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, &fixedModel{reply: "Wired the config loader; next: tests."})

	s, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.End(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	got, err := st.GetSessionRecord(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "Wired the config loader; next: tests." {
		t.Errorf("Model summary not saved: %q", got.Summary)
	}
}

func TestRefreshOpensSuccessorOnSameMilestone(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	ms := int64(3)
	old, err := mgr.Start(projectID, &ms)
	if err != nil {
		t.Fatal(err)
	}
	next, summary, err := mgr.Refresh(context.Background(), old.ID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if summary == "" {
		t.Error("Refresh must hand back the summary for the next prompt")
	}
	if next.ID == old.ID {
		t.Fatal("Refresh must open a new session")
	}
	if next.MilestoneID == nil || *next.MilestoneID != ms {
		t.Errorf("Successor must keep the milestone scope: %v", next.MilestoneID)
	}

	retired, err := st.GetSessionRecord(old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if retired.Status != types.SessionRefreshed {
		t.Errorf("Old session must be REFRESHED, got %s", retired.Status)
	}

	active, err := st.ActiveSessionFor(projectID, &ms)
	if err != nil {
		t.Fatal(err)
	}
	if active == nil || active.ID != next.ID {
		t.Errorf("Successor must be the ACTIVE session: %+v", active)
	}
}

func TestRecordUsageExcludesCacheReads(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	s, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = mgr.RecordUsage(s.ID, 1, &types.AgentResult{
		InputTokens:         100,
		CacheCreationTokens: 50,
		CacheReadTokens:     10_000,
		OutputTokens:        25,
	})
	if err != nil {
		t.Fatalf("RecordUsage failed: %v", err)
	}

	used, err := mgr.Usage(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if used != 175 {
		t.Errorf("Cache reads must not count toward the window: expected 175, got %d", used)
	}
}

func TestRecordUsageTracksTurns(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	s, err := mgr.Start(projectID, nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		err := mgr.RecordUsage(s.ID, 1, &types.AgentResult{
			InputTokens:  100,
			OutputTokens: 25,
			TurnsUsed:    2,
		})
		if err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}

	got, err := st.GetSessionRecord(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalTurns != 4 {
		t.Errorf("Expected 4 accumulated turns, got %d", got.TotalTurns)
	}

	if err := mgr.End(context.Background(), s.ID); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	ended, err := st.GetSessionRecord(s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ended.Summary, "over 4 turns") {
		t.Errorf("Digest must report the accumulated turns: %q", ended.Summary)
	}
}

func TestBuildMilestoneContext(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mgr := NewManager(st, nil)

	milestone, err := st.CreateWorkItem(&types.WorkItem{
		ProjectID:   projectID,
		Kind:        types.KindMilestone,
		Title:       "v1 cut",
		Description: "Everything needed for the first release.",
	})
	if err != nil {
		t.Fatal(err)
	}

	prior, err := mgr.Start(projectID, &milestone.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSessionSummary(prior.ID, "Finished the storage layer."); err != nil {
		t.Fatal(err)
	}
	if err := st.CompleteSessionRecord(prior.ID); err != nil {
		t.Fatal(err)
	}

	ctx, err := mgr.BuildMilestoneContext(projectID, &milestone.ID)
	if err != nil {
		t.Fatalf("BuildMilestoneContext failed: %v", err)
	}
	if !strings.Contains(ctx, "# Project: demo") {
		t.Errorf("Context must open with the project header: %q", ctx)
	}
	if !strings.Contains(ctx, "Finished the storage layer.") {
		t.Error("Prior session summaries must be included")
	}
	if !strings.Contains(ctx, "v1 cut") || !strings.Contains(ctx, "first release") {
		t.Error("Milestone title and description must be included")
	}
}
