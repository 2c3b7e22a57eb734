package store

import (
	"path/filepath"
	"testing"

	"overseer/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "overseer.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestProject(t *testing.T, st *Store) *types.Project {
	t.Helper()
	proj, err := st.CreateProject("demo", "/tmp/demo")
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	return proj
}

func TestProjectLifecycle(t *testing.T) {
	st := newTestStore(t)

	proj := newTestProject(t, st)
	if proj.ID == 0 {
		t.Fatal("Expected a project id")
	}
	if proj.Status != types.ProjectActive {
		t.Errorf("Expected ACTIVE, got %s", proj.Status)
	}

	got, err := st.GetProject(proj.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Name != "demo" || got.WorkingDirectory != "/tmp/demo" {
		t.Errorf("Round trip mismatch: %+v", got)
	}

	if err := st.UpdateProject(proj.ID, map[string]any{"name": "renamed"}); err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}
	got, _ = st.GetProject(proj.ID)
	if got.Name != "renamed" {
		t.Errorf("Expected renamed, got %s", got.Name)
	}

	if err := st.SoftDeleteProject(proj.ID); err != nil {
		t.Fatalf("SoftDeleteProject failed: %v", err)
	}
	projects, err := st.ListProjects(false)
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 0 {
		t.Errorf("Expected no live projects, got %d", len(projects))
	}
	projects, _ = st.ListProjects(true)
	if len(projects) != 1 {
		t.Errorf("Expected deleted project in full list, got %d", len(projects))
	}
}

func TestSoftDeleteProjectRefusedWithLiveItems(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	if _, err := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindTask, Title: "keepalive",
	}); err != nil {
		t.Fatalf("CreateWorkItem failed: %v", err)
	}

	if err := st.SoftDeleteProject(proj.ID); err == nil {
		t.Fatal("Expected delete of non-empty project to fail")
	}
}

func TestWorkItemDefaultsAndValidation(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	item, err := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindTask, Title: "first",
	})
	if err != nil {
		t.Fatalf("CreateWorkItem failed: %v", err)
	}
	if item.Priority != 5 {
		t.Errorf("Expected default priority 5, got %d", item.Priority)
	}
	if item.Status != types.StatusPending {
		t.Errorf("Expected PENDING, got %s", item.Status)
	}

	cases := []*types.WorkItem{
		{ProjectID: proj.ID, Kind: types.KindTask, Title: ""},
		{ProjectID: proj.ID, Kind: types.KindTask, Title: types.AllSentinel},
		{ProjectID: proj.ID, Kind: "sprint", Title: "x"},
		{ProjectID: proj.ID, Kind: types.KindTask, Title: "x", Priority: 11},
	}
	for i, bad := range cases {
		if _, err := st.CreateWorkItem(bad); err == nil {
			t.Errorf("Case %d: expected rejection", i)
		}
	}
}

func TestSoftDeleteExcludedFromLists(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	item, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "t"})
	if err := st.DeleteWorkItem(item.ID, true); err != nil {
		t.Fatalf("DeleteWorkItem failed: %v", err)
	}

	live, err := st.ListWorkItems(proj.ID, types.KindTask, false)
	if err != nil {
		t.Fatalf("ListWorkItems failed: %v", err)
	}
	for _, it := range live {
		if it.ID == item.ID {
			t.Error("Soft-deleted item still listed")
		}
	}

	all, _ := st.ListWorkItems(proj.ID, types.KindTask, true)
	found := false
	for _, it := range all {
		if it.ID == item.ID {
			found = true
		}
	}
	if !found {
		t.Error("Soft-deleted item missing from opt-in list")
	}
}

func TestDeleteWorkItemCascadesToDescendants(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	epic, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindEpic, Title: "e"})
	story, _ := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindStory, Title: "s", ParentID: &epic.ID,
	})
	task, _ := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindTask, Title: "t", ParentID: &story.ID,
	})
	other, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "unrelated"})

	if err := st.DeleteWorkItem(epic.ID, true); err != nil {
		t.Fatalf("DeleteWorkItem failed: %v", err)
	}

	for _, id := range []int64{epic.ID, story.ID, task.ID} {
		got, err := st.GetWorkItem(id)
		if err != nil {
			t.Fatalf("GetWorkItem(%d) failed: %v", id, err)
		}
		if !got.IsDeleted {
			t.Errorf("Item %d (%s) survived the parent delete", id, got.Kind)
		}
	}

	kept, err := st.GetWorkItem(other.ID)
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if kept.IsDeleted {
		t.Error("Unrelated item was deleted by the cascade")
	}

	if err := st.DeleteWorkItem(epic.ID, false); err != nil {
		t.Fatalf("Hard delete failed: %v", err)
	}
	gone, err := st.GetWorkItem(task.ID)
	if err != nil {
		t.Fatalf("GetWorkItem failed: %v", err)
	}
	if gone != nil {
		t.Error("Hard delete must remove descendant rows")
	}
}

func TestUpdateWorkItemStatusRequiresDeps(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	dep, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "dep"})
	item, _ := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindTask, Title: "main", Dependencies: []int64{dep.ID},
	})

	if err := st.UpdateWorkItem(item.ID, map[string]any{"status": "RUNNING"}); err == nil {
		t.Fatal("Expected RUNNING with incomplete deps to fail")
	}

	if err := st.UpdateWorkItem(dep.ID, map[string]any{"status": "COMPLETED"}); err != nil {
		t.Fatalf("Completing dep failed: %v", err)
	}
	if err := st.UpdateWorkItem(item.ID, map[string]any{"status": "RUNNING"}); err != nil {
		t.Fatalf("RUNNING with complete deps failed: %v", err)
	}
}

func TestUpdateWorkItemRejectsDependencyCycle(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	a, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "a"})
	b, _ := st.CreateWorkItem(&types.WorkItem{
		ProjectID: proj.ID, Kind: types.KindTask, Title: "b", Dependencies: []int64{a.ID},
	})

	if err := st.UpdateWorkItem(a.ID, map[string]any{"dependencies": []int64{b.ID}}); err == nil {
		t.Fatal("Expected circular dependency rejection")
	}
}

func TestDeleteAllOfCascadeOrderAndCounts(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	for i := 0; i < 2; i++ {
		st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindEpic, Title: "e"})
	}
	for i := 0; i < 3; i++ {
		st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindStory, Title: "s"})
	}
	for i := 0; i < 4; i++ {
		st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "t"})
	}

	counts, err := st.DeleteAllOf(proj.ID, []types.WorkItemKind{
		types.KindEpic, types.KindStory, types.KindTask,
	})
	if err != nil {
		t.Fatalf("DeleteAllOf failed: %v", err)
	}
	if counts[types.KindEpic] != 2 || counts[types.KindStory] != 3 || counts[types.KindTask] != 4 {
		t.Errorf("Unexpected counts: %v", counts)
	}

	for _, kind := range []types.WorkItemKind{types.KindEpic, types.KindStory, types.KindTask} {
		n, _ := st.CountOf(proj.ID, kind)
		if n != 0 {
			t.Errorf("Expected 0 live %ss after bulk delete, got %d", kind, n)
		}
	}
}

func TestSingleActiveSessionPerScope(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	first := &types.Session{ID: "sess-1", ProjectID: proj.ID, Status: types.SessionActive}
	if err := st.CreateSessionRecord(first); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	second := &types.Session{ID: "sess-2", ProjectID: proj.ID, Status: types.SessionActive}
	if err := st.CreateSessionRecord(second); err == nil {
		t.Fatal("Expected second ACTIVE session for same scope to fail")
	}

	if err := st.CompleteSessionRecord("sess-1"); err != nil {
		t.Fatalf("CompleteSessionRecord failed: %v", err)
	}
	if err := st.CreateSessionRecord(second); err != nil {
		t.Fatalf("ACTIVE session after completing predecessor failed: %v", err)
	}
}

func TestTokenLedgerExcludesCacheReads(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	sess := &types.Session{ID: "sess-1", ProjectID: proj.ID, Status: types.SessionActive}
	if err := st.CreateSessionRecord(sess); err != nil {
		t.Fatalf("CreateSessionRecord failed: %v", err)
	}

	entry := &types.TokenLedgerEntry{
		SessionID:           "sess-1",
		InputTokens:         100,
		CacheCreationTokens: 50,
		CacheReadTokens:     10000,
		OutputTokens:        25,
		TotalTokens:         999999, // caller value is ignored
		Turns:               3,
	}
	if err := st.RecordTokenUsage(entry); err != nil {
		t.Fatalf("RecordTokenUsage failed: %v", err)
	}
	if entry.TotalTokens != 10175 {
		t.Errorf("Store must derive the total from the components, got %d", entry.TotalTokens)
	}

	used, err := st.GetSessionTokenUsage("sess-1")
	if err != nil {
		t.Fatalf("GetSessionTokenUsage failed: %v", err)
	}
	if used != 175 {
		t.Errorf("Expected 175 window tokens, got %d", used)
	}

	got, _ := st.GetSessionRecord("sess-1")
	if got.TotalTokens != 175 {
		t.Errorf("Expected session total 175, got %d", got.TotalTokens)
	}
	if got.TotalTurns != 3 {
		t.Errorf("Expected 3 session turns, got %d", got.TotalTurns)
	}
}

func TestSessionSummaryRoundTrip(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	sess := &types.Session{ID: "sess-1", ProjectID: proj.ID, Status: types.SessionActive}
	st.CreateSessionRecord(sess)

	if err := st.SaveSessionSummary("sess-1", "did the thing"); err != nil {
		t.Fatalf("SaveSessionSummary failed: %v", err)
	}
	got, err := st.GetSessionRecord("sess-1")
	if err != nil {
		t.Fatalf("GetSessionRecord failed: %v", err)
	}
	if got.Summary != "did the thing" {
		t.Errorf("Summary round trip mismatch: %q", got.Summary)
	}
}

func TestMarkSessionRefreshed(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)

	st.CreateSessionRecord(&types.Session{ID: "sess-1", ProjectID: proj.ID, Status: types.SessionActive})
	if err := st.MarkSessionRefreshed("sess-1", "handing over"); err != nil {
		t.Fatalf("MarkSessionRefreshed failed: %v", err)
	}

	got, _ := st.GetSessionRecord("sess-1")
	if got.Status != types.SessionRefreshed {
		t.Errorf("Expected REFRESHED, got %s", got.Status)
	}
	if got.Summary != "handing over" || got.EndedAt == nil {
		t.Errorf("Refresh did not store summary/ended_at: %+v", got)
	}

	active, _ := st.ActiveSessionFor(proj.ID, nil)
	if active != nil {
		t.Error("Refreshed session still reported active")
	}
}

func TestInteractionsOrderedByIteration(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)
	task, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "t"})

	for i := 1; i <= 3; i++ {
		if _, err := st.AppendInteraction(&types.Interaction{
			ProjectID: proj.ID, TaskID: task.ID, SessionID: "s", Iteration: i,
			Prompt: "p", Response: "r",
			Meta:   types.InteractionMeta{Quality: i * 10},
		}); err != nil {
			t.Fatalf("AppendInteraction failed: %v", err)
		}
	}

	got, err := st.ListInteractions(task.ID, 2)
	if err != nil {
		t.Fatalf("ListInteractions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 interactions, got %d", len(got))
	}
	if got[0].Iteration != 2 || got[1].Iteration != 3 {
		t.Errorf("Expected ascending tail [2 3], got [%d %d]", got[0].Iteration, got[1].Iteration)
	}
	if got[1].Meta.Quality != 30 {
		t.Errorf("Meta round trip mismatch: %+v", got[1].Meta)
	}
}

func TestBreakpointResolveOnce(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)
	task, _ := st.CreateWorkItem(&types.WorkItem{ProjectID: proj.ID, Kind: types.KindTask, Title: "t"})

	bp := &types.Breakpoint{TaskID: task.ID, Reason: types.ReasonLowConfidence}
	if _, err := st.CreateBreakpoint(bp); err != nil {
		t.Fatalf("CreateBreakpoint failed: %v", err)
	}

	open, err := st.UnresolvedBreakpoint(task.ID)
	if err != nil {
		t.Fatalf("UnresolvedBreakpoint failed: %v", err)
	}
	if open == nil || open.ID != bp.ID {
		t.Fatalf("Expected unresolved breakpoint %d, got %+v", bp.ID, open)
	}

	if err := st.ResolveBreakpoint(bp.ID, types.ResolveProceed); err != nil {
		t.Fatalf("ResolveBreakpoint failed: %v", err)
	}
	if err := st.ResolveBreakpoint(bp.ID, types.ResolveAbort); err == nil {
		t.Fatal("Expected second resolve to fail")
	}

	open, _ = st.UnresolvedBreakpoint(task.ID)
	if open != nil {
		t.Error("Resolved breakpoint still reported unresolved")
	}
}

func TestCheckpointRegisterIdempotent(t *testing.T) {
	st := newTestStore(t)
	proj := newTestProject(t, st)
	st.CreateSessionRecord(&types.Session{ID: "sess-1", ProjectID: proj.ID, Status: types.SessionActive})

	cp := &types.Checkpoint{
		ID: "cp-1", SessionID: "sess-1", Trigger: types.TriggerManual,
		Artifact: []byte(`{"v":1}`), LastInteractionID: 7,
	}
	if err := st.RegisterCheckpoint(cp); err != nil {
		t.Fatalf("RegisterCheckpoint failed: %v", err)
	}
	// Re-registering the same id must not error or duplicate.
	if err := st.RegisterCheckpoint(cp); err != nil {
		t.Fatalf("Second RegisterCheckpoint failed: %v", err)
	}

	list, err := st.ListCheckpoints("sess-1")
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("Expected 1 checkpoint, got %d", len(list))
	}

	got, _ := st.GetCheckpoint("cp-1")
	if got == nil || got.LastInteractionID != 7 {
		t.Errorf("Checkpoint round trip mismatch: %+v", got)
	}
}
