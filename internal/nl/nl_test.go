package nl

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"overseer/internal/config"
	"overseer/internal/store"
	"overseer/internal/types"
)

func testNLConfig() config.NLConfig {
	return config.NLConfig{
		ConfidenceThreshold:     0.7,
		ConfirmationTimeout:     60,
		BulkRequireConfirmation: true,
	}
}

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

func mustItem(t *testing.T, st *store.Store, projectID int64, kind types.WorkItemKind, title string) *types.WorkItem {
	t.Helper()
	item, err := st.CreateWorkItem(&types.WorkItem{ProjectID: projectID, Kind: kind, Title: title})
	if err != nil {
		t.Fatalf("Failed to create %s: %v", kind, err)
	}
	return item
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		input string
		want  Intent
	}{
		{"yes", IntentConfirmation},
		{"Proceed.", IntentConfirmation},
		{"no", IntentCancellation},
		{"nevermind", IntentCancellation},
		{"help", IntentHelp},
		{"create a new epic", IntentCommand},
		{"delete all tasks", IntentCommand},
		{"how many tasks are left", IntentQuery},
		{"the weather is nice", IntentConversation},
	}
	for _, tc := range cases {
		got, _ := classifyIntent(tc.input)
		if got != tc.want {
			t.Errorf("classifyIntent(%q) = %s, expected %s", tc.input, got, tc.want)
		}
	}

	// Whole-input matching only: a sentence starting with "no" is not a
	// cancellation.
	if got, _ := classifyIntent("no updates today"); got == IntentCancellation {
		t.Error("Sentence starting with 'no' must not read as a cancellation")
	}
}

func TestClassifyOperationPrecedence(t *testing.T) {
	cases := []struct {
		input string
		want  Operation
	}{
		{"set up a new task", OpCreate}, // create beats update's "set"
		{"delete the old epic", OpDelete},
		{"change the priority of task 4", OpUpdate},
		{"show task 12", OpRead}, // query verb with a concrete id
		{"list all tasks", OpQuery},
		{"how many stories are done", OpQuery},
	}
	for _, tc := range cases {
		got, conf := classifyOperation(tc.input)
		if got != tc.want {
			t.Errorf("classifyOperation(%q) = %s, expected %s", tc.input, got, tc.want)
		}
		if conf == 0 {
			t.Errorf("classifyOperation(%q) returned zero confidence", tc.input)
		}
	}

	if _, conf := classifyOperation("hello there"); conf != 0 {
		t.Error("No operation verb must yield zero confidence")
	}
}

func TestClassifyEntitiesMultiple(t *testing.T) {
	entities, conf := classifyEntities("delete all epics, stories and tasks")
	want := []EntityType{EntityEpic, EntityStory, EntityTask}
	if len(entities) != len(want) {
		t.Fatalf("Expected %v, got %v", want, entities)
	}
	for i := range want {
		if entities[i] != want[i] {
			t.Errorf("Entity %d: expected %s, got %s", i, want[i], entities[i])
		}
	}
	if conf != 0.95 {
		t.Errorf("Expected confidence 0.95, got %v", conf)
	}
}

func TestExtractIdentifier(t *testing.T) {
	id, conf := extractIdentifier("delete all tasks")
	if id.Kind != IdentAll || conf != 0.95 {
		t.Errorf("Bulk keyword: expected IdentAll@0.95, got %+v@%v", id, conf)
	}
	if id.Sentinel() != types.AllSentinel {
		t.Errorf("IdentAll must map to the sentinel, got %q", id.Sentinel())
	}

	id, _ = extractIdentifier("show task 12")
	if id.Kind != IdentID || id.ID != 12 {
		t.Errorf("Expected id 12, got %+v", id)
	}

	id, _ = extractIdentifier(`update the story "login page"`)
	if id.Kind != IdentTitle || id.Title != "login page" {
		t.Errorf("Expected quoted title, got %+v", id)
	}

	id, conf = extractIdentifier("list tasks")
	if id.Kind != IdentNone || conf != 0.8 {
		t.Errorf("Expected IdentNone@0.8, got %+v@%v", id, conf)
	}
}

func TestExtractParams(t *testing.T) {
	params, _, err := extractParams(`create a task "wire the loader" priority 8 status to pending`)
	if err != nil {
		t.Fatal(err)
	}
	if title, _ := params.GetString("title"); title != "wire the loader" {
		t.Errorf("Title not extracted: %v", title)
	}
	if pri, _ := params.GetInt("priority"); pri != 8 {
		t.Errorf("Priority not extracted: %v", pri)
	}
	if status, _ := params.GetString("status"); status != "PENDING" {
		t.Errorf("Status not normalized: %v", status)
	}
}

func TestExtractParamsRejectsExplicitNull(t *testing.T) {
	_, _, err := extractParams("update task 5 priority to null")
	var verr *types.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if verr.Stage != "parameter_extractor" || verr.Field != "priority" {
		t.Errorf("Error must name stage and field: %+v", verr)
	}
}

func TestValidateOperation(t *testing.T) {
	noTitle := &OperationContext{Operation: OpCreate, Entities: []EntityType{EntityTask}, Params: NewParams()}
	if _, _, err := validateOperation(noTitle); err == nil {
		t.Error("CREATE without a title must fail validation")
	}

	story := &OperationContext{Operation: OpCreate, Entities: []EntityType{EntityStory}, Params: NewParams()}
	story.Params.Set("title", "login page")
	conf, warnings, err := validateOperation(story)
	if err != nil {
		t.Fatal(err)
	}
	if conf != 0.85 || len(warnings) != 1 {
		t.Errorf("Orphan story must warn and lower confidence: %v %v", conf, warnings)
	}

	update := &OperationContext{Operation: OpUpdate, Identifier: Identifier{Kind: IdentID, ID: 3}, Params: NewParams()}
	if _, _, err := validateOperation(update); err == nil {
		t.Error("UPDATE without fields must fail validation")
	}

	del := &OperationContext{Operation: OpDelete, Identifier: Identifier{Kind: IdentNone}, Params: NewParams()}
	if _, _, err := validateOperation(del); err == nil {
		t.Error("DELETE without an identifier must fail validation")
	}
}

func TestCascadeKindsExpandDependents(t *testing.T) {
	kinds := cascadeKinds([]EntityType{EntityEpic})
	want := []types.WorkItemKind{types.KindSubtask, types.KindTask, types.KindStory, types.KindEpic}
	if len(kinds) != len(want) {
		t.Fatalf("Expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestPipelineCreateTask(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	p := NewPipeline(testNLConfig(), st, nil)

	out, err := p.Process(context.Background(), projectID, `create a task "wire the config loader" priority 8`)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Op == nil || out.Op.Operation != OpCreate {
		t.Fatalf("Expected a CREATE operation, got %+v", out)
	}
	if out.Confidence < 0.7 {
		t.Errorf("Confidence %v below threshold", out.Confidence)
	}
	if out.Pending != nil {
		t.Error("Non-destructive command must not require confirmation")
	}

	exec := &Executor{State: st}
	msg, err := exec.Execute(out.Op)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(msg, "wire the config loader") {
		t.Errorf("Unexpected result line: %q", msg)
	}
	items, err := st.ListWorkItems(projectID, types.KindTask, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Priority != 8 {
		t.Errorf("Task not persisted as described: %+v", items)
	}
}

func TestPipelineBulkDeleteConfirmAndExecute(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mustItem(t, st, projectID, types.KindEpic, "auth")
	mustItem(t, st, projectID, types.KindStory, "login")
	mustItem(t, st, projectID, types.KindTask, "wire handler")

	p := NewPipeline(testNLConfig(), st, nil)
	ctx := context.Background()

	out, err := p.Process(ctx, projectID, "delete all epics")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Pending == nil {
		t.Fatalf("Destructive bulk command must await confirmation: %+v", out)
	}
	if !strings.Contains(out.ResponseText, "This will delete 3 items") {
		t.Errorf("Prompt must carry the cascade counts: %q", out.ResponseText)
	}
	if out.Op != nil {
		t.Error("Operation must not be released before confirmation")
	}

	out, err = p.Process(ctx, projectID, "yes")
	if err != nil {
		t.Fatal(err)
	}
	if out.Op == nil || !out.Op.Confirmed {
		t.Fatalf("Confirmation must release the confirmed operation: %+v", out)
	}

	exec := &Executor{State: st}
	msg, err := exec.Execute(out.Op)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if msg != "Deleted 1 task, 1 story, 1 epic" {
		t.Errorf("Reply must break the count down per tier: %q", msg)
	}
	for _, kind := range []types.WorkItemKind{types.KindEpic, types.KindStory, types.KindTask} {
		n, err := st.CountOf(projectID, kind)
		if err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("Expected no live %ss after cascade, found %d", kind, n)
		}
	}
}

func TestDescribeDeletedPluralizes(t *testing.T) {
	kinds := []types.WorkItemKind{types.KindSubtask, types.KindTask, types.KindStory, types.KindEpic}
	got := DescribeDeleted(kinds, map[types.WorkItemKind]int{
		types.KindTask:  3,
		types.KindStory: 2,
		types.KindEpic:  1,
	})
	if got != "Deleted 3 tasks, 2 stories, 1 epic" {
		t.Errorf("Unexpected phrasing: %q", got)
	}

	if got := DescribeDeleted(kinds, map[types.WorkItemKind]int{}); got != "Deleted 0 items" {
		t.Errorf("Empty cascade: %q", got)
	}
}

func TestPipelineBulkUpdateExecutes(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	a := mustItem(t, st, projectID, types.KindTask, "one")
	b := mustItem(t, st, projectID, types.KindTask, "two")

	p := NewPipeline(testNLConfig(), st, nil)
	out, err := p.Process(context.Background(), projectID, "update all tasks priority 9")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Op == nil {
		t.Fatalf("Bulk update must release an operation: %+v", out)
	}

	exec := &Executor{State: st}
	msg, err := exec.Execute(out.Op)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(msg, "Updated 2 items") {
		t.Errorf("Unexpected result line: %q", msg)
	}
	for _, id := range []int64{a.ID, b.ID} {
		got, err := st.GetWorkItem(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Priority != 9 {
			t.Errorf("Item %d not updated: %+v", id, got)
		}
	}
}

func TestPipelineBulkDeleteWithoutConfirmation(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mustItem(t, st, projectID, types.KindTask, "doomed")

	cfg := testNLConfig()
	cfg.BulkRequireConfirmation = false
	p := NewPipeline(cfg, st, nil)

	out, err := p.Process(context.Background(), projectID, "delete all tasks")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if out.Pending != nil || p.Pending() != nil {
		t.Fatal("Disabled bulk confirmation must not queue a prompt")
	}
	if out.Op == nil || !out.Op.Confirmed {
		t.Fatalf("Operation must be released pre-confirmed: %+v", out)
	}

	exec := &Executor{State: st}
	msg, err := exec.Execute(out.Op)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if msg != "Deleted 1 task" {
		t.Errorf("Unexpected result line: %q", msg)
	}
}

func TestPipelineBulkDeleteNothingMatches(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	p := NewPipeline(testNLConfig(), st, nil)

	out, err := p.Process(context.Background(), projectID, "delete all epics")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.ResponseText, "Nothing matches") {
		t.Errorf("Empty scope must report nothing to delete: %q", out.ResponseText)
	}
	if p.Pending() != nil {
		t.Error("No confirmation may be pending when nothing matches")
	}
}

func TestPipelineCancellation(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	task := mustItem(t, st, projectID, types.KindTask, "keep me")
	p := NewPipeline(testNLConfig(), st, nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, projectID, "delete task 1"); err != nil {
		t.Fatal(err)
	}
	out, err := p.Process(ctx, projectID, "no")
	if err != nil {
		t.Fatal(err)
	}
	if out.Intent != IntentCancellation || out.Op != nil {
		t.Fatalf("Cancellation must not release the operation: %+v", out)
	}
	if p.Pending() != nil {
		t.Error("Cancellation must clear the pending state")
	}
	if got, err := st.GetWorkItem(task.ID); err != nil || got == nil {
		t.Errorf("Cancelled delete must leave the item intact: %v %v", got, err)
	}
}

func TestPipelineConfirmationExpiry(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mustItem(t, st, projectID, types.KindTask, "keep me")

	p := NewPipeline(testNLConfig(), st, nil)
	current := time.Now()
	p.now = func() time.Time { return current }
	ctx := context.Background()

	if _, err := p.Process(ctx, projectID, "delete task 1"); err != nil {
		t.Fatal(err)
	}

	current = current.Add(61 * time.Second)
	out, err := p.Process(ctx, projectID, "yes")
	if err != nil {
		t.Fatal(err)
	}
	if out.Op != nil {
		t.Fatal("Expired confirmation must not release the operation")
	}
	if !strings.Contains(out.ResponseText, "expired") {
		t.Errorf("User must be told the window expired: %q", out.ResponseText)
	}
	if p.Pending() != nil {
		t.Error("Expiry must clear the pending state")
	}
}

func TestPipelineUnrelatedInputClearsPending(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	mustItem(t, st, projectID, types.KindTask, "keep me")
	p := NewPipeline(testNLConfig(), st, nil)
	ctx := context.Background()

	if _, err := p.Process(ctx, projectID, "delete task 1"); err != nil {
		t.Fatal(err)
	}
	out, err := p.Process(ctx, projectID, "list all tasks")
	if err != nil {
		t.Fatal(err)
	}
	if p.Pending() != nil {
		t.Error("Unrelated input must implicitly clear the pending confirmation")
	}
	if out.Op == nil || out.Op.Operation != OpQuery {
		t.Errorf("The unrelated input must be processed on its own: %+v", out)
	}
}

func TestPipelineClarifiesMissingEntity(t *testing.T) {
	st := newTestStore(t)
	p := NewPipeline(testNLConfig(), st, nil)

	out, err := p.Process(context.Background(), 1, "show everything about it")
	if err != nil {
		t.Fatal(err)
	}
	if out.Op != nil || out.ErrKind != "user" {
		t.Fatalf("Unresolvable entity must ask for clarification: %+v", out)
	}
	if !strings.Contains(out.ResponseText, "entity classifier") {
		t.Errorf("Clarification must name the weakest stage: %q", out.ResponseText)
	}
}

func TestExecutorRejectsUnconfirmedDelete(t *testing.T) {
	exec := &Executor{State: newTestStore(t)}
	oc := &OperationContext{
		Operation:  OpDelete,
		Entities:   []EntityType{EntityTask},
		Identifier: Identifier{Kind: IdentID, ID: 1},
		Params:     NewParams(),
	}
	_, err := exec.Execute(oc)
	var uerr *types.UserError
	if !errors.As(err, &uerr) {
		t.Fatalf("Expected UserError for unconfirmed delete, got %v", err)
	}
}

func TestExecutorResolvesTitleCaseInsensitive(t *testing.T) {
	st := newTestStore(t)
	projectID := newTestProject(t, st)
	item := mustItem(t, st, projectID, types.KindStory, "Login Page")

	exec := &Executor{State: st}
	oc := &OperationContext{
		Operation:  OpUpdate,
		Entities:   []EntityType{EntityStory},
		Identifier: Identifier{Kind: IdentTitle, Title: "login page"},
		Params:     NewParams(),
		ProjectID:  projectID,
	}
	oc.Params.Set("priority", int64(9))

	if _, err := exec.Execute(oc); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got, err := st.GetWorkItem(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != 9 {
		t.Errorf("Update by title did not apply: %+v", got)
	}
}
