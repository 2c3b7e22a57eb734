package nl

import (
	"fmt"
	"sort"
	"strings"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// BulkPlan describes a cascading delete before it runs: per-tier live
// counts in the order they will be deleted.
type BulkPlan struct {
	ProjectID int64
	Kinds     []types.WorkItemKind // cascade order, dependents first
	Counts    map[types.WorkItemKind]int
	Total     int
}

// Describe renders the plan for a confirmation prompt. Tiers with
// nothing to delete are left out.
func (p *BulkPlan) Describe() string {
	parts := make([]string, 0, len(p.Kinds))
	for _, k := range p.Kinds {
		if p.Counts[k] == 0 {
			continue
		}
		parts = append(parts, countPhrase(k, p.Counts[k]))
	}
	if len(parts) == 0 {
		return "Nothing to delete."
	}
	return fmt.Sprintf("This will delete %d items: %s", p.Total, strings.Join(parts, ", "))
}

// DescribeDeleted renders the post-execution reply, per tier in cascade
// order, skipping empty tiers.
func DescribeDeleted(kinds []types.WorkItemKind, deleted map[types.WorkItemKind]int) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		if deleted[k] == 0 {
			continue
		}
		parts = append(parts, countPhrase(k, deleted[k]))
	}
	if len(parts) == 0 {
		return "Deleted 0 items"
	}
	return "Deleted " + strings.Join(parts, ", ")
}

// countPhrase formats "1 story" / "2 stories".
func countPhrase(kind types.WorkItemKind, n int) string {
	name := strings.ToLower(string(kind))
	if n != 1 {
		if strings.HasSuffix(name, "y") {
			name = name[:len(name)-1] + "ies"
		} else {
			name += "s"
		}
	}
	return fmt.Sprintf("%d %s", n, name)
}

// BulkError reports a partial bulk failure with the per-tier counts that
// were deleted before the transaction rolled back.
type BulkError struct {
	Deleted map[types.WorkItemKind]int
	Err     error
}

func (e *BulkError) Error() string {
	parts := make([]string, 0, len(e.Deleted))
	kinds := make([]string, 0, len(e.Deleted))
	for k := range e.Deleted {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%s=%d", strings.ToLower(k), e.Deleted[types.WorkItemKind(k)]))
	}
	return fmt.Sprintf("bulk delete failed after %s: %v", strings.Join(parts, " "), e.Err)
}

func (e *BulkError) Unwrap() error { return e.Err }

// PlanBulkDelete counts what a cascading delete would remove. Entities
// expand to their dependent tiers so "delete all epics" also plans the
// stories, tasks, and subtasks beneath them.
func PlanBulkDelete(state types.StatePort, projectID int64, entities []EntityType) (*BulkPlan, error) {
	kinds := cascadeKinds(entities)
	plan := &BulkPlan{
		ProjectID: projectID,
		Kinds:     kinds,
		Counts:    map[types.WorkItemKind]int{},
	}
	for _, k := range kinds {
		n, err := state.CountOf(projectID, k)
		if err != nil {
			return nil, err
		}
		plan.Counts[k] = n
		plan.Total += n
	}
	return plan, nil
}

// ExecuteBulkDelete runs the planned cascade in one store transaction.
func ExecuteBulkDelete(state types.StatePort, plan *BulkPlan) (map[types.WorkItemKind]int, error) {
	deleted, err := state.DeleteAllOf(plan.ProjectID, plan.Kinds)
	if err != nil {
		return nil, &BulkError{Deleted: deleted, Err: err}
	}
	total := 0
	for _, n := range deleted {
		total += n
	}
	logging.NL("Bulk delete removed %d items from project %d", total, plan.ProjectID)
	return deleted, nil
}

// cascadeKinds expands the requested entities to include everything that
// must go first, ordered dependents before parents.
func cascadeKinds(entities []EntityType) []types.WorkItemKind {
	want := map[types.WorkItemKind]bool{}
	for _, e := range entities {
		k, ok := e.Kind()
		if !ok {
			continue
		}
		want[k] = true
		// Deleting a parent tier implies its dependents.
		switch k {
		case types.KindEpic:
			want[types.KindStory] = true
			want[types.KindTask] = true
			want[types.KindSubtask] = true
		case types.KindStory:
			want[types.KindTask] = true
			want[types.KindSubtask] = true
		case types.KindTask:
			want[types.KindSubtask] = true
		}
	}

	var kinds []types.WorkItemKind
	for _, k := range types.CascadeOrder {
		if want[k] {
			kinds = append(kinds, k)
		}
	}
	if want[types.KindMilestone] {
		kinds = append(kinds, types.KindMilestone)
	}
	return kinds
}
