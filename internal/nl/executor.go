package nl

import (
	"fmt"
	"strings"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// Executor turns a confirmed OperationContext into StatePort calls and a
// user-facing result line. It is the only place NL output touches the
// store.
type Executor struct {
	State types.StatePort
}

// Execute dispatches on the operation. Destructive operations must
// arrive confirmed; an unconfirmed delete is a caller bug surfaced as a
// UserError rather than silently executed.
func (e *Executor) Execute(oc *OperationContext) (string, error) {
	if oc.Destructive() && !oc.Confirmed {
		return "", &types.UserError{Msg: "destructive operation requires confirmation"}
	}

	switch oc.Operation {
	case OpCreate:
		return e.create(oc)
	case OpRead:
		return e.read(oc)
	case OpQuery:
		return e.query(oc)
	case OpUpdate:
		return e.update(oc)
	case OpDelete:
		return e.remove(oc)
	}
	return "", &types.UserError{Msg: fmt.Sprintf("unsupported operation %q", oc.Operation)}
}

func (e *Executor) create(oc *OperationContext) (string, error) {
	title, _ := oc.Params.GetString("title")

	if hasEntity(oc.Entities, EntityProject) {
		proj, err := e.State.CreateProject(title, "")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Created project #%d %q", proj.ID, proj.Name), nil
	}

	kind, ok := firstKind(oc.Entities)
	if !ok {
		return "", &types.UserError{Msg: "cannot tell what to create"}
	}

	item := &types.WorkItem{
		ProjectID: oc.ProjectID,
		Kind:      kind,
		Title:     title,
	}
	if pri, ok := oc.Params.GetInt("priority"); ok {
		item.Priority = int(pri)
	}
	if desc, ok := oc.Params.GetString("description"); ok {
		item.Description = desc
	}
	if epicID, ok := oc.Params.GetInt("epic_id"); ok {
		item.EpicIDs = []int64{epicID}
	}

	created, err := e.State.CreateWorkItem(item)
	if err != nil {
		return "", err
	}
	logging.NL("Created %s #%d in project %d", kind, created.ID, oc.ProjectID)
	return fmt.Sprintf("Created %s #%d %q", strings.ToLower(string(kind)), created.ID, created.Title), nil
}

func (e *Executor) read(oc *OperationContext) (string, error) {
	item, err := e.resolveItem(oc)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("#%d [%s] %s (priority %d, status %s)",
		item.ID, item.Kind, item.Title, item.Priority, item.Status), nil
}

func (e *Executor) query(oc *OperationContext) (string, error) {
	kind, ok := firstKind(oc.Entities)
	if !ok {
		projects, err := e.State.ListProjects(false)
		if err != nil {
			return "", err
		}
		lines := make([]string, 0, len(projects)+1)
		lines = append(lines, fmt.Sprintf("%d projects:", len(projects)))
		for _, p := range projects {
			lines = append(lines, fmt.Sprintf("  #%d %s (%s)", p.ID, p.Name, p.Status))
		}
		return strings.Join(lines, "\n"), nil
	}

	items, err := e.State.ListWorkItems(oc.ProjectID, kind, false)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, fmt.Sprintf("%d %ss:", len(items), strings.ToLower(string(kind))))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("  #%d %s (priority %d, %s)", it.ID, it.Title, it.Priority, it.Status))
	}
	return strings.Join(lines, "\n"), nil
}

func (e *Executor) update(oc *OperationContext) (string, error) {
	updates := map[string]any{}
	for _, key := range []string{"title", "description", "priority", "status"} {
		if v, ok := oc.Params.Get(key); ok {
			updates[key] = v
		}
	}
	if len(updates) == 0 {
		return "", &types.UserError{Msg: "no updatable fields recognized"}
	}

	if oc.Bulk || oc.Identifier.Kind == IdentAll {
		return e.updateAll(oc, updates)
	}

	item, err := e.resolveItem(oc)
	if err != nil {
		return "", err
	}
	if err := e.State.UpdateWorkItem(item.ID, updates); err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated #%d (%d fields)", item.ID, len(updates)), nil
}

// updateAll applies the same field set to every live item of the
// requested kinds.
func (e *Executor) updateAll(oc *OperationContext, updates map[string]any) (string, error) {
	total := 0
	for _, ent := range oc.Entities {
		kind, ok := ent.Kind()
		if !ok {
			continue
		}
		items, err := e.State.ListWorkItems(oc.ProjectID, kind, false)
		if err != nil {
			return "", err
		}
		for _, it := range items {
			if err := e.State.UpdateWorkItem(it.ID, updates); err != nil {
				return "", fmt.Errorf("update #%d: %w", it.ID, err)
			}
			total++
		}
	}
	logging.NL("Bulk update touched %d items in project %d", total, oc.ProjectID)
	return fmt.Sprintf("Updated %d items (%d fields)", total, len(updates)), nil
}

func (e *Executor) remove(oc *OperationContext) (string, error) {
	if oc.Bulk {
		plan, err := PlanBulkDelete(e.State, oc.ProjectID, oc.Entities)
		if err != nil {
			return "", err
		}
		deleted, err := ExecuteBulkDelete(e.State, plan)
		if err != nil {
			return "", err
		}
		return DescribeDeleted(plan.Kinds, deleted), nil
	}

	item, err := e.resolveItem(oc)
	if err != nil {
		return "", err
	}
	if err := e.State.DeleteWorkItem(item.ID, true); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted #%d %q", item.ID, item.Title), nil
}

// resolveItem finds the single target item from the identifier.
func (e *Executor) resolveItem(oc *OperationContext) (*types.WorkItem, error) {
	switch oc.Identifier.Kind {
	case IdentID:
		item, err := e.State.GetWorkItem(oc.Identifier.ID)
		if err != nil {
			return nil, err
		}
		if item == nil {
			return nil, &types.UserError{Msg: fmt.Sprintf("no item with id %d", oc.Identifier.ID)}
		}
		return item, nil
	case IdentTitle:
		kind, ok := firstKind(oc.Entities)
		if !ok {
			return nil, &types.UserError{Msg: "cannot tell what entity the title refers to"}
		}
		items, err := e.State.ListWorkItems(oc.ProjectID, kind, false)
		if err != nil {
			return nil, err
		}
		want := strings.ToLower(oc.Identifier.Title)
		for _, it := range items {
			if strings.ToLower(it.Title) == want {
				return it, nil
			}
		}
		return nil, &types.UserError{Msg: fmt.Sprintf("no %s titled %q", strings.ToLower(string(kind)), oc.Identifier.Title)}
	}
	return nil, &types.UserError{Msg: "no target identifier in the request"}
}

func firstKind(entities []EntityType) (types.WorkItemKind, bool) {
	for _, e := range entities {
		if k, ok := e.Kind(); ok {
			return k, true
		}
	}
	return "", false
}
