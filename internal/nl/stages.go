package nl

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"overseer/internal/logging"
	"overseer/internal/types"
)

// Stage word lists. The classifiers are keyword-driven and deterministic;
// the ModelPort is consulted only when keywords resolve nothing, so the
// same input with the same model seed always yields the same result.

var confirmationWords = map[string]bool{
	"yes": true, "y": true, "confirm": true, "ok": true,
	"proceed": true, "go ahead": true,
}

var cancellationWords = map[string]bool{
	"no": true, "n": true, "cancel": true, "abort": true,
	"stop": true, "nevermind": true,
}

var createWords = []string{
	"create", "add", "make", "new", "build", "construct", "assemble",
	"craft", "generate", "produce", "develop", "establish", "initialize",
	"set up", "prepare", "design", "form", "start", "begin", "launch",
	"spin up", "put together",
}

var updateWords = []string{
	"update", "modify", "change", "edit", "alter", "revise", "adjust",
	"refine", "amend", "correct", "fix", "set", "configure", "tweak",
}

var deleteWords = []string{
	"delete", "remove", "drop", "erase", "clear", "purge", "eliminate",
	"destroy", "discard", "cancel", "archive",
}

var queryWords = []string{
	"show", "list", "get", "find", "search", "query", "lookup", "locate",
	"display", "view", "see", "check", "what", "which", "where", "who",
	"count", "how many", "status", "state", "info", "details", "describe",
}

var bulkWords = []string{"all", "every", "each", "entire"}

var helpWords = []string{"help", "how do i", "what can you", "usage", "commands"}

var entityWords = map[EntityType][]string{
	EntityProject:   {"project", "projects"},
	EntityEpic:      {"epic", "epics"},
	EntityStory:     {"story", "stories"},
	EntityTask:      {"task", "tasks"},
	EntitySubtask:   {"subtask", "subtasks", "sub-task", "sub-tasks"},
	EntityMilestone: {"milestone", "milestones"},
}

// entityOrder keeps multi-entity results stable regardless of map
// iteration order.
var entityOrder = []EntityType{
	EntityProject, EntityEpic, EntityStory, EntityTask,
	EntitySubtask, EntityMilestone,
}

var (
	idPattern       = regexp.MustCompile(`(?i)\b(?:#|id\s+|number\s+)?(\d+)\b`)
	quotedPattern   = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	priorityPattern = regexp.MustCompile(`(?i)\bpriority\s*(?:to|=|:)?\s*(\d{1,2})\b`)
	statusPattern   = regexp.MustCompile(`(?i)\bstatus\s*(?:to|=|:)?\s*([A-Za-z_]+)\b`)
	nullPattern     = regexp.MustCompile(`(?i)\b(title|description|priority|status|dependencies|epic_id|story_id|parent_task_id|scope)\s*(?:to|=|:)\s*null\b`)
)

// classifyIntent is stage 1. Confirmation and cancellation words are
// matched on the whole trimmed input only, so "no updates today" does not
// read as a cancellation.
func classifyIntent(input string) (Intent, float64) {
	trimmed := strings.ToLower(strings.TrimSpace(input))
	trimmed = strings.TrimRight(trimmed, ".!?")

	if confirmationWords[trimmed] {
		return IntentConfirmation, 1.0
	}
	if cancellationWords[trimmed] {
		return IntentCancellation, 1.0
	}
	for _, w := range helpWords {
		if strings.HasPrefix(trimmed, w) {
			return IntentHelp, 0.95
		}
	}
	if matchAny(trimmed, createWords) || matchAny(trimmed, updateWords) || matchAny(trimmed, deleteWords) {
		return IntentCommand, 0.9
	}
	if matchAny(trimmed, queryWords) {
		return IntentQuery, 0.85
	}
	return IntentConversation, 0.5
}

// classifyOperation is stage 2. Earlier lists win ties so "set up a new
// task" reads CREATE, not UPDATE.
func classifyOperation(input string) (Operation, float64) {
	lower := strings.ToLower(input)
	switch {
	case matchAny(lower, createWords):
		return OpCreate, 0.9
	case matchAny(lower, deleteWords):
		return OpDelete, 0.9
	case matchAny(lower, updateWords):
		return OpUpdate, 0.85
	case matchAny(lower, queryWords):
		// A query verb with a single concrete id is a READ.
		if hasExplicitID(lower) && !matchAny(lower, bulkWords) {
			return OpRead, 0.85
		}
		return OpQuery, 0.85
	}
	return "", 0.0
}

// classifyEntities is stage 3 and may return several entity types for
// phrases like "delete all epics, stories and tasks".
func classifyEntities(input string) ([]EntityType, float64) {
	lower := strings.ToLower(input)
	var found []EntityType
	for _, e := range entityOrder {
		for _, w := range entityWords[e] {
			if containsWord(lower, w) {
				found = append(found, e)
				break
			}
		}
	}
	if len(found) == 0 {
		return nil, 0.0
	}
	return found, 0.95
}

// extractIdentifier is stage 4. The bulk sentinel only applies at high
// confidence, which here means an explicit bulk keyword with no
// competing concrete id.
func extractIdentifier(input string) (Identifier, float64) {
	lower := strings.ToLower(input)

	if matchAny(lower, bulkWords) && !hasExplicitID(lower) {
		return Identifier{Kind: IdentAll}, 0.95
	}
	if m := idPattern.FindStringSubmatch(input); m != nil {
		id := parseInt64(m[1])
		if id > 0 {
			return Identifier{Kind: IdentID, ID: id}, 0.9
		}
	}
	if m := quotedPattern.FindStringSubmatch(input); m != nil {
		title := m[1]
		if title == "" {
			title = m[2]
		}
		return Identifier{Kind: IdentTitle, Title: title}, 0.9
	}
	return Identifier{Kind: IdentNone}, 0.8
}

// extractParams is stage 5. Absent fields stay absent; a literal null for
// any optional field is rejected here, before validation ever runs.
func extractParams(input string) (Params, float64, error) {
	if m := nullPattern.FindStringSubmatch(input); m != nil {
		return Params{}, 0, &types.ValidationError{
			Stage: "parameter_extractor",
			Field: strings.ToLower(m[1]),
			Msg:   "optional fields must be omitted, not set to null",
		}
	}

	params := NewParams()
	if m := quotedPattern.FindStringSubmatch(input); m != nil {
		title := m[1]
		if title == "" {
			title = m[2]
		}
		params.Set("title", title)
	}
	if m := priorityPattern.FindStringSubmatch(input); m != nil {
		params.Set("priority", parseInt64(m[1]))
	}
	if m := statusPattern.FindStringSubmatch(input); m != nil {
		params.Set("status", strings.ToUpper(m[1]))
	}
	return params, 0.9, nil
}

// validateOperation is stage 6: required fields and graph constraints.
// Warnings lower confidence without failing the parse; hard violations
// return a ValidationError.
func validateOperation(oc *OperationContext) (float64, []string, error) {
	var warnings []string

	switch oc.Operation {
	case OpCreate:
		if _, ok := oc.Params.GetString("title"); !ok {
			return 0, nil, &types.ValidationError{
				Stage: "validator",
				Field: "title",
				Msg:   "CREATE requires a title",
			}
		}
		if hasEntity(oc.Entities, EntityStory) {
			if _, ok := oc.Params.GetInt("epic_id"); !ok {
				warnings = append(warnings, "story created without an epic_id")
			}
		}
	case OpUpdate:
		if oc.Identifier.Kind == IdentNone {
			return 0, nil, &types.ValidationError{
				Stage: "validator",
				Field: "identifier",
				Msg:   "UPDATE requires an id or title",
			}
		}
		if oc.Params.Len() == 0 {
			return 0, nil, &types.ValidationError{
				Stage: "validator",
				Field: "params",
				Msg:   "UPDATE requires at least one field to change",
			}
		}
	case OpDelete:
		if oc.Identifier.Kind == IdentNone {
			return 0, nil, &types.ValidationError{
				Stage: "validator",
				Field: "identifier",
				Msg:   "DELETE requires an id, a title, or a bulk keyword",
			}
		}
	}

	conf := 0.95
	if len(warnings) > 0 {
		conf = 0.85
		for _, w := range warnings {
			logging.NL("Validation warning: %s", w)
		}
	}
	return conf, warnings, nil
}

// modelFallback asks the model to classify when keywords resolved
// nothing. Best effort; a failure keeps the keyword result.
func modelFallback(ctx context.Context, model types.ModelPort, question, input string) (string, bool) {
	if model == nil {
		return "", false
	}
	prompt := question + " Reply with only the label.\n\nInput: " + input
	out, err := model.Generate(ctx, prompt, 16, 0.0)
	if err != nil {
		logging.Get(logging.CategoryNL).Warn("Model fallback failed: %v", err)
		return "", false
	}
	return strings.ToUpper(strings.TrimSpace(out)), true
}

func matchAny(lower string, words []string) bool {
	for _, w := range words {
		if containsWord(lower, w) {
			return true
		}
	}
	return false
}

// containsWord matches w on word boundaries, including multi-word
// phrases like "set up".
func containsWord(s, w string) bool {
	idx := strings.Index(s, w)
	for idx >= 0 {
		before := idx == 0 || !isWordChar(s[idx-1])
		afterIdx := idx + len(w)
		after := afterIdx >= len(s) || !isWordChar(s[afterIdx])
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], w)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func hasExplicitID(lower string) bool {
	return idPattern.MatchString(lower)
}

func hasEntity(entities []EntityType, e EntityType) bool {
	for _, x := range entities {
		if x == e {
			return true
		}
	}
	return false
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
