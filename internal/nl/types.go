// Package nl implements the natural-language command pipeline: staged
// classification and extraction that turns a user sentence into a
// strictly-typed operation descriptor, a clarification, or a
// confirmation round trip. Zero guessing: when confidence is low, ask.
package nl

import (
	"time"

	"overseer/internal/types"
)

// Intent is the top-level classification of an input.
type Intent string

const (
	IntentCommand      Intent = "COMMAND"
	IntentQuery        Intent = "QUERY"
	IntentConfirmation Intent = "CONFIRMATION"
	IntentCancellation Intent = "CANCELLATION"
	IntentHelp         Intent = "HELP"
	IntentConversation Intent = "CONVERSATION"
)

// Operation is the CRUD-style classification of a command.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpRead   Operation = "READ"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
	OpQuery  Operation = "QUERY"
)

// EntityType names what the operation targets.
type EntityType string

const (
	EntityProject   EntityType = "PROJECT"
	EntityEpic      EntityType = "EPIC"
	EntityStory     EntityType = "STORY"
	EntityTask      EntityType = "TASK"
	EntitySubtask   EntityType = "SUBTASK"
	EntityMilestone EntityType = "MILESTONE"
)

// Kind maps a work-item entity to its store kind. Projects have no kind.
func (e EntityType) Kind() (types.WorkItemKind, bool) {
	switch e {
	case EntityEpic:
		return types.KindEpic, true
	case EntityStory:
		return types.KindStory, true
	case EntityTask:
		return types.KindTask, true
	case EntitySubtask:
		return types.KindSubtask, true
	case EntityMilestone:
		return types.KindMilestone, true
	}
	return "", false
}

// IdentifierKind discriminates how the target was named.
type IdentifierKind string

const (
	IdentNone  IdentifierKind = "none"
	IdentID    IdentifierKind = "id"
	IdentTitle IdentifierKind = "title"
	IdentAll   IdentifierKind = "all" // the __ALL__ sentinel
)

// Identifier is the extracted target reference.
type Identifier struct {
	Kind  IdentifierKind
	ID    int64
	Title string
}

// Sentinel returns the stored representation; only IdentAll maps to the
// reserved sentinel.
func (i Identifier) Sentinel() string {
	if i.Kind == IdentAll {
		return types.AllSentinel
	}
	return ""
}

// Params are the optional extracted fields. Absent fields are simply
// not present in the map; a literal null for an optional field is a
// validation error, never a stored value.
type Params struct {
	fields map[string]any
}

// NewParams creates an empty parameter set.
func NewParams() Params {
	return Params{fields: map[string]any{}}
}

// Set stores a present field.
func (p Params) Set(key string, value any) { p.fields[key] = value }

// Get reports a field and whether it is present.
func (p Params) Get(key string) (any, bool) {
	v, ok := p.fields[key]
	return v, ok
}

// GetString returns a string field when present.
func (p Params) GetString(key string) (string, bool) {
	v, ok := p.fields[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// GetInt returns an integer field when present.
func (p Params) GetInt(key string) (int64, bool) {
	v, ok := p.fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

// Keys lists the present fields.
func (p Params) Keys() []string {
	out := make([]string, 0, len(p.fields))
	for k := range p.fields {
		out = append(out, k)
	}
	return out
}

// Len reports how many fields are present.
func (p Params) Len() int { return len(p.fields) }

// OperationContext is the strictly-typed operation descriptor the
// pipeline produces for callers to act on.
type OperationContext struct {
	Operation  Operation
	Entities   []EntityType
	Identifier Identifier
	Params     Params
	Scope      string // "current_project" unless the phrase names another
	Bulk       bool
	Confirmed  bool
	ProjectID  int64
}

// Destructive reports whether executing this operation requires a
// confirmation round trip.
func (oc *OperationContext) Destructive() bool {
	return oc.Operation == OpDelete
}

// StageResult is one stage's contribution to the overall confidence.
type StageResult struct {
	Stage      string
	Confidence float64
}

// PendingConfirmation is the in-memory record that the next user input
// is expected to be yes/no. It expires on wall clock.
type PendingConfirmation struct {
	Op        *OperationContext
	ProjectID int64
	Prompt    string
	CreatedAt time.Time
}

// Expired reports whether the pending confirmation has timed out.
func (p *PendingConfirmation) Expired(timeout time.Duration, now time.Time) bool {
	return now.Sub(p.CreatedAt) > timeout
}

// Outcome is the tagged result returned to callers.
type Outcome struct {
	Intent       Intent
	Op           *OperationContext // nil unless a command parsed
	ResponseText string
	Confidence   float64
	Pending      *PendingConfirmation // non-nil when awaiting yes/no
	ErrKind      string               // empty, "user", or "validation"
}
