// Package validation implements the response-evaluation pipeline: a
// structural response validator, a quality controller, a confidence
// scorer, the deterministic decision engine, and the breakpoint manager.
// Stages run in strict order and every stage's output stays a structured
// record end to end; reducing a validation to a bare boolean is the
// historical bug this design forbids.
package validation

import (
	"strings"
)

// Record is the structured output of the response validator.
type Record struct {
	Valid    bool     `json:"valid"`
	Complete bool     `json:"complete"`
	Notes    []string `json:"notes,omitempty"`
}

// Validator checks an agent response for structural completeness.
type Validator struct {
	// ExpectedSections are headings the response should contain, when
	// the prompt asked for them. Empty means no section requirement.
	ExpectedSections []string
}

// Validate inspects the response text. A response is valid when it is
// non-empty and its code fences balance; it is complete when every
// expected section is present.
func (v *Validator) Validate(response string) Record {
	rec := Record{Valid: true, Complete: true}

	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		rec.Valid = false
		rec.Complete = false
		rec.Notes = append(rec.Notes, "empty response")
		return rec
	}

	if strings.Count(response, "```")%2 != 0 {
		rec.Valid = false
		rec.Notes = append(rec.Notes, "unbalanced code fences")
	}

	for _, section := range v.ExpectedSections {
		if !strings.Contains(strings.ToLower(response), strings.ToLower(section)) {
			rec.Complete = false
			rec.Notes = append(rec.Notes, "missing section: "+section)
		}
	}

	// A response that visibly stops mid-sentence is suspect.
	if strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…") {
		rec.Complete = false
		rec.Notes = append(rec.Notes, "response appears truncated")
	}

	return rec
}
