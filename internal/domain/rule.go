package domain

import "time"

// RuleDefinition is a dynamic, operator-configured rule evaluated alongside
// the built-in typology rules. The expression is CEL and must evaluate to a
// boolean (or a numeric treated as truthy when non-zero).
type RuleDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Priority orders evaluation (ascending); ties break by registration
	// order. All matching rules fire regardless of priority.
	Priority int `json:"priority"`

	// Expression is the CEL predicate evaluated against the fact set.
	Expression string `json:"expression"`

	// Action is the decision a trigger escalates to: "", "HOLD" or "BLOCK".
	// Empty means record-only.
	Action string `json:"action,omitempty"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
