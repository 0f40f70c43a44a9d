package domain

import (
	"encoding/json"
	"fmt"
)

// Decision is the compliance outcome for a transaction.
// The ordering is significant: a decision may only escalate
// (ALLOW < HOLD < BLOCK), never downgrade, within one evaluation.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionHold
	DecisionBlock
)

// String returns the wire representation of the decision.
func (d Decision) String() string {
	switch d {
	case DecisionHold:
		return "HOLD"
	case DecisionBlock:
		return "BLOCK"
	default:
		return "ALLOW"
	}
}

// Escalate returns the more severe of the two decisions.
// This is the only way decisions combine: escalate-only, never downgrade.
func (d Decision) Escalate(to Decision) Decision {
	if to > d {
		return to
	}
	return d
}

// ParseDecision converts a wire string to a Decision.
// Unknown values resolve to ALLOW (input defects never abort an evaluation).
func ParseDecision(s string) Decision {
	switch s {
	case "HOLD":
		return DecisionHold
	case "BLOCK":
		return DecisionBlock
	default:
		return DecisionAllow
	}
}

// MarshalJSON encodes the decision as its wire string.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a wire string into a Decision.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decision must be a string: %w", err)
	}
	*d = ParseDecision(s)
	return nil
}

// Reason is one regulatory reason attached to a compliance decision.
// Reasons keep insertion order for audit reproducibility.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ComplianceDecision is the regulatory outcome of a compliance evaluation:
// the (monotonically escalated) decision plus the filing obligations it
// implies.
type ComplianceDecision struct {
	Decision             Decision `json:"decision"`
	CTRRequired          bool     `json:"ctrRequired"`
	STRRequired          bool     `json:"strRequired"`
	EnhancedDueDiligence bool     `json:"enhancedDueDiligence"`
	Reasons              []Reason `json:"reasons"`
}

// SetDecision escalates the running decision. A less severe decision is a
// no-op; once BLOCK is reached it is final for the evaluation.
func (c *ComplianceDecision) SetDecision(d Decision) {
	c.Decision = c.Decision.Escalate(d)
}

// AddReason appends a (code, message) pair. Codes are unique per evaluation:
// re-adding an existing code is a no-op, not a duplicate entry.
func (c *ComplianceDecision) AddReason(code, message string) {
	for _, r := range c.Reasons {
		if r.Code == code {
			return
		}
	}
	c.Reasons = append(c.Reasons, Reason{Code: code, Message: message})
}

// HasReason reports whether a reason code is present.
func (c *ComplianceDecision) HasReason(code string) bool {
	for _, r := range c.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}
