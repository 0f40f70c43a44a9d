package domain

import (
	"time"
)

// RuleOutcome is the output of one rule-engine evaluation: the ordered list
// of triggered rule identifiers and the decision implied by their actions
// (escalate-only fold over the triggered rules' actions).
type RuleOutcome struct {
	Triggered []string `json:"triggered"`
	Decision  Decision `json:"decision"`
}

// ScoreResult holds the component risk scores for one transaction.
// All component scores and the final score are clamped to [0,100];
// the ML score is read-only and stays in [0,1].
type ScoreResult struct {
	KRS        float64 `json:"krs"`
	TRS        float64 `json:"trs"`
	CRA        float64 `json:"cra"`
	RuleScore  float64 `json:"ruleScore"`
	FinalScore float64 `json:"finalScore"`
	MLScore    float64 `json:"mlScore"`

	RuleDecision   Decision `json:"ruleDecision"`
	TriggeredRules []string `json:"triggeredRules"`
}

// Assessment is the complete decisioning result for one transaction:
// scores plus the compliance decision, as returned to the caller and
// written to the decision cache / audit store.
type Assessment struct {
	ID         string             `json:"id"`
	TxnID      string             `json:"txnId"`
	MerchantID string             `json:"merchantId,omitempty"`
	Score      ScoreResult        `json:"score"`
	Compliance ComplianceDecision `json:"compliance"`
	Timestamp  time.Time          `json:"timestamp"`

	Metadata AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata carries processing information for observability and
// audit; it does not participate in the decision.
type AssessmentMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	VelocityCount  int64  `json:"velocityCount"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
	FromCache      bool   `json:"fromCache,omitempty"`
}
