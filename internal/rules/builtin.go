package rules

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Built-in typology rule identifiers. These names are stable API: they appear
// in assessment output, alert payloads and the rule sub-score, and downstream
// case management keys on them.
const (
	RuleHighValueTransaction = "HIGH_VALUE_TRANSACTION"
	RuleHighRiskCountry      = "HIGH_RISK_COUNTRY"
	RuleURLMismatch          = "URL_MISMATCH_SUSPECTED_LAUNDERING"
	RuleMCCMismatch          = "MCC_MISMATCH_SUSPECTED_LAUNDERING"
	RuleLinkedToBlocked      = "LINKED_TO_BLOCKED_ENTITY"
	RuleBehavioralAnomaly    = "BEHAVIORAL_ANOMALY"
	RuleStructuring          = "STRUCTURING_SUSPECTED"
	RulePEPTransaction       = "PEP_TRANSACTION"
	RuleThirdPartyUsage      = "THIRD_PARTY_USAGE_SUSPECTED"
)

// BuiltinRules returns the core AML typology rule set, parameterized by the
// jurisdiction lists and reporting thresholds in the compliance config.
func BuiltinRules(cc *domain.ComplianceConfig) []domain.RuleDefinition {
	if cc == nil {
		cc = domain.DefaultComplianceConfig()
	}

	highRisk := celStringList(cc.HighRisk)
	thresholds := cc.ThresholdsFor(cc.DefaultCurrency)

	enabled := func(id, name string, priority int, action, description, expression string) domain.RuleDefinition {
		return domain.RuleDefinition{
			ID:          id,
			Name:        name,
			Priority:    priority,
			Action:      action,
			Description: description,
			Expression:  expression,
			Enabled:     true,
		}
	}

	return []domain.RuleDefinition{
		enabled("builtin-linked-blocked", RuleLinkedToBlocked, 1, "BLOCK",
			"Transaction graph links the merchant to a previously blocked entity",
			"linked_to_blocked"),

		enabled("builtin-high-value", RuleHighValueTransaction, 1, "",
			"Single transaction at or above the currency reporting threshold",
			fmt.Sprintf("amount >= %d.0", thresholds.CTR)),

		enabled("builtin-pep", RulePEPTransaction, 1, "HOLD",
			"Transaction involves a politically exposed person",
			"is_pep"),

		enabled("builtin-high-risk-country", RuleHighRiskCountry, 2, "BLOCK",
			"Origin or destination country is on the high-risk jurisdiction list",
			fmt.Sprintf("origin_country in %s || destination_country in %s", highRisk, highRisk)),

		enabled("builtin-structuring", RuleStructuring, 2, "HOLD",
			"Repeated transactions just below the reporting threshold",
			fmt.Sprintf("structuring_suspected || (amount >= %d.0 && amount < %d.0 && velocity_count >= 2)",
				thresholds.Structuring, thresholds.CTR)),

		enabled("builtin-third-party", RuleThirdPartyUsage, 2, "",
			"Card or account usage pattern suggests an unregistered third party",
			"third_party_suspected"),

		enabled("builtin-url-mismatch", RuleURLMismatch, 3, "",
			"Transaction URL does not match the merchant's registered website",
			"url_mismatch"),

		enabled("builtin-mcc-mismatch", RuleMCCMismatch, 4, "HOLD",
			"Transaction MCC does not match the merchant's registered category",
			"mcc_mismatch"),

		enabled("builtin-behavioral-anomaly", RuleBehavioralAnomaly, 5, "",
			"Transaction deviates from the merchant's learned behavioral profile",
			"behavioral_anomaly"),
	}
}

// celStringList renders a Go string slice as a CEL list literal.
func celStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
