// Package compliance implements the regulatory decision engine: FATF and
// central-bank jurisdiction screening, reporting-threshold checks, and the
// ML score bands, combined under escalate-only decision semantics.
package compliance

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Reason codes attached to compliance decisions. Stable API for filing and
// case-management consumers.
const (
	ReasonFATFBlacklist = "FATF_BLACKLIST"
	ReasonCBKHighRisk   = "CBK_HIGH_RISK"
	ReasonCTRThreshold  = "CTR_THRESHOLD"
	ReasonFATFGreylist  = "FATF_GREYLIST"
	ReasonPEPEDD        = "PEP_EDD"
	ReasonStructuring   = "STRUCTURING"
	ReasonMLHighRisk    = "ML_HIGH_RISK"
	ReasonMLMediumRisk  = "ML_MEDIUM_RISK"
)

// Input is one compliance evaluation request. Amount stays decimal: the
// threshold comparisons are exact, never float.
type Input struct {
	Amount        decimal.Decimal
	Currency      string
	OriginCountry string
	DestCountry   string
	IsPEP         bool
	VelocityCount int64
	MLScore       float64
}

// Engine runs the ordered regulatory checks. The config is an immutable
// snapshot swapped whole on reload.
type Engine struct {
	mu  sync.RWMutex
	cfg *domain.ComplianceConfig
}

// NewEngine creates a compliance engine. A nil config falls back to the
// built-in jurisdiction lists and thresholds.
func NewEngine(cfg *domain.ComplianceConfig) *Engine {
	if cfg == nil {
		cfg = domain.DefaultComplianceConfig()
	}
	return &Engine{cfg: cfg}
}

// Reload swaps in a new jurisdiction/threshold snapshot.
func (e *Engine) Reload(cfg *domain.ComplianceConfig) {
	if cfg == nil {
		return
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
}

func (e *Engine) config() *domain.ComplianceConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Evaluate runs the regulatory checks in fixed order and returns the
// combined decision. Jurisdiction blocks short-circuit: a blacklisted
// counterparty is final and the remaining checks add nothing a filing
// officer needs. All other checks accumulate, escalate-only.
func (e *Engine) Evaluate(in Input) domain.ComplianceDecision {
	cfg := e.config()
	cd := domain.ComplianceDecision{Decision: domain.DecisionAllow}

	// 1. FATF call-for-action list: immediate block, STR filed.
	if country, hit := firstHit(in, cfg.IsBlacklisted); hit {
		cd.SetDecision(domain.DecisionBlock)
		cd.STRRequired = true
		cd.AddReason(ReasonFATFBlacklist, fmt.Sprintf("counterparty country %s is on the FATF blacklist", country))
		return cd
	}

	// 2. Central-bank high-risk list: blocked like the blacklist, tracked
	// under its own reason for reporting.
	if country, hit := firstHit(in, cfg.IsHighRisk); hit {
		cd.SetDecision(domain.DecisionBlock)
		cd.STRRequired = true
		cd.AddReason(ReasonCBKHighRisk, fmt.Sprintf("counterparty country %s is on the central bank high-risk list", country))
		return cd
	}

	thresholds := cfg.ThresholdsFor(in.Currency)

	// 3. Currency transaction report threshold.
	if in.Amount.GreaterThanOrEqual(decimal.NewFromInt(thresholds.CTR)) {
		cd.CTRRequired = true
		cd.AddReason(ReasonCTRThreshold, fmt.Sprintf("amount meets the %s CTR threshold of %d", in.Currency, thresholds.CTR))
	}

	// 4. FATF increased-monitoring list: enhanced due diligence, no block.
	if country, hit := firstHit(in, cfg.IsGreylisted); hit {
		cd.EnhancedDueDiligence = true
		cd.AddReason(ReasonFATFGreylist, fmt.Sprintf("counterparty country %s is on the FATF greylist", country))
	}

	// 5. Politically exposed person: enhanced due diligence.
	if in.IsPEP && cfg.PEPEnhancedDueDiligence {
		cd.EnhancedDueDiligence = true
		cd.AddReason(ReasonPEPEDD, "politically exposed person requires enhanced due diligence")
	}

	// 6. Structuring: repeated amounts just under the reporting threshold.
	// A single near-threshold transaction is not a pattern.
	if in.VelocityCount >= 2 &&
		in.Amount.GreaterThanOrEqual(decimal.NewFromInt(thresholds.Structuring)) &&
		in.Amount.LessThan(decimal.NewFromInt(thresholds.CTR)) {
		cd.SetDecision(domain.DecisionHold)
		cd.STRRequired = true
		cd.AddReason(ReasonStructuring, "repeated transactions just below the reporting threshold")
	}

	// 7/8. ML score bands. Only the review band files an STR: a block is
	// final and needs no report, a hold goes to an analyst with one.
	switch {
	case in.MLScore > cfg.MLBlockThreshold:
		cd.SetDecision(domain.DecisionBlock)
		cd.AddReason(ReasonMLHighRisk, fmt.Sprintf("ML risk score %.2f exceeds the block threshold", in.MLScore))
	case in.MLScore > cfg.MLHoldThreshold:
		cd.SetDecision(domain.DecisionHold)
		cd.STRRequired = true
		cd.AddReason(ReasonMLMediumRisk, fmt.Sprintf("ML risk score %.2f exceeds the review threshold", in.MLScore))
	}

	return cd
}

// EvaluateFacts adapts a fact set to a compliance evaluation.
func (e *Engine) EvaluateFacts(f *domain.FactSet, velocityCount int64) domain.ComplianceDecision {
	return e.Evaluate(Input{
		Amount:        f.Amount,
		Currency:      f.Currency,
		OriginCountry: f.OriginCountry,
		DestCountry:   f.DestCountry,
		IsPEP:         f.IsPEP(),
		VelocityCount: velocityCount,
		MLScore:       f.FloatOr(domain.SignalMLScore, 0),
	})
}

// firstHit applies a jurisdiction predicate to origin then destination and
// returns the first country that matches.
func firstHit(in Input, listed func(string) bool) (string, bool) {
	if listed(in.OriginCountry) {
		return in.OriginCountry, true
	}
	if listed(in.DestCountry) {
		return in.DestCountry, true
	}
	return "", false
}
