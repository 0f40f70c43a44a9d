// Package scoring computes the layered risk scores: merchant KRS,
// transaction TRS, cumulative CRA, and the weighted final score.
package scoring

import (
	"math"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Final-score composition weights. The component weights inside KRS and TRS
// come from config; the top-level blend is fixed.
const (
	finalKRSWeight         = 0.3
	finalTransactionWeight = 0.4
	finalCRAWeight         = 0.3
)

// Rule sub-score contributions.
const (
	perRuleScore        = 20.0
	highAmountBonus     = 30.0
	highAmountFloor     = 10000.0
	riskyCountryBonus   = 40.0
	riskyCountryMinRisk = 50.0
)

// Scorer computes risk scores from the configured reference tables. The
// config is an immutable snapshot swapped whole on reload, so reads take
// only the pointer under the lock.
type Scorer struct {
	mu  sync.RWMutex
	cfg *domain.RiskConfig
}

// NewScorer creates a scorer. A nil config falls back to the built-in tables.
func NewScorer(cfg *domain.RiskConfig) *Scorer {
	if cfg == nil {
		cfg = domain.DefaultRiskConfig()
	}
	return &Scorer{cfg: cfg}
}

// Reload swaps in a new risk-table snapshot. In-flight evaluations keep the
// snapshot they started with.
func (s *Scorer) Reload(cfg *domain.RiskConfig) {
	if cfg == nil {
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scorer) config() *domain.RiskConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// KRS computes the KYC risk score for a merchant: weighted blend of country
// risk, category risk and entity age. A nil profile scores the default risk.
func (s *Scorer) KRS(m *domain.MerchantProfile) float64 {
	cfg := s.config()
	if m == nil {
		return clamp(cfg.DefaultRisk)
	}

	ageRisk := cfg.EstablishedEntityRisk
	if m.New {
		ageRisk = cfg.NewEntityRisk
	}

	krs := cfg.CountryRiskOf(m.Country)*cfg.CountryWeight +
		cfg.CategoryRiskOf(m.MCC)*cfg.CategoryWeight +
		ageRisk*cfg.AgeWeight

	return clamp(krs)
}

// TRS computes the per-transaction risk score: weighted blend of origin
// country, destination country and amount-band risk.
func (s *Scorer) TRS(origin, dest string, amount float64) float64 {
	cfg := s.config()

	trs := cfg.CountryRiskOf(origin)*cfg.OriginWeight +
		cfg.CountryRiskOf(dest)*cfg.DestWeight +
		s.amountRisk(cfg, amount)*cfg.AmountWeight

	return clamp(trs)
}

// UpdateCRA folds a new transaction score into the cumulative risk
// assessment: the running average of the previous CRA and the new TRS.
// With no meaningful history the new score stands alone.
func (s *Scorer) UpdateCRA(prev, trs float64) float64 {
	if prev <= 0 {
		return clamp(trs)
	}
	return clamp((prev + trs) / 2)
}

// RuleScore converts a rule outcome into a sub-score: a fixed contribution
// per triggered rule, plus bonuses for high amounts and risky origin
// countries, capped at 100. No triggered rules means no contribution.
func (s *Scorer) RuleScore(f *domain.FactSet, outcome domain.RuleOutcome) float64 {
	if len(outcome.Triggered) == 0 {
		return 0
	}
	cfg := s.config()

	score := perRuleScore * float64(len(outcome.Triggered))
	if f.AmountFloat() > highAmountFloor {
		score += highAmountBonus
	}
	if cfg.CountryRiskOf(f.OriginCountry) > riskyCountryMinRisk {
		score += riskyCountryBonus
	}

	return clamp(score)
}

// Overall computes the complete score result for a transaction. The final
// score blends KRS, the transaction component and CRA; the transaction
// component is the higher of TRS and the rule sub-score, so triggered rules
// can raise the final score but never lower it. A BLOCK rule decision forces
// the final score to 100.
func (s *Scorer) Overall(f *domain.FactSet, outcome domain.RuleOutcome) domain.ScoreResult {
	krs := s.KRS(f.Merchant)
	trs := s.TRS(f.OriginCountry, f.DestCountry, f.AmountFloat())
	cra := s.UpdateCRA(f.Float(domain.SignalCurrentCRA), trs)
	ruleScore := s.RuleScore(f, outcome)

	txnComponent := trs
	if ruleScore > txnComponent {
		txnComponent = ruleScore
	}

	final := clamp(krs*finalKRSWeight + txnComponent*finalTransactionWeight + cra*finalCRAWeight)
	if outcome.Decision == domain.DecisionBlock {
		final = 100
	}

	return domain.ScoreResult{
		KRS:            krs,
		TRS:            trs,
		CRA:            cra,
		RuleScore:      ruleScore,
		FinalScore:     final,
		MLScore:        f.FloatOr(domain.SignalMLScore, 0),
		RuleDecision:   outcome.Decision,
		TriggeredRules: outcome.Triggered,
	}
}

// amountRisk resolves the amount to its band risk. Bands are ordered; the
// first band whose UpTo bound exceeds the amount wins, and a zero UpTo marks
// the unbounded final band.
func (s *Scorer) amountRisk(cfg *domain.RiskConfig, amount float64) float64 {
	for _, band := range cfg.AmountBands {
		if band.UpTo == 0 || amount < band.UpTo {
			return band.Risk
		}
	}
	return cfg.DefaultRisk
}

// clamp bounds a score to [0,100]. NaN collapses to 0 rather than
// propagating into the decision.
func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
