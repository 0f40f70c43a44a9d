package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func builtinEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Load(BuiltinRules(domain.DefaultComplianceConfig())); err != nil {
		t.Fatalf("Load builtin rules: %v", err)
	}
	return engine
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestBuiltinRulesCompile(t *testing.T) {
	engine := builtinEngine(t)
	if engine.Count() != 9 {
		t.Errorf("loaded %d builtin rules, want 9", engine.Count())
	}
}

func TestBuiltinHighRiskCountry(t *testing.T) {
	engine := builtinEngine(t)

	facts := testFacts(100, nil)
	facts.OriginCountry = "KP"

	outcome := engine.Evaluate(context.Background(), facts)
	if !contains(outcome.Triggered, RuleHighRiskCountry) {
		t.Fatalf("triggered = %v, want %s", outcome.Triggered, RuleHighRiskCountry)
	}
	if outcome.Decision != domain.DecisionBlock {
		t.Errorf("decision = %v, want BLOCK", outcome.Decision)
	}

	t.Run("destination counts too", func(t *testing.T) {
		facts := testFacts(100, nil)
		facts.DestCountry = "SY"
		outcome := engine.Evaluate(context.Background(), facts)
		if !contains(outcome.Triggered, RuleHighRiskCountry) {
			t.Errorf("triggered = %v, want %s", outcome.Triggered, RuleHighRiskCountry)
		}
	})
}

func TestBuiltinHighValue(t *testing.T) {
	engine := builtinEngine(t)

	outcome := engine.Evaluate(context.Background(), testFacts(15000, nil))
	if !contains(outcome.Triggered, RuleHighValueTransaction) {
		t.Fatalf("triggered = %v, want %s", outcome.Triggered, RuleHighValueTransaction)
	}
	// High value alone is record-only.
	if outcome.Decision != domain.DecisionAllow {
		t.Errorf("decision = %v, want ALLOW", outcome.Decision)
	}

	outcome = engine.Evaluate(context.Background(), testFacts(9999, nil))
	if contains(outcome.Triggered, RuleHighValueTransaction) {
		t.Error("amount below CTR threshold must not trigger high-value rule")
	}
}

func TestBuiltinStructuring(t *testing.T) {
	engine := builtinEngine(t)

	t.Run("near-threshold with velocity", func(t *testing.T) {
		outcome := engine.Evaluate(context.Background(), testFacts(9500, map[string]any{
			domain.SignalPANTxnCount1h: 3,
		}))
		if !contains(outcome.Triggered, RuleStructuring) {
			t.Fatalf("triggered = %v, want %s", outcome.Triggered, RuleStructuring)
		}
		if outcome.Decision != domain.DecisionHold {
			t.Errorf("decision = %v, want HOLD", outcome.Decision)
		}
	})

	t.Run("single near-threshold transaction", func(t *testing.T) {
		outcome := engine.Evaluate(context.Background(), testFacts(9500, map[string]any{
			domain.SignalPANTxnCount1h: 1,
		}))
		if contains(outcome.Triggered, RuleStructuring) {
			t.Error("one transaction is not a structuring pattern")
		}
	})

	t.Run("explicit signal", func(t *testing.T) {
		outcome := engine.Evaluate(context.Background(), testFacts(500, map[string]any{
			domain.SignalStructuringSuspected: true,
		}))
		if !contains(outcome.Triggered, RuleStructuring) {
			t.Errorf("triggered = %v, want %s from upstream signal", outcome.Triggered, RuleStructuring)
		}
	})
}

func TestBuiltinPEP(t *testing.T) {
	engine := builtinEngine(t)

	facts := testFacts(100, nil)
	facts.Merchant = &domain.MerchantProfile{MerchantID: "mer-1", Country: "US", MCC: "5411", PEP: true}

	outcome := engine.Evaluate(context.Background(), facts)
	if !contains(outcome.Triggered, RulePEPTransaction) {
		t.Fatalf("triggered = %v, want %s", outcome.Triggered, RulePEPTransaction)
	}
	if outcome.Decision != domain.DecisionHold {
		t.Errorf("decision = %v, want HOLD", outcome.Decision)
	}
}

func TestBuiltinLinkedToBlocked(t *testing.T) {
	engine := builtinEngine(t)

	outcome := engine.Evaluate(context.Background(), testFacts(100, map[string]any{
		domain.SignalLinkedToBlocked: true,
	}))
	if !contains(outcome.Triggered, RuleLinkedToBlocked) {
		t.Fatalf("triggered = %v, want %s", outcome.Triggered, RuleLinkedToBlocked)
	}
	if outcome.Decision != domain.DecisionBlock {
		t.Errorf("decision = %v, want BLOCK", outcome.Decision)
	}
}

func TestBuiltinMerchantMismatches(t *testing.T) {
	engine := builtinEngine(t)

	t.Run("url mismatch", func(t *testing.T) {
		facts := testFacts(100, nil)
		facts.TransactionURL = "https://evil.example/pay"
		facts.Merchant = &domain.MerchantProfile{MerchantID: "mer-1", Country: "US", MCC: "5411", Website: "shop.example"}

		outcome := engine.Evaluate(context.Background(), facts)
		if !contains(outcome.Triggered, RuleURLMismatch) {
			t.Errorf("triggered = %v, want %s", outcome.Triggered, RuleURLMismatch)
		}
	})

	t.Run("url match after normalization", func(t *testing.T) {
		facts := testFacts(100, nil)
		facts.TransactionURL = "https://www.shop.example/"
		facts.Merchant = &domain.MerchantProfile{MerchantID: "mer-1", Country: "US", MCC: "5411", Website: "http://shop.example"}

		outcome := engine.Evaluate(context.Background(), facts)
		if contains(outcome.Triggered, RuleURLMismatch) {
			t.Errorf("triggered = %v: scheme and www must not count as a mismatch", outcome.Triggered)
		}
	})

	t.Run("mcc mismatch holds", func(t *testing.T) {
		facts := testFacts(100, nil)
		facts.MCC = "7995"
		facts.Merchant = &domain.MerchantProfile{MerchantID: "mer-1", Country: "US", MCC: "5411"}

		outcome := engine.Evaluate(context.Background(), facts)
		if !contains(outcome.Triggered, RuleMCCMismatch) {
			t.Fatalf("triggered = %v, want %s", outcome.Triggered, RuleMCCMismatch)
		}
		if outcome.Decision != domain.DecisionHold {
			t.Errorf("decision = %v, want HOLD", outcome.Decision)
		}
	})
}

func TestBuiltinBenignTransaction(t *testing.T) {
	engine := builtinEngine(t)

	facts := &domain.FactSet{
		TxnID:         "txn-benign",
		MerchantID:    "mer-1",
		Amount:        decimal.NewFromInt(42),
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
		MCC:           "5411",
		Timestamp:     time.Now(),
		Merchant:      &domain.MerchantProfile{MerchantID: "mer-1", Country: "US", MCC: "5411"},
	}

	outcome := engine.Evaluate(context.Background(), facts)
	if len(outcome.Triggered) != 0 {
		t.Errorf("triggered = %v, want none for a benign transaction", outcome.Triggered)
	}
	if outcome.Decision != domain.DecisionAllow {
		t.Errorf("decision = %v, want ALLOW", outcome.Decision)
	}
}
