// Package rules provides the CEL-Go based typology rule engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the rule set against transaction facts. All enabled rules
// are evaluated on every call, in ascending priority order (registration
// order breaks ties); a triggered rule never suppresses evaluation of the
// rest. The loaded rule set is swapped atomically on reload.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	entries []*compiledRule
	nextSeq int
}

// compiledRule pairs a rule definition with its pre-compiled CEL program.
type compiledRule struct {
	def     domain.RuleDefinition
	program cel.Program
	seq     int
}

// NewEngine creates a rule engine with the transaction fact environment.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("origin_country", cel.StringType),
		cel.Variable("destination_country", cel.StringType),
		cel.Variable("mcc", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("transaction_url", cel.StringType),
		cel.Variable("merchant_name", cel.StringType),
		cel.Variable("merchant_country", cel.StringType),
		cel.Variable("merchant_mcc", cel.StringType),
		cel.Variable("merchant_website", cel.StringType),
		cel.Variable("is_pep", cel.BoolType),
		cel.Variable("is_new_merchant", cel.BoolType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("ml_score", cel.DoubleType),
		// Graph/behavioral signals surfaced as first-class booleans.
		cel.Variable("linked_to_blocked", cel.BoolType),
		cel.Variable("behavioral_anomaly", cel.BoolType),
		cel.Variable("structuring_suspected", cel.BoolType),
		cel.Variable("third_party_suspected", cel.BoolType),
		// Derived comparisons computed once per evaluation.
		cel.Variable("url_mismatch", cel.BoolType),
		cel.Variable("mcc_mismatch", cel.BoolType),
		// Raw signal map for anything not promoted above.
		cel.Variable("facts", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// Validate compiles a rule definition without loading it.
func (e *Engine) Validate(def domain.RuleDefinition) error {
	_, err := e.compile(def)
	return err
}

// Register compiles and adds a single rule to the loaded set. A rule with
// the same name as a loaded rule replaces it, so operators can override a
// built-in without it firing twice.
func (e *Engine) Register(def domain.RuleDefinition) error {
	prog, err := e.compile(def)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i, entry := range e.entries {
		if entry.def.Name == def.Name {
			e.entries[i] = &compiledRule{def: def, program: prog, seq: entry.seq}
			sortEntries(e.entries)
			return nil
		}
	}

	e.entries = append(e.entries, &compiledRule{def: def, program: prog, seq: e.nextSeq})
	e.nextSeq++
	sortEntries(e.entries)

	return nil
}

// Load registers all enabled definitions, keeping any rules already loaded.
func (e *Engine) Load(defs []domain.RuleDefinition) error {
	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Reload replaces the entire loaded rule set. Definitions are deduplicated
// by name, later entries winning, so stored operator rules override the
// built-ins they are loaded after; a disabled override removes the rule
// entirely. The swap is all-or-nothing: a compile failure leaves the
// previous set untouched.
func (e *Engine) Reload(defs []domain.RuleDefinition) error {
	order := make([]string, 0, len(defs))
	byName := make(map[string]domain.RuleDefinition, len(defs))
	for _, def := range defs {
		if _, seen := byName[def.Name]; !seen {
			order = append(order, def.Name)
		}
		byName[def.Name] = def
	}

	entries := make([]*compiledRule, 0, len(order))
	seq := 0
	for _, name := range order {
		def := byName[name]
		if !def.Enabled {
			continue
		}
		prog, err := e.compile(def)
		if err != nil {
			return err
		}
		entries = append(entries, &compiledRule{def: def, program: prog, seq: seq})
		seq++
	}
	sortEntries(entries)

	e.mu.Lock()
	e.entries = entries
	e.nextSeq = seq
	e.mu.Unlock()

	return nil
}

// Evaluate runs every loaded rule against the fact set. A rule whose
// expression errors at runtime (missing signal, type mismatch) is treated as
// not triggered; evaluation of the remaining rules always continues. The
// outcome decision is the highest action among triggered rules.
func (e *Engine) Evaluate(ctx context.Context, f *domain.FactSet) domain.RuleOutcome {
	return e.EvaluateWithVelocity(ctx, f, f.Int(domain.SignalPANTxnCount1h))
}

// EvaluateWithVelocity is Evaluate with an externally observed velocity
// count. The count feeds the velocity_count variable only; the fact set is
// never written to.
func (e *Engine) EvaluateWithVelocity(ctx context.Context, f *domain.FactSet, velocityCount int64) domain.RuleOutcome {
	e.mu.RLock()
	entries := e.entries
	e.mu.RUnlock()

	outcome := domain.RuleOutcome{Decision: domain.DecisionAllow}
	if len(entries) == 0 {
		return outcome
	}

	activation := buildActivation(f, velocityCount)

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		out, _, err := entry.program.Eval(activation)
		if err != nil {
			slog.Debug("rule evaluation error",
				"rule", entry.def.Name,
				"error", err)
			continue
		}

		if !truthy(out) {
			continue
		}

		outcome.Triggered = append(outcome.Triggered, entry.def.Name)
		outcome.Decision = outcome.Decision.Escalate(domain.ParseDecision(entry.def.Action))
	}

	return outcome
}

// Rules returns the loaded definitions in evaluation order.
func (e *Engine) Rules() []domain.RuleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]domain.RuleDefinition, 0, len(e.entries))
	for _, entry := range e.entries {
		defs = append(defs, entry.def)
	}
	return defs
}

// Count returns the number of loaded rules.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

func (e *Engine) compile(def domain.RuleDefinition) (cel.Program, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("rule name is required")
	}
	if def.Expression == "" {
		return nil, fmt.Errorf("rule %s: expression is required", def.Name)
	}

	ast, issues := e.env.Compile(def.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", def.Name, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", def.Name, outputType)
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", def.Name, err)
	}

	return prog, nil
}

// sortEntries orders by ascending priority, registration order on ties.
func sortEntries(entries []*compiledRule) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].def.Priority != entries[j].def.Priority {
			return entries[i].def.Priority < entries[j].def.Priority
		}
		return entries[i].seq < entries[j].seq
	})
}

// buildActivation maps a fact set onto the CEL variable environment.
func buildActivation(f *domain.FactSet, velocityCount int64) map[string]any {
	var (
		merchantName    string
		merchantCountry string
		merchantMCC     string
		merchantWebsite string
	)
	if f.Merchant != nil {
		merchantName = f.Merchant.Name
		merchantCountry = f.Merchant.Country
		merchantMCC = f.Merchant.MCC
		merchantWebsite = f.Merchant.Website
	}

	signals := f.Signals
	if signals == nil {
		signals = map[string]any{}
	}

	return map[string]any{
		"amount":              f.AmountFloat(),
		"currency":            f.Currency,
		"origin_country":      f.OriginCountry,
		"destination_country": f.DestCountry,
		"mcc":                 f.MCC,
		"channel":             f.Channel,
		"transaction_url":     f.TransactionURL,
		"merchant_name":       merchantName,
		"merchant_country":    merchantCountry,
		"merchant_mcc":        merchantMCC,
		"merchant_website":    merchantWebsite,
		"is_pep":              f.IsPEP(),
		"is_new_merchant":     f.Merchant != nil && f.Merchant.New,
		"velocity_count":      velocityCount,
		"ml_score":            f.FloatOr(domain.SignalMLScore, 0),

		"linked_to_blocked":     f.Bool(domain.SignalLinkedToBlocked),
		"behavioral_anomaly":    f.Bool(domain.SignalBehavioralAnomaly),
		"structuring_suspected": f.Bool(domain.SignalStructuringSuspected),
		"third_party_suspected": f.Bool(domain.SignalThirdPartySuspected),

		"url_mismatch": urlMismatch(f.TransactionURL, merchantWebsite),
		"mcc_mismatch": f.MCC != "" && merchantMCC != "" && f.MCC != merchantMCC,

		"facts": signals,
	}
}

// urlMismatch compares the transaction URL against the merchant's registered
// website, ignoring scheme and www prefix. Missing values never mismatch.
func urlMismatch(txnURL, website string) bool {
	if txnURL == "" || website == "" {
		return false
	}
	return normalizeURL(txnURL) != normalizeURL(website)
}

func normalizeURL(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}

// truthy converts a CEL result to a fired/not-fired outcome. Numerics are
// truthy when non-zero so scoring expressions can double as predicates.
func truthy(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) != 0
	case types.Int:
		return int64(v) != 0
	default:
		return false
	}
}
