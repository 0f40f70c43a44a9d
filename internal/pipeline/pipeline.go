// Package pipeline wires the decisioning stages into one evaluation:
// velocity, typology rules, risk scoring, and the compliance decision.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// EngineVersion is stamped into assessment metadata for audit traceability.
const EngineVersion = "kestrel-1.0"

// Engine runs the full decisioning pipeline for one transaction. All
// persistence is best-effort: the decision itself never depends on the
// cache, the audit store or the event bus being reachable.
type Engine struct {
	rules      *rules.Engine
	scorer     *scoring.Scorer
	compliance *compliance.Engine
	velocity   *velocity.Service

	cache domain.DecisionCache
	repo  domain.Repository
	bus   domain.EventBus

	assessmentTTL time.Duration
}

// Config holds the pipeline dependencies. Rules, scorer and compliance are
// required; cache, repo, bus and velocity are optional and degrade to
// no-ops when absent.
type Config struct {
	Rules      *rules.Engine
	Scorer     *scoring.Scorer
	Compliance *compliance.Engine
	Velocity   *velocity.Service

	Cache domain.DecisionCache
	Repo  domain.Repository
	Bus   domain.EventBus

	AssessmentTTL time.Duration
}

// New creates a pipeline engine.
func New(cfg Config) *Engine {
	ttl := cfg.AssessmentTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Engine{
		rules:         cfg.Rules,
		scorer:        cfg.Scorer,
		compliance:    cfg.Compliance,
		velocity:      cfg.Velocity,
		cache:         cfg.Cache,
		repo:          cfg.Repo,
		bus:           cfg.Bus,
		assessmentTTL: ttl,
	}
}

// Evaluate runs the pipeline for a fact set and returns the assessment.
// Repeat evaluations of the same transaction within the memoization TTL
// return the cached decision unchanged.
func (e *Engine) Evaluate(ctx context.Context, f *domain.FactSet) *domain.Assessment {
	start := time.Now()

	// Fast path: decision already memoized.
	if e.cache != nil {
		if cached, err := cache.GetAssessment(ctx, e.cache, f.TxnID); err == nil && cached != nil {
			cached.Metadata.FromCache = true
			return cached
		} else if err != nil {
			slog.Warn("decision cache read failed",
				"txn_id", f.TxnID,
				"error", err)
		}
	}

	// Velocity observation feeds both the rule engine and the compliance
	// structuring check. It is passed alongside the facts: the fact set is
	// the caller's and stays untouched.
	var velocityCount int64
	if e.velocity != nil {
		velocityCount = e.velocity.Observe(ctx, f.PANHash)
	}
	if velocityCount == 0 {
		velocityCount = f.Int(domain.SignalPANTxnCount1h)
	}

	// Typology rules.
	var outcome domain.RuleOutcome
	rulesEvaluated := 0
	if e.rules != nil {
		outcome = e.rules.EvaluateWithVelocity(ctx, f, velocityCount)
		rulesEvaluated = e.rules.Count()
	}

	// Risk scores.
	score := e.scorer.Overall(f, outcome)

	// Regulatory checks, then fold in the rule decision: the compliance
	// decision only ever escalates.
	cd := e.compliance.EvaluateFacts(f, velocityCount)
	cd.SetDecision(outcome.Decision)

	assessment := &domain.Assessment{
		ID:         uuid.New().String(),
		TxnID:      f.TxnID,
		MerchantID: f.MerchantID,
		Score:      score,
		Compliance: cd,
		Timestamp:  time.Now().UTC(),
		Metadata: domain.AssessmentMetadata{
			TraceID:        traceID(ctx),
			RulesEvaluated: rulesEvaluated,
			VelocityCount:  velocityCount,
			TotalMs:        time.Since(start).Milliseconds(),
			EngineVersion:  EngineVersion,
		},
	}

	e.persist(ctx, f, assessment)
	e.publish(ctx, assessment)

	return assessment
}

// persist memoizes and audits the assessment. Failures are logged, never
// returned: the decision stands regardless.
func (e *Engine) persist(ctx context.Context, f *domain.FactSet, a *domain.Assessment) {
	if e.cache != nil {
		if err := cache.SetAssessment(ctx, e.cache, a, e.assessmentTTL); err != nil {
			slog.Warn("decision cache write failed",
				"txn_id", a.TxnID,
				"error", err)
		}
	}

	if e.repo == nil {
		return
	}
	if err := e.repo.SaveTransaction(ctx, f.Record()); err != nil {
		slog.Warn("transaction audit write failed",
			"txn_id", a.TxnID,
			"error", err)
	}
	if err := e.repo.SaveAssessment(ctx, a); err != nil {
		slog.Warn("assessment audit write failed",
			"txn_id", a.TxnID,
			"error", err)
	}
}

// publish emits the decision event, plus an alert when the transaction
// needs attention (held, blocked, or an STR to file).
func (e *Engine) publish(ctx context.Context, a *domain.Assessment) {
	if e.bus == nil {
		return
	}

	payload, err := json.Marshal(a)
	if err != nil {
		slog.Error("failed to marshal assessment",
			"txn_id", a.TxnID,
			"error", err)
		return
	}

	if err := e.bus.Publish(ctx, domain.TopicDecision, payload); err != nil {
		slog.Warn("decision publish failed",
			"txn_id", a.TxnID,
			"error", err)
	}

	if a.Compliance.Decision != domain.DecisionAllow || a.Compliance.STRRequired {
		if err := e.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			slog.Warn("alert publish failed",
				"txn_id", a.TxnID,
				"error", err)
		}
	}

	if a.Compliance.CTRRequired || a.Compliance.STRRequired {
		if err := e.bus.Publish(ctx, domain.TopicRegulatoryFiling, payload); err != nil {
			slog.Warn("filing publish failed",
				"txn_id", a.TxnID,
				"error", err)
		}
	}
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
