package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/matching"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	pipeline   *pipeline.Engine
	rules      *rules.Engine
	scorer     *scoring.Scorer
	compliance ComplianceReloader
	matcher    *matching.Matcher

	repo  domain.Repository
	cache domain.DecisionCache
	bus   domain.EventBus

	// complianceCfg is the snapshot the built-in rules were generated from.
	// Updating compliance config regenerates them on the next rule reload.
	cfgMu         sync.Mutex
	complianceCfg *domain.ComplianceConfig

	version string
}

// ComplianceReloader is the slice of the compliance engine the API needs:
// config swap on administrative update.
type ComplianceReloader interface {
	Reload(cfg *domain.ComplianceConfig)
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Pipeline   *pipeline.Engine
	Rules      *rules.Engine
	Scorer     *scoring.Scorer
	Compliance ComplianceReloader
	Matcher    *matching.Matcher

	Repo  domain.Repository
	Cache domain.DecisionCache
	Bus   domain.EventBus

	ComplianceConfig *domain.ComplianceConfig
	Version          string
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	version := cfg.Version
	if version == "" {
		version = pipeline.EngineVersion
	}
	ccfg := cfg.ComplianceConfig
	if ccfg == nil {
		ccfg = domain.DefaultComplianceConfig()
	}
	return &Handler{
		pipeline:      cfg.Pipeline,
		rules:         cfg.Rules,
		scorer:        cfg.Scorer,
		compliance:    cfg.Compliance,
		matcher:       cfg.Matcher,
		repo:          cfg.Repo,
		cache:         cfg.Cache,
		bus:           cfg.Bus,
		complianceCfg: ccfg,
		version:       version,
	}
}

// EvaluateRequest is the POST /evaluate payload. It mirrors the fact set;
// txnId and timestamp are generated when absent.
type EvaluateRequest struct {
	TxnID          string          `json:"txnId"`
	MerchantID     string          `json:"merchantId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	OriginCountry  string          `json:"originCountry"`
	DestCountry    string          `json:"destCountry"`
	MCC            string          `json:"mcc,omitempty"`
	Channel        string          `json:"channel,omitempty"`
	PANHash        string          `json:"panHash,omitempty"`
	TransactionURL string          `json:"transactionUrl,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitempty"`

	Merchant *domain.MerchantProfile `json:"merchant,omitempty"`
	Signals  map[string]any          `json:"signals,omitempty"`
}

// Evaluate handles POST /evaluate.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Amount.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Currency == "" {
		writeError(w, http.StatusBadRequest, "currency is required")
		return
	}
	if req.OriginCountry == "" {
		writeError(w, http.StatusBadRequest, "originCountry is required")
		return
	}

	if req.TxnID == "" {
		req.TxnID = uuid.New().String()
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}

	f := &domain.FactSet{
		TxnID:          req.TxnID,
		MerchantID:     req.MerchantID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		OriginCountry:  req.OriginCountry,
		DestCountry:    req.DestCountry,
		MCC:            req.MCC,
		Channel:        req.Channel,
		PANHash:        req.PANHash,
		TransactionURL: req.TransactionURL,
		Timestamp:      req.Timestamp,
		Merchant:       req.Merchant,
		Signals:        req.Signals,
	}

	// Fill the merchant profile from the store when the caller sent only
	// an ID.
	if f.Merchant == nil && f.MerchantID != "" && h.repo != nil {
		m, err := h.repo.GetMerchant(r.Context(), f.MerchantID)
		if err == nil {
			f.Merchant = m
		} else if !errors.Is(err, repository.ErrNotFound) {
			slog.Warn("merchant lookup failed",
				"merchant_id", f.MerchantID,
				"error", err)
		}
	}

	assessment := h.pipeline.Evaluate(r.Context(), f)
	writeJSON(w, http.StatusOK, assessment)
}

// ScreenRequest is the POST /screen payload: one name against a watchlist.
type ScreenRequest struct {
	Name      string   `json:"name"`
	Watchlist []string `json:"watchlist"`
}

// Screen handles POST /screen: fuzzy name screening against a caller-supplied
// watchlist. The response is the matching result (first hit, or the closest
// non-match for audit context).
func (h *Handler) Screen(w http.ResponseWriter, r *http.Request) {
	var req ScreenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Watchlist) == 0 {
		writeError(w, http.StatusBadRequest, "watchlist must not be empty")
		return
	}

	writeJSON(w, http.StatusOK, h.matcher.MatchAny(req.Name, req.Watchlist))
}

// GetAssessment handles GET /assessments/{txnId}.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")

	a, err := h.repo.GetAssessmentByTxn(r.Context(), txnID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "assessment not found")
			return
		}
		slog.Error("failed to get assessment", "txn_id", txnID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// GetTransaction handles GET /transactions/{txnId}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnId")

	tx, err := h.repo.GetTransaction(r.Context(), txnID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		slog.Error("failed to get transaction", "txn_id", txnID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get transaction")
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules handles GET /rules: the loaded rule set in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	defs := h.rules.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": defs,
		"count": len(defs),
	})
}

// GetRule handles GET /rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	for _, def := range h.rules.Rules() {
		if def.ID == id {
			writeJSON(w, http.StatusOK, def)
			return
		}
	}

	// Not loaded; the store may still hold it (disabled rules).
	if h.repo != nil {
		def, err := h.repo.GetRuleDefinition(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, def)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			slog.Error("failed to get rule", "rule_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get rule")
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule handles POST /rules: validate, persist, and register the new
// rule in the running engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var def domain.RuleDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.rules.Validate(def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid rule: "+err.Error())
		return
	}

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	if h.repo != nil {
		if err := h.repo.SaveRuleDefinition(r.Context(), &def); err != nil {
			slog.Error("failed to save rule", "rule_name", def.Name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	}

	if def.Enabled {
		if err := h.rules.Register(def); err != nil {
			// Validate passed, so this is unexpected; the rule is stored
			// and will load on the next reload.
			slog.Error("failed to register rule", "rule_name", def.Name, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, def)
}

// ReloadRules handles POST /rules/reload: rebuild the rule set from the
// built-in typology rules plus the enabled definitions in the store. A
// stored definition with a built-in's name replaces it.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	h.cfgMu.Lock()
	defs := rules.BuiltinRules(h.complianceCfg)
	h.cfgMu.Unlock()

	if h.repo != nil {
		stored, err := h.repo.ListRuleDefinitions(r.Context())
		if err != nil {
			slog.Error("failed to list rules", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list rules")
			return
		}
		for _, def := range stored {
			defs = append(defs, *def)
		}
	}

	if err := h.rules.Reload(defs); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "reload failed: "+err.Error())
		return
	}

	slog.Info("rules reloaded", "count", h.rules.Count())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reloaded",
		"count":  h.rules.Count(),
	})
}

// UpdateRiskConfig handles PUT /config/risk: swap the scorer's risk tables.
func (h *Handler) UpdateRiskConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.RiskConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.scorer.Reload(&cfg)
	slog.Info("risk config updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// UpdateComplianceConfig handles PUT /config/compliance: swap the compliance
// engine's jurisdiction lists and thresholds. The built-in rules pick up the
// new lists on the next POST /rules/reload.
func (h *Handler) UpdateComplianceConfig(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ComplianceConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	h.compliance.Reload(&cfg)
	h.cfgMu.Lock()
	h.complianceCfg = &cfg
	h.cfgMu.Unlock()

	slog.Info("compliance config updated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready handles GET /ready: pings every wired backend.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			checks["repository"] = err.Error()
			healthy = false
		} else {
			checks["repository"] = "ok"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			checks["cache"] = err.Error()
			healthy = false
		} else {
			checks["cache"] = "ok"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			checks["bus"] = err.Error()
			healthy = false
		} else {
			checks["bus"] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}

	writeJSON(w, status, map[string]any{
		"status": state,
		"checks": checks,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
