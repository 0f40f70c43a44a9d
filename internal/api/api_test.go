package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/matching"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(1000)
	t.Cleanup(func() { c.Close() })

	ruleEngine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}
	ccfg := domain.DefaultComplianceConfig()
	if err := ruleEngine.Load(rules.BuiltinRules(ccfg)); err != nil {
		t.Fatalf("load builtin rules: %v", err)
	}

	scorer := scoring.NewScorer(domain.DefaultRiskConfig())
	comp := compliance.NewEngine(ccfg)

	pipe := pipeline.New(pipeline.Config{
		Rules:      ruleEngine,
		Scorer:     scorer,
		Compliance: comp,
		Velocity:   velocity.NewService(c, repo, time.Hour),
		Cache:      c,
		Repo:       repo,
	})

	handler := NewHandler(HandlerConfig{
		Pipeline:         pipe,
		Rules:            ruleEngine,
		Scorer:           scorer,
		Compliance:       comp,
		Matcher:          matching.NewMatcher(domain.MatchingConfig{}),
		Repo:             repo,
		Cache:            c,
		ComplianceConfig: ccfg,
	})

	return NewServer(domain.ServerConfig{Host: "127.0.0.1", Port: 0}, handler)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func evaluateBody(txnID string, amount float64) map[string]any {
	return map[string]any{
		"txnId":         txnID,
		"merchantId":    "mer-1",
		"amount":        amount,
		"currency":      "USD",
		"originCountry": "US",
		"destCountry":   "GB",
		"mcc":           "5411",
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestReady(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
}

func TestEvaluate(t *testing.T) {
	s := testServer(t)

	t.Run("benign transaction allowed", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-1", 50))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		a := decode[domain.Assessment](t, rec)
		if a.Compliance.Decision != domain.DecisionAllow {
			t.Errorf("decision = %v, want ALLOW", a.Compliance.Decision)
		}
		if a.TxnID != "txn-1" {
			t.Errorf("txnId = %q, want txn-1", a.TxnID)
		}
	})

	t.Run("blacklisted destination blocked", func(t *testing.T) {
		body := evaluateBody("txn-2", 100)
		body["destCountry"] = "KP"
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		a := decode[domain.Assessment](t, rec)
		if a.Compliance.Decision != domain.DecisionBlock {
			t.Errorf("decision = %v, want BLOCK", a.Compliance.Decision)
		}
		if !a.Compliance.STRRequired {
			t.Error("STR must be required for a blacklisted counterparty")
		}
	})

	t.Run("missing txnId is generated", func(t *testing.T) {
		body := evaluateBody("", 50)
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		a := decode[domain.Assessment](t, rec)
		if a.TxnID == "" {
			t.Error("txnId not generated")
		}
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-bad", 0))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects missing currency", func(t *testing.T) {
		body := evaluateBody("txn-bad", 50)
		delete(body, "currency")
		rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGetAssessment(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-lookup", 50))

	t.Run("found", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/assessments/txn-lookup", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		a := decode[domain.Assessment](t, rec)
		if a.TxnID != "txn-lookup" {
			t.Errorf("txnId = %q, want txn-lookup", a.TxnID)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/assessments/txn-absent", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}

func TestGetTransaction(t *testing.T) {
	s := testServer(t)

	doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-audit", 75))

	rec := doJSON(t, s, http.MethodGet, "/api/v1/transactions/txn-audit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	tx := decode[domain.TransactionRecord](t, rec)
	if tx.TxnID != "txn-audit" {
		t.Errorf("txnId = %q, want txn-audit", tx.TxnID)
	}
}

func TestScreen(t *testing.T) {
	s := testServer(t)

	t.Run("watchlist hit", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/screen", map[string]any{
			"name":      "Jon Smith",
			"watchlist": []string{"Alice Green", "John Smyth"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		res := decode[domain.MatchResult](t, rec)
		if !res.IsMatch {
			t.Errorf("IsMatch = false for a spelling variant: %+v", res)
		}
	})

	t.Run("no hit", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/screen", map[string]any{
			"name":      "Wei Zhang",
			"watchlist": []string{"Alice Green", "John Smyth"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		res := decode[domain.MatchResult](t, rec)
		if res.IsMatch {
			t.Errorf("IsMatch = true for unrelated names: %+v", res)
		}
	})

	t.Run("rejects empty watchlist", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/screen", map[string]any{"name": "Jon Smith"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	s := testServer(t)

	t.Run("list builtin rules", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[struct {
			Rules []domain.RuleDefinition `json:"rules"`
			Count int                     `json:"count"`
		}](t, rec)
		if body.Count != 9 {
			t.Errorf("count = %d, want 9 builtin rules", body.Count)
		}
	})

	t.Run("create and evaluate dynamic rule", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/", domain.RuleDefinition{
			Name:       "LARGE_EUR_TRANSFER",
			Priority:   3,
			Expression: `currency == "EUR" && amount > 5000.0`,
			Action:     "HOLD",
			Enabled:    true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		created := decode[domain.RuleDefinition](t, rec)
		if created.ID == "" {
			t.Fatal("rule ID not generated")
		}

		body := evaluateBody("txn-eur", 6000)
		body["currency"] = "EUR"
		rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", body)
		a := decode[domain.Assessment](t, rec)
		found := false
		for _, name := range a.Score.TriggeredRules {
			if name == "LARGE_EUR_TRANSFER" {
				found = true
			}
		}
		if !found {
			t.Errorf("triggered = %v, want LARGE_EUR_TRANSFER", a.Score.TriggeredRules)
		}
		if a.Compliance.Decision != domain.DecisionHold {
			t.Errorf("decision = %v, want HOLD", a.Compliance.Decision)
		}

		t.Run("get by id", func(t *testing.T) {
			rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			got := decode[domain.RuleDefinition](t, rec)
			if got.Name != "LARGE_EUR_TRANSFER" {
				t.Errorf("name = %q", got.Name)
			}
		})
	})

	t.Run("rejects invalid expression", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/", domain.RuleDefinition{
			Name:       "BROKEN",
			Expression: "amount >>> 5",
			Enabled:    true,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("get unknown rule", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodGet, "/api/v1/rules/no-such-rule", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("reload restores builtins plus stored rules", func(t *testing.T) {
		rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/reload", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		body := decode[map[string]any](t, rec)
		// 9 builtins + the dynamic rule created above.
		if count, _ := body["count"].(float64); count != 10 {
			t.Errorf("count = %v, want 10", body["count"])
		}
	})
}

func TestRuleOverridesBuiltin(t *testing.T) {
	s := testServer(t)

	// An operator rule reusing a builtin name replaces it rather than
	// firing alongside it.
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/", domain.RuleDefinition{
		Name:       "HIGH_VALUE_TRANSACTION",
		Priority:   1,
		Expression: "amount >= 5000.0",
		Action:     "HOLD",
		Enabled:    true,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/rules/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	reloaded := decode[map[string]any](t, rec)
	if count, _ := reloaded["count"].(float64); count != 9 {
		t.Errorf("count = %v, want 9: the override replaces the builtin", reloaded["count"])
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-override", 6000))
	a := decode[domain.Assessment](t, rec)
	hits := 0
	for _, name := range a.Score.TriggeredRules {
		if name == "HIGH_VALUE_TRANSACTION" {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("triggered = %v, want HIGH_VALUE_TRANSACTION exactly once", a.Score.TriggeredRules)
	}
	if a.Compliance.Decision != domain.DecisionHold {
		t.Errorf("decision = %v, want HOLD from the overriding action", a.Compliance.Decision)
	}
}

func TestUpdateRiskConfig(t *testing.T) {
	s := testServer(t)

	cfg := domain.DefaultRiskConfig()
	cfg.CountryRisk["GB"] = 95

	rec := doJSON(t, s, http.MethodPut, "/api/v1/config/risk", cfg)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The destination now carries enough risk to move the transaction score.
	rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-risk", 50))
	a := decode[domain.Assessment](t, rec)
	if a.Score.TRS < 30 {
		t.Errorf("TRS = %v, want raised after config update", a.Score.TRS)
	}
}

func TestUpdateComplianceConfig(t *testing.T) {
	s := testServer(t)

	cfg := domain.DefaultComplianceConfig()
	cfg.Blacklist = append(cfg.Blacklist, "GB")

	rec := doJSON(t, s, http.MethodPut, "/api/v1/config/compliance", cfg)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-gb", 50))
	a := decode[domain.Assessment](t, rec)
	if a.Compliance.Decision != domain.DecisionBlock {
		t.Errorf("decision = %v, want BLOCK after blacklist update", a.Compliance.Decision)
	}
}

func TestTracingHeaders(t *testing.T) {
	s := testServer(t)

	rec := doJSON(t, s, http.MethodGet, "/health", nil)
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("X-Request-ID header not set")
	}
	if rec.Header().Get(TraceIDHeader) == "" {
		t.Error("X-Trace-ID header not set")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/evaluate", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestEvaluateMemoizedAcrossRequests(t *testing.T) {
	s := testServer(t)

	first := decode[domain.Assessment](t, doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-twice", 50)))
	second := decode[domain.Assessment](t, doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody("txn-twice", 50)))

	if second.ID != first.ID {
		t.Errorf("assessment ID changed across repeat requests: %s vs %s", first.ID, second.ID)
	}
	if !second.Metadata.FromCache {
		t.Error("repeat request not served from cache")
	}
}

func TestConcurrentEvaluations(t *testing.T) {
	s := testServer(t)

	const n = 16
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			rec := doJSON(t, s, http.MethodPost, "/api/v1/evaluate", evaluateBody(fmt.Sprintf("txn-c%d", i), 50))
			if rec.Code != http.StatusOK {
				done <- fmt.Errorf("status %d: %s", rec.Code, rec.Body.String())
				return
			}
			done <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Error(err)
		}
	}
}
