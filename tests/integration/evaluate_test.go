//go:build integration
// +build integration

// Package integration provides end-to-end tests for the Kestrel decisioning
// engine, run against a live instance.
//
// These tests verify the COMPLETE evaluation pipeline:
//
//	Transaction → Velocity → Rules → Scores → Compliance → Decision
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// The instance under test must run with the default configuration (built-in
// risk tables, FATF lists and USD/KES thresholds):
//
//	go run cmd/kestrel/main.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("KESTREL_TEST_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

// EvaluateRequest is the transaction sent to POST /api/v1/evaluate.
type EvaluateRequest struct {
	TxnID         string         `json:"txnId,omitempty"`
	MerchantID    string         `json:"merchantId,omitempty"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	OriginCountry string         `json:"originCountry"`
	DestCountry   string         `json:"destCountry,omitempty"`
	MCC           string         `json:"mcc,omitempty"`
	PANHash       string         `json:"panHash,omitempty"`
	Signals       map[string]any `json:"signals,omitempty"`
}

// Assessment is the response shape the tests assert against.
type Assessment struct {
	ID         string `json:"id"`
	TxnID      string `json:"txnId"`
	Compliance struct {
		Decision             string `json:"decision"`
		CTRRequired          bool   `json:"ctrRequired"`
		STRRequired          bool   `json:"strRequired"`
		EnhancedDueDiligence bool   `json:"enhancedDueDiligence"`
		Reasons              []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"reasons"`
	} `json:"compliance"`
	Score struct {
		FinalScore     float64  `json:"finalScore"`
		TriggeredRules []string `json:"triggeredRules"`
	} `json:"score"`
	Metadata struct {
		VelocityCount int64 `json:"velocityCount"`
		FromCache     bool  `json:"fromCache"`
	} `json:"metadata"`
}

func postJSON(t *testing.T, path string, req any, out any) {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL()+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		t.Fatalf("unmarshal response: %v (body: %s)", err, string(respBody))
	}
}

func evaluate(t *testing.T, req EvaluateRequest) Assessment {
	t.Helper()
	var a Assessment
	postJSON(t, "/api/v1/evaluate", req, &a)
	return a
}

func hasReason(a Assessment, code string) bool {
	for _, r := range a.Compliance.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// SCENARIO: a regular $50 domestic grocery purchase. Nothing fires, nothing
// is filed, the transaction is allowed.
func TestNormalTransaction_Allowed(t *testing.T) {
	a := evaluate(t, EvaluateRequest{
		Amount:        50,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
		MCC:           "5411",
	})

	if a.Compliance.Decision != "ALLOW" {
		t.Errorf("decision = %s, want ALLOW", a.Compliance.Decision)
	}
	if a.Compliance.CTRRequired || a.Compliance.STRRequired {
		t.Errorf("no filings expected: %+v", a.Compliance)
	}
	if len(a.Score.TriggeredRules) != 0 {
		t.Errorf("triggered = %v, want none", a.Score.TriggeredRules)
	}

	t.Logf("✓ allowed: score=%.1f", a.Score.FinalScore)
}

// SCENARIO: any transaction touching a FATF call-for-action jurisdiction is
// blocked immediately with an STR, regardless of amount.
func TestBlacklistedCountry_Blocked(t *testing.T) {
	a := evaluate(t, EvaluateRequest{
		Amount:        25,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "KP",
	})

	if a.Compliance.Decision != "BLOCK" {
		t.Fatalf("decision = %s, want BLOCK", a.Compliance.Decision)
	}
	if !a.Compliance.STRRequired {
		t.Error("STR not required for a blacklisted counterparty")
	}
	if !hasReason(a, "FATF_BLACKLIST") {
		t.Errorf("reasons = %+v, want FATF_BLACKLIST", a.Compliance.Reasons)
	}
	if a.Score.FinalScore != 100 {
		t.Errorf("finalScore = %.1f, want 100 on BLOCK", a.Score.FinalScore)
	}

	t.Logf("✓ blocked: reasons=%+v", a.Compliance.Reasons)
}

// SCENARIO: exactly $10,000 meets the CTR threshold (>=, not >). The
// transaction proceeds but the currency transaction report is mandatory.
func TestCTRThresholdBoundary(t *testing.T) {
	a := evaluate(t, EvaluateRequest{
		Amount:        10000,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
	})

	if !a.Compliance.CTRRequired {
		t.Error("CTR not required at exactly $10,000")
	}
	if !hasReason(a, "CTR_THRESHOLD") {
		t.Errorf("reasons = %+v, want CTR_THRESHOLD", a.Compliance.Reasons)
	}

	below := evaluate(t, EvaluateRequest{
		Amount:        9999.99,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
	})
	if below.Compliance.CTRRequired {
		t.Error("CTR required below the threshold")
	}

	t.Logf("✓ CTR boundary: at=%v below=%v", a.Compliance.CTRRequired, below.Compliance.CTRRequired)
}

// SCENARIO: the ML risk score bands. Above 0.9 blocks outright, above 0.7
// holds with an STR for analyst review.
func TestMLScoreBands(t *testing.T) {
	cases := []struct {
		score    float64
		decision string
		str      bool
	}{
		{0.95, "BLOCK", false},
		{0.75, "HOLD", true},
		{0.30, "ALLOW", false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("ml=%.2f", tc.score), func(t *testing.T) {
			a := evaluate(t, EvaluateRequest{
				Amount:        100,
				Currency:      "USD",
				OriginCountry: "US",
				DestCountry:   "GB",
				Signals:       map[string]any{"ml_score": tc.score},
			})
			if a.Compliance.Decision != tc.decision {
				t.Errorf("decision = %s, want %s", a.Compliance.Decision, tc.decision)
			}
			if a.Compliance.STRRequired != tc.str {
				t.Errorf("strRequired = %v, want %v", a.Compliance.STRRequired, tc.str)
			}
		})
	}
}

// SCENARIO: repeated near-threshold amounts on the same card. The first two
// pass; by the third the velocity count crosses the structuring pattern and
// the transaction is held with an STR.
func TestStructuringSequence_Held(t *testing.T) {
	pan := fmt.Sprintf("pan-structuring-%d", time.Now().UnixNano())

	var last Assessment
	for i := 0; i < 3; i++ {
		last = evaluate(t, EvaluateRequest{
			TxnID:         fmt.Sprintf("%s-%d", pan, i),
			Amount:        9500,
			Currency:      "USD",
			OriginCountry: "US",
			DestCountry:   "GB",
			PANHash:       pan,
		})
	}

	if last.Metadata.VelocityCount < 3 {
		t.Errorf("velocityCount = %d, want >= 3", last.Metadata.VelocityCount)
	}
	if last.Compliance.Decision != "HOLD" {
		t.Errorf("decision = %s, want HOLD", last.Compliance.Decision)
	}
	if !hasReason(last, "STRUCTURING") {
		t.Errorf("reasons = %+v, want STRUCTURING", last.Compliance.Reasons)
	}
	if !last.Compliance.STRRequired {
		t.Error("STR not required for a structuring pattern")
	}

	t.Logf("✓ structuring held after %d transactions", last.Metadata.VelocityCount)
}

// SCENARIO: the same transaction ID evaluated twice returns the memoized
// assessment, not a fresh one.
func TestRepeatEvaluation_Memoized(t *testing.T) {
	txnID := fmt.Sprintf("txn-memo-%d", time.Now().UnixNano())
	req := EvaluateRequest{
		TxnID:         txnID,
		Amount:        75,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
	}

	first := evaluate(t, req)
	second := evaluate(t, req)

	if second.ID != first.ID {
		t.Errorf("assessment ID changed: %s vs %s", first.ID, second.ID)
	}
	if !second.Metadata.FromCache {
		t.Error("repeat evaluation not served from cache")
	}
}

// SCENARIO: sanctions screening. A spelling variant of a watchlist name
// matches; an unrelated name does not.
func TestScreening(t *testing.T) {
	var hit struct {
		IsMatch      bool    `json:"isMatch"`
		EditDistance int     `json:"editDistance"`
		Similarity   float64 `json:"similarity"`
	}
	postJSON(t, "/api/v1/screen", map[string]any{
		"name":      "Jon Smith",
		"watchlist": []string{"Alice Green", "John Smyth"},
	}, &hit)
	if !hit.IsMatch {
		t.Errorf("spelling variant did not match: %+v", hit)
	}

	var miss struct {
		IsMatch bool `json:"isMatch"`
	}
	postJSON(t, "/api/v1/screen", map[string]any{
		"name":      "Wei Zhang",
		"watchlist": []string{"Alice Green", "John Smyth"},
	}, &miss)
	if miss.IsMatch {
		t.Error("unrelated name matched")
	}

	t.Logf("✓ screening: dist=%d sim=%.2f", hit.EditDistance, hit.Similarity)
}

// SCENARIO: a dynamic rule created over the API participates in the next
// evaluation and survives a reload.
func TestDynamicRuleLifecycle(t *testing.T) {
	name := fmt.Sprintf("IT_GAMBLING_HOLD_%d", time.Now().UnixNano())

	var created struct {
		ID string `json:"id"`
	}
	postJSON(t, "/api/v1/rules/", map[string]any{
		"name":       name,
		"priority":   3,
		"expression": `mcc == "7995" && amount > 500.0`,
		"action":     "HOLD",
		"enabled":    true,
	}, &created)
	if created.ID == "" {
		t.Fatal("rule ID not returned")
	}

	a := evaluate(t, EvaluateRequest{
		Amount:        600,
		Currency:      "USD",
		OriginCountry: "US",
		DestCountry:   "GB",
		MCC:           "7995",
	})
	triggered := false
	for _, r := range a.Score.TriggeredRules {
		if r == name {
			triggered = true
		}
	}
	if !triggered {
		t.Errorf("triggered = %v, want %s", a.Score.TriggeredRules, name)
	}
	if a.Compliance.Decision != "HOLD" {
		t.Errorf("decision = %s, want HOLD", a.Compliance.Decision)
	}

	var reloaded struct {
		Count int `json:"count"`
	}
	postJSON(t, "/api/v1/rules/reload", nil, &reloaded)
	if reloaded.Count < 10 {
		t.Errorf("count = %d after reload, want builtins plus the dynamic rule", reloaded.Count)
	}

	t.Logf("✓ dynamic rule active, %d rules loaded after reload", reloaded.Count)
}
