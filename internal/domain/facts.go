package domain

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Signal names supplied by external providers (ML scoring, graph analytics,
// velocity aggregation). The engine treats unknown or missing keys as
// defaulted, never as errors.
const (
	SignalLinkedToBlocked      = "isLinkedToBlocked"
	SignalBehavioralAnomaly    = "isBehavioralAnomaly"
	SignalStructuringSuspected = "isStructuringSuspected"
	SignalThirdPartySuspected  = "isThirdPartySuspected"
	SignalPEP                  = "isPep"
	SignalMLScore              = "ml_score"
	SignalPageRank             = "page_rank"
	SignalBetweenness          = "betweenness"
	SignalCommunityID          = "community_id"
	SignalConnectionCount      = "connection_count"
	SignalCurrentCRA           = "current_cra"
	SignalPANTxnCount1h        = "pan_txn_count_1h"
	SignalPANAmountSum24h      = "pan_txn_amount_sum_24h"
	SignalMerchantAmountSum24h = "merchant_txn_amount_sum_24h"
)

// FactSet is the immutable input to one evaluation: the transaction, the
// merchant it belongs to, and the precomputed signals feeding the scorers.
// Facts are never mutated after construction; rule output is returned as a
// fresh list per call, not accumulated on the fact set.
type FactSet struct {
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
	Timestamp      time.Time       `json:"timestamp"`

	Merchant *MerchantProfile `json:"merchant,omitempty"`

	// Signals is a flat key→value map of boolean/numeric signals from
	// external providers. Values arrive as JSON scalars; the typed
	// accessors below resolve missing or malformed entries to defaults.
	Signals map[string]any `json:"signals,omitempty"`
}

// MerchantProfile is the static KYC view of a merchant used for KRS scoring
// and the merchant-level typology rules.
type MerchantProfile struct {
	MerchantID string `json:"merchantId"`
	Name       string `json:"name,omitempty"`
	Country    string `json:"country"`
	MCC        string `json:"mcc"`
	Website    string `json:"website,omitempty"`
	PEP        bool   `json:"pep"`
	New        bool   `json:"new"`
}

// Bool returns a boolean signal, false when missing or malformed.
func (f *FactSet) Bool(name string) bool {
	if f == nil || f.Signals == nil {
		return false
	}
	switch v := f.Signals[name].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// Float returns a numeric signal, 0 when missing or malformed.
func (f *FactSet) Float(name string) float64 {
	return f.FloatOr(name, 0)
}

// FloatOr returns a numeric signal, falling back to def when the key is
// missing or the value cannot be interpreted as a number.
func (f *FactSet) FloatOr(name string, def float64) float64 {
	if f == nil || f.Signals == nil {
		return def
	}
	switch v := f.Signals[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return def
		}
		return n
	case string:
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return def
		}
		return n
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return def
	}
}

// Int returns a numeric signal truncated to int64, 0 when missing.
func (f *FactSet) Int(name string) int64 {
	return int64(f.Float(name))
}

// IsPEP reports whether the transaction involves a politically exposed
// person, from either the merchant profile or the screening signal.
func (f *FactSet) IsPEP() bool {
	if f == nil {
		return false
	}
	if f.Merchant != nil && f.Merchant.PEP {
		return true
	}
	return f.Bool(SignalPEP)
}

// AmountFloat returns the amount as a float64 for rule-expression and
// scoring use. Money comparisons against regulatory thresholds stay on the
// exact decimal value.
func (f *FactSet) AmountFloat() float64 {
	if f == nil {
		return 0
	}
	v, _ := f.Amount.Float64()
	return v
}
