package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is the persisted view of an evaluated transaction, kept
// for audit retrieval and the velocity fallback query. Amounts are stored as
// exact decimals, never floats.
type TransactionRecord struct {
	TxnID         string          `json:"txnId"`
	MerchantID    string          `json:"merchantId"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	OriginCountry string          `json:"originCountry"`
	DestCountry   string          `json:"destCountry"`
	MCC           string          `json:"mcc,omitempty"`
	Channel       string          `json:"channel,omitempty"`
	PANHash       string          `json:"panHash,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Record converts a fact set to its persisted form.
func (f *FactSet) Record() *TransactionRecord {
	now := time.Now().UTC()
	ts := f.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return &TransactionRecord{
		TxnID:         f.TxnID,
		MerchantID:    f.MerchantID,
		Amount:        f.Amount,
		Currency:      f.Currency,
		OriginCountry: f.OriginCountry,
		DestCountry:   f.DestCountry,
		MCC:           f.MCC,
		Channel:       f.Channel,
		PANHash:       f.PANHash,
		Timestamp:     ts,
		CreatedAt:     now,
	}
}
