// Package repository provides the audit persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction record for audit and velocity queries.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.TransactionRecord) error {
	if tx == nil || tx.TxnID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			txn_id, merchant_id, amount, currency,
			origin_country, dest_country, mcc, channel, pan_hash,
			timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(txn_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.TxnID, tx.MerchantID, tx.Amount.String(), tx.Currency,
		tx.OriginCountry, tx.DestCountry, tx.MCC, tx.Channel, tx.PANHash,
		tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction record by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txnID string) (*domain.TransactionRecord, error) {
	query := `
		SELECT txn_id, merchant_id, amount, currency,
			   origin_country, dest_country, mcc, channel, pan_hash,
			   timestamp, created_at
		FROM transactions
		WHERE txn_id = ?
	`

	var tx domain.TransactionRecord
	var amount string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txnID).Scan(
		&tx.TxnID, &tx.MerchantID, &amount, &tx.Currency,
		&tx.OriginCountry, &tx.DestCountry, &tx.MCC, &tx.Channel, &tx.PANHash,
		&tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stored amount for %s: %w", txnID, err)
	}

	return &tx, nil
}

// CountTransactionsByPAN counts transactions for a card hash since a point
// in time. Serves as the velocity fallback when the cache counter is
// unavailable.
func (r *SQLRepository) CountTransactionsByPAN(ctx context.Context, panHash string, since time.Time) (int64, error) {
	if panHash == "" {
		return 0, nil
	}

	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE pan_hash = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), panHash, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// SaveAssessment stores an assessment in the audit trail.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.Assessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	score, _ := json.Marshal(a.Score)
	compliance, _ := json.Marshal(a.Compliance)
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO assessments (
			id, txn_id, merchant_id, decision, final_score,
			score, compliance, metadata, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TxnID, a.MerchantID,
		a.Compliance.Decision.String(), a.Score.FinalScore,
		string(score), string(compliance), string(metadata),
		a.Timestamp,
	)
	return err
}

// GetAssessmentByTxn retrieves the most recent assessment for a transaction.
func (r *SQLRepository) GetAssessmentByTxn(ctx context.Context, txnID string) (*domain.Assessment, error) {
	query := `
		SELECT id, txn_id, merchant_id, score, compliance, metadata, timestamp
		FROM assessments
		WHERE txn_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var a domain.Assessment
	var score, compliance, metadata string

	err := r.db.QueryRowContext(ctx, r.rebind(query), txnID).Scan(
		&a.ID, &a.TxnID, &a.MerchantID,
		&score, &compliance, &metadata,
		&a.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(score), &a.Score); err != nil {
		return nil, fmt.Errorf("failed to parse stored score for %s: %w", txnID, err)
	}
	if err := json.Unmarshal([]byte(compliance), &a.Compliance); err != nil {
		return nil, fmt.Errorf("failed to parse stored compliance for %s: %w", txnID, err)
	}
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// SaveMerchant upserts a merchant profile.
func (r *SQLRepository) SaveMerchant(ctx context.Context, m *domain.MerchantProfile) error {
	if m == nil || m.MerchantID == "" {
		return fmt.Errorf("%w: merchant id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO merchants (
			merchant_id, name, country, mcc, website, pep, new_entity, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id) DO UPDATE SET
			name = excluded.name,
			country = excluded.country,
			mcc = excluded.mcc,
			website = excluded.website,
			pep = excluded.pep,
			new_entity = excluded.new_entity,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		m.MerchantID, m.Name, m.Country, m.MCC, m.Website,
		boolToInt(m.PEP), boolToInt(m.New), time.Now().UTC(),
	)
	return err
}

// GetMerchant retrieves a merchant profile by ID.
func (r *SQLRepository) GetMerchant(ctx context.Context, merchantID string) (*domain.MerchantProfile, error) {
	query := `
		SELECT merchant_id, name, country, mcc, website, pep, new_entity
		FROM merchants
		WHERE merchant_id = ?
	`

	var m domain.MerchantProfile
	var pep, newEntity int

	err := r.db.QueryRowContext(ctx, r.rebind(query), merchantID).Scan(
		&m.MerchantID, &m.Name, &m.Country, &m.MCC, &m.Website,
		&pep, &newEntity,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.PEP = pep == 1
	m.New = newEntity == 1

	return &m, nil
}

// SaveRuleDefinition upserts a dynamic rule definition.
func (r *SQLRepository) SaveRuleDefinition(ctx context.Context, def *domain.RuleDefinition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	createdAt := def.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO rule_definitions (
			id, name, description, priority, expression, action, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			expression = excluded.expression,
			action = excluded.action,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		def.ID, def.Name, def.Description, def.Priority,
		def.Expression, def.Action, boolToInt(def.Enabled),
		createdAt, now,
	)
	return err
}

// GetRuleDefinition retrieves a rule definition by ID.
func (r *SQLRepository) GetRuleDefinition(ctx context.Context, id string) (*domain.RuleDefinition, error) {
	query := `
		SELECT id, name, description, priority, expression, action, enabled, created_at, updated_at
		FROM rule_definitions
		WHERE id = ?
	`

	var def domain.RuleDefinition
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&def.ID, &def.Name, &def.Description, &def.Priority,
		&def.Expression, &def.Action, &enabled,
		&def.CreatedAt, &def.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	def.Enabled = enabled == 1

	return &def, nil
}

// ListRuleDefinitions retrieves all enabled rule definitions, evaluation
// order first.
func (r *SQLRepository) ListRuleDefinitions(ctx context.Context) ([]*domain.RuleDefinition, error) {
	query := `
		SELECT id, name, description, priority, expression, action, enabled, created_at, updated_at
		FROM rule_definitions
		WHERE enabled = 1
		ORDER BY priority, created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*domain.RuleDefinition
	for rows.Next() {
		var def domain.RuleDefinition
		var enabled int

		if err := rows.Scan(
			&def.ID, &def.Name, &def.Description, &def.Priority,
			&def.Expression, &def.Action, &enabled,
			&def.CreatedAt, &def.UpdatedAt,
		); err != nil {
			return nil, err
		}

		def.Enabled = enabled == 1
		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
