// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for audit persistence. The decisioning
// core never blocks on it: writes are best-effort from the pipeline, reads
// serve the administrative surface and the velocity fallback.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *TransactionRecord) error
	GetTransaction(ctx context.Context, txnID string) (*TransactionRecord, error)
	CountTransactionsByPAN(ctx context.Context, panHash string, since time.Time) (int64, error)

	// Assessment (audit) operations
	SaveAssessment(ctx context.Context, a *Assessment) error
	GetAssessmentByTxn(ctx context.Context, txnID string) (*Assessment, error)

	// Merchant profiles
	SaveMerchant(ctx context.Context, m *MerchantProfile) error
	GetMerchant(ctx context.Context, merchantID string) (*MerchantProfile, error)

	// Dynamic rule definitions
	SaveRuleDefinition(ctx context.Context, def *RuleDefinition) error
	GetRuleDefinition(ctx context.Context, id string) (*RuleDefinition, error)
	ListRuleDefinitions(ctx context.Context) ([]*RuleDefinition, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
