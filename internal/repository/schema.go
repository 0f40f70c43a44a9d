package repository

// Schema definitions for the Kestrel audit store.
// Compatible with both SQLite and PostgreSQL. Amounts are stored as TEXT and
// parsed back to exact decimals; REAL would reintroduce float drift into
// threshold math.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    txn_id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    origin_country TEXT NOT NULL,
    dest_country TEXT NOT NULL,
    mcc TEXT,
    channel TEXT,
    pan_hash TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_pan ON transactions(pan_hash, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    txn_id TEXT NOT NULL,
    merchant_id TEXT,
    decision TEXT NOT NULL,
    final_score REAL NOT NULL,
    score TEXT NOT NULL,
    compliance TEXT NOT NULL,
    metadata TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_txn ON assessments(txn_id);
CREATE INDEX IF NOT EXISTS idx_assessments_merchant ON assessments(merchant_id);
CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(decision);
CREATE INDEX IF NOT EXISTS idx_assessments_timestamp ON assessments(timestamp);
`

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    merchant_id TEXT PRIMARY KEY,
    name TEXT,
    country TEXT NOT NULL,
    mcc TEXT NOT NULL,
    website TEXT,
    pep INTEGER NOT NULL DEFAULT 0,
    new_entity INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaRuleDefinitions = `
CREATE TABLE IF NOT EXISTS rule_definitions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    priority INTEGER NOT NULL DEFAULT 100,
    expression TEXT NOT NULL,
    action TEXT NOT NULL DEFAULT '',
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_definitions_enabled ON rule_definitions(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAssessments,
		schemaMerchants,
		schemaRuleDefinitions,
	}
}
