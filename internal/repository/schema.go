package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    type TEXT NOT NULL,
    from_account TEXT NOT NULL DEFAULT '',
    to_account TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL,
    currency TEXT NOT NULL,
    converted_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    converted_currency TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    receiver_country TEXT NOT NULL DEFAULT '',
    sender_country TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    rule_score INTEGER NOT NULL DEFAULT 0,
    keyword_score INTEGER NOT NULL DEFAULT 0,
    combined_score INTEGER NOT NULL DEFAULT 0,
    executed INTEGER NOT NULL DEFAULT 0,
    reviewed_by TEXT NOT NULL DEFAULT '',
    reviewed_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer_time ON transactions(customer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_customer_dest ON transactions(customer_id, to_account, created_at);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 0,
    action TEXT NOT NULL,
    risk_weight INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_active_priority ON rules(active, priority);

CREATE TABLE IF NOT EXISTS rule_conditions (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    type TEXT NOT NULL,
    field TEXT NOT NULL DEFAULT '',
    operator TEXT NOT NULL,
    value TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_rule_conditions_rule ON rule_conditions(rule_id, position);
`

const schemaReference = `
CREATE TABLE IF NOT EXISTS suspicious_keywords (
    id TEXT PRIMARY KEY,
    keyword TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    category TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    case_sensitive INTEGER NOT NULL DEFAULT 0,
    whole_word INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_keywords_active_score ON suspicious_keywords(active, risk_score);

CREATE TABLE IF NOT EXISTS countries (
    code TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    risk_score INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    currency TEXT NOT NULL,
    balance DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_accounts_customer ON accounts(customer_id);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    reason TEXT NOT NULL,
    risk_score INTEGER NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(tx_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, created_at);
`

// schemaExecutionLogs is append-only; rows are never updated.
const schemaExecutionLogs = `
CREATE TABLE IF NOT EXISTS rule_execution_logs (
    id TEXT PRIMARY KEY,
    rule_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    tx_id TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL,
    matched INTEGER NOT NULL,
    detail TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_execution_logs_tx ON rule_execution_logs(tx_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaRules,
		schemaReference,
		schemaAlerts,
		schemaExecutionLogs,
	}
}
