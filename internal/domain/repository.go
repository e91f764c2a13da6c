// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository is the full persistence surface used by Kestrel.
type Repository interface {
	TransactionHistory
	RuleStore
	ReferenceStore
	ExecutionLogStore
	Ledger

	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListAlerts(ctx context.Context, status AlertStatus) ([]*Alert, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TransactionHistory answers read-only queries over past transactions.
type TransactionHistory interface {
	CountTransactions(ctx context.Context, q HistoryQuery) (int64, error)
	SumAmounts(ctx context.Context, q HistoryQuery) (float64, error)

	// ListTransactions returns matching transactions oldest first.
	ListTransactions(ctx context.Context, q HistoryQuery) ([]*Transaction, error)
}

// RuleStore persists rule definitions.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *Rule) error

	// ListActiveRules returns active rules by ascending priority, each with
	// all of its conditions in declared order.
	ListActiveRules(ctx context.Context) ([]*Rule, error)
}

// ReferenceStore holds the reference data read during evaluation.
type ReferenceStore interface {
	SaveKeyword(ctx context.Context, kw *SuspiciousKeyword) error

	// ListActiveKeywords returns active keywords by descending risk score.
	ListActiveKeywords(ctx context.Context) ([]*SuspiciousKeyword, error)

	SaveCountry(ctx context.Context, c *Country) error
	GetCountry(ctx context.Context, code string) (*Country, error)

	SaveAccount(ctx context.Context, acct *Account) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}

// ExecutionLogStore is the append-only audit trail of matched rules.
type ExecutionLogStore interface {
	SaveExecutionLog(ctx context.Context, log *RuleExecutionLog) error
	ListExecutionLogs(ctx context.Context, txID string) ([]*RuleExecutionLog, error)
}

// Ledger runs the write side of an assessment as one unit of work.
type Ledger interface {
	// InTx runs fn inside a database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error
}

// LedgerTx is the set of writes available inside Ledger.InTx.
type LedgerTx interface {
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	// MarkReviewed moves a FLAGGED or BLOCKED transaction to status. Any
	// other current status fails with ErrInvalidState.
	MarkReviewed(ctx context.Context, txID string, status TransactionStatus, executed bool, reviewer string, at time.Time) error

	SaveAlert(ctx context.Context, alert *Alert) error
	ResolveAlerts(ctx context.Context, txID string, resolvedBy string, at time.Time) (int64, error)

	SaveExecutionLog(ctx context.Context, log *RuleExecutionLog) error

	// AdjustBalance adds delta to the account balance. A negative delta that
	// would overdraw the account fails with ErrInsufficientFunds.
	AdjustBalance(ctx context.Context, accountID string, delta float64) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
