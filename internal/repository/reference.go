package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveKeyword upserts a suspicious keyword.
func (r *SQLRepository) SaveKeyword(ctx context.Context, kw *domain.SuspiciousKeyword) error {
	if kw == nil || kw.ID == "" || kw.Keyword == "" {
		return fmt.Errorf("%w: keyword id and text are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO suspicious_keywords (
			id, keyword, risk_score, category, active, case_sensitive, whole_word
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			keyword = excluded.keyword,
			risk_score = excluded.risk_score,
			category = excluded.category,
			active = excluded.active,
			case_sensitive = excluded.case_sensitive,
			whole_word = excluded.whole_word
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		kw.ID, kw.Keyword, kw.RiskScore, kw.Category,
		boolToInt(kw.Active), boolToInt(kw.CaseSensitive), boolToInt(kw.WholeWord),
	)
	return err
}

// ListActiveKeywords returns active keywords by descending risk score.
func (r *SQLRepository) ListActiveKeywords(ctx context.Context) ([]*domain.SuspiciousKeyword, error) {
	query := `
		SELECT id, keyword, risk_score, category, active, case_sensitive, whole_word
		FROM suspicious_keywords
		WHERE active = 1
		ORDER BY risk_score DESC, keyword ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keywords []*domain.SuspiciousKeyword
	for rows.Next() {
		var kw domain.SuspiciousKeyword
		var active, caseSensitive, wholeWord int
		if err := rows.Scan(
			&kw.ID, &kw.Keyword, &kw.RiskScore, &kw.Category,
			&active, &caseSensitive, &wholeWord,
		); err != nil {
			return nil, err
		}
		kw.Active = active == 1
		kw.CaseSensitive = caseSensitive == 1
		kw.WholeWord = wholeWord == 1
		keywords = append(keywords, &kw)
	}

	return keywords, rows.Err()
}

// SaveCountry upserts a country risk entry. Codes are stored upper case.
func (r *SQLRepository) SaveCountry(ctx context.Context, c *domain.Country) error {
	if c == nil || c.Code == "" {
		return fmt.Errorf("%w: country code is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO countries (code, name, risk_score) VALUES (?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			risk_score = excluded.risk_score
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), strings.ToUpper(c.Code), c.Name, c.RiskScore)
	return err
}

// GetCountry retrieves a country by code.
func (r *SQLRepository) GetCountry(ctx context.Context, code string) (*domain.Country, error) {
	query := `SELECT code, name, risk_score FROM countries WHERE code = ?`

	var c domain.Country
	err := r.db.QueryRowContext(ctx, r.rebind(query), strings.ToUpper(code)).Scan(&c.Code, &c.Name, &c.RiskScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveAccount upserts an account. A nil balance marks an untracked account.
func (r *SQLRepository) SaveAccount(ctx context.Context, acct *domain.Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	var balance any
	if acct.Balance != nil {
		balance = *acct.Balance
	}

	query := `
		INSERT INTO accounts (id, customer_id, currency, balance) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			currency = excluded.currency,
			balance = excluded.balance
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), acct.ID, acct.CustomerID, acct.Currency, balance)
	return err
}

// GetAccount retrieves an account by ID.
func (r *SQLRepository) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return r.sqlConn.getAccount(ctx, accountID)
}

func (c *sqlConn) getAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	query := `SELECT id, customer_id, currency, balance FROM accounts WHERE id = ?`

	var acct domain.Account
	var balance sql.NullFloat64
	err := c.q.QueryRowContext(ctx, c.rebind(query), accountID).Scan(
		&acct.ID, &acct.CustomerID, &acct.Currency, &balance,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if balance.Valid {
		b := balance.Float64
		acct.Balance = &b
	}
	return &acct, nil
}

// AdjustBalance adds delta to a tracked account balance. Accounts without a
// balance are not tracked and are left untouched.
func (c *sqlConn) AdjustBalance(ctx context.Context, accountID string, delta float64) error {
	query := `
		UPDATE accounts
		SET balance = balance + ?
		WHERE id = ? AND balance IS NOT NULL AND balance + ? >= 0
	`

	result, err := c.q.ExecContext(ctx, c.rebind(query), delta, accountID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust balance of %s: %w", accountID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	acct, err := c.getAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account %s: %w", accountID, err)
	}
	if acct.Balance == nil {
		return nil
	}
	return fmt.Errorf("%w: account %s holds %.2f, needs %.2f", domain.ErrInsufficientFunds, accountID, *acct.Balance, -delta)
}

// SaveExecutionLog appends a rule execution record.
func (c *sqlConn) SaveExecutionLog(ctx context.Context, log *domain.RuleExecutionLog) error {
	if log == nil || log.ID == "" {
		return fmt.Errorf("%w: log id is required", ErrInvalidInput)
	}

	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO rule_execution_logs (
			id, rule_id, rule_name, tx_id, customer_id, matched, detail, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		log.ID, log.RuleID, log.RuleName, log.TxID, log.CustomerID,
		boolToInt(log.Matched), log.Detail, createdAt.UTC(),
	)
	return err
}

// ListExecutionLogs returns the execution records of one transaction.
func (r *SQLRepository) ListExecutionLogs(ctx context.Context, txID string) ([]*domain.RuleExecutionLog, error) {
	query := `
		SELECT id, rule_id, rule_name, tx_id, customer_id, matched, detail, created_at
		FROM rule_execution_logs
		WHERE tx_id = ?
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*domain.RuleExecutionLog
	for rows.Next() {
		var l domain.RuleExecutionLog
		var matched int
		if err := rows.Scan(
			&l.ID, &l.RuleID, &l.RuleName, &l.TxID, &l.CustomerID,
			&matched, &l.Detail, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		l.Matched = matched == 1
		l.CreatedAt = l.CreatedAt.UTC()
		logs = append(logs, &l)
	}

	return logs, rows.Err()
}
