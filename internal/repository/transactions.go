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

const transactionColumns = `
	id, customer_id, type, from_account, to_account,
	amount, currency, converted_amount, converted_currency,
	description, receiver_country, sender_country,
	status, rule_score, keyword_score, combined_score,
	executed, reviewed_by, reviewed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var executed int
	var reviewedAt sql.NullTime

	if err := row.Scan(
		&tx.ID, &tx.CustomerID, &tx.Type, &tx.FromAccount, &tx.ToAccount,
		&tx.Amount, &tx.Currency, &tx.ConvertedAmount, &tx.ConvertedCurrency,
		&tx.Description, &tx.ReceiverCountry, &tx.SenderCountry,
		&tx.Status, &tx.RuleScore, &tx.KeywordScore, &tx.CombinedScore,
		&executed, &tx.ReviewedBy, &reviewedAt, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	tx.Executed = executed == 1
	if reviewedAt.Valid {
		at := reviewedAt.Time.UTC()
		tx.ReviewedAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

// SaveTransaction stores an assessed transaction.
func (c *sqlConn) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" || tx.CustomerID == "" {
		return fmt.Errorf("%w: transaction id and customerId are required", ErrInvalidInput)
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var reviewedAt any
	if tx.ReviewedAt != nil {
		reviewedAt = tx.ReviewedAt.UTC()
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		tx.ID, tx.CustomerID, tx.Type, tx.FromAccount, tx.ToAccount,
		tx.Amount, tx.Currency, tx.ConvertedAmount, tx.ConvertedCurrency,
		tx.Description, tx.ReceiverCountry, tx.SenderCountry,
		tx.Status, tx.RuleScore, tx.KeywordScore, tx.CombinedScore,
		boolToInt(tx.Executed), tx.ReviewedBy, reviewedAt, createdAt.UTC(),
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (c *sqlConn) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(c.q.QueryRowContext(ctx, c.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// MarkReviewed records a compliance officer's decision on a transaction.
// Only FLAGGED and BLOCKED transactions can be reviewed; the status check and
// the update are one statement, so concurrent reviews cannot both succeed.
func (c *sqlConn) MarkReviewed(ctx context.Context, txID string, status domain.TransactionStatus, executed bool, reviewer string, at time.Time) error {
	query := `
		UPDATE transactions
		SET status = ?, executed = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status IN (?, ?)
	`

	result, err := c.q.ExecContext(ctx, c.rebind(query),
		status, boolToInt(executed), reviewer, at.UTC(), txID,
		domain.StatusFlagged, domain.StatusBlocked,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	tx, err := c.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidState, txID, tx.Status)
}

// historyWhere builds the WHERE clause shared by the history queries.
func historyWhere(q domain.HistoryQuery) (string, []any, error) {
	if q.CustomerID == "" {
		return "", nil, fmt.Errorf("%w: customerID is required", ErrInvalidInput)
	}

	clauses := []string{"customer_id = ?", "created_at >= ?"}
	args := []any{q.CustomerID, q.Since.UTC()}

	if len(q.Types) > 0 {
		clauses = append(clauses, "type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if q.MinAmount != nil {
		clauses = append(clauses, "amount >= ?")
		args = append(args, *q.MinAmount)
	}
	if q.BelowAmount != nil {
		clauses = append(clauses, "amount < ?")
		args = append(args, *q.BelowAmount)
	}
	if q.ToAccount != "" {
		clauses = append(clauses, "to_account = ?")
		args = append(args, q.ToAccount)
	}

	return strings.Join(clauses, " AND "), args, nil
}

// CountTransactions counts the customer's transactions matching q.
func (r *SQLRepository) CountTransactions(ctx context.Context, q domain.HistoryQuery) (int64, error) {
	where, args, err := historyWhere(q)
	if err != nil {
		return 0, err
	}

	var count int64
	query := `SELECT COUNT(*) FROM transactions WHERE ` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SumAmounts totals the amounts of the customer's transactions matching q.
func (r *SQLRepository) SumAmounts(ctx context.Context, q domain.HistoryQuery) (float64, error) {
	where, args, err := historyWhere(q)
	if err != nil {
		return 0, err
	}

	var sum float64
	query := `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE ` + where
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// ListTransactions returns the customer's transactions matching q, oldest first.
func (r *SQLRepository) ListTransactions(ctx context.Context, q domain.HistoryQuery) ([]*domain.Transaction, error) {
	where, args, err := historyWhere(q)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where + ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}

	return transactions, rows.Err()
}
