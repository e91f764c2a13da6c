package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveAlert stores a new alert.
func (c *sqlConn) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" || alert.TxID == "" {
		return fmt.Errorf("%w: alert id and txId are required", ErrInvalidInput)
	}

	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = alert.ResolvedAt.UTC()
	}

	query := `
		INSERT INTO alerts (
			id, tx_id, customer_id, reason, risk_score, status, created_at, resolved_by, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.q.ExecContext(ctx, c.rebind(query),
		alert.ID, alert.TxID, alert.CustomerID, alert.Reason, alert.RiskScore,
		alert.Status, createdAt.UTC(), alert.ResolvedBy, resolvedAt,
	)
	return err
}

// ResolveAlerts closes every unresolved alert of a transaction and returns
// how many were closed.
func (c *sqlConn) ResolveAlerts(ctx context.Context, txID string, resolvedBy string, at time.Time) (int64, error) {
	query := `
		UPDATE alerts
		SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE tx_id = ? AND status <> ?
	`

	result, err := c.q.ExecContext(ctx, c.rebind(query),
		domain.AlertResolved, resolvedBy, at.UTC(), txID, domain.AlertResolved,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListAlerts returns alerts newest first. An empty status lists all alerts.
func (r *SQLRepository) ListAlerts(ctx context.Context, status domain.AlertStatus) ([]*domain.Alert, error) {
	query := `
		SELECT id, tx_id, customer_id, reason, risk_score, status, created_at, resolved_by, resolved_at
		FROM alerts
	`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		var a domain.Alert
		var resolvedAt sql.NullTime
		if err := rows.Scan(
			&a.ID, &a.TxID, &a.CustomerID, &a.Reason, &a.RiskScore,
			&a.Status, &a.CreatedAt, &a.ResolvedBy, &resolvedAt,
		); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		if resolvedAt.Valid {
			at := resolvedAt.Time.UTC()
			a.ResolvedAt = &at
		}
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}
