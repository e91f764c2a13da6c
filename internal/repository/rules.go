package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveRule upserts a rule and replaces its conditions.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	c := &sqlConn{q: sqlTx, driver: r.driver}

	query := `
		INSERT INTO rules (
			id, name, description, priority, action, risk_weight, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			action = excluded.action,
			risk_weight = excluded.risk_weight,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	if _, err := c.q.ExecContext(ctx, c.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Priority, rule.Action,
		rule.RiskWeight, boolToInt(rule.Active), createdAt.UTC(), now,
	); err != nil {
		return fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
	}

	if _, err := c.q.ExecContext(ctx, c.rebind(`DELETE FROM rule_conditions WHERE rule_id = ?`), rule.ID); err != nil {
		return fmt.Errorf("failed to clear conditions of rule %s: %w", rule.ID, err)
	}

	insert := `
		INSERT INTO rule_conditions (
			id, rule_id, position, type, field, operator, value, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, cond := range rule.Conditions {
		id := cond.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := c.q.ExecContext(ctx, c.rebind(insert),
			id, rule.ID, i, cond.Type, cond.Field, cond.Operator, cond.Value, boolToInt(cond.Active),
		); err != nil {
			return fmt.Errorf("failed to save condition %d of rule %s: %w", i, rule.ID, err)
		}
	}

	return sqlTx.Commit()
}

// ListActiveRules returns active rules by ascending priority, each with all
// of its conditions in declared order.
func (r *SQLRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT id, name, description, priority, action, risk_weight, active, created_at, updated_at
		FROM rules
		WHERE active = 1
		ORDER BY priority ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.Rule
	byID := make(map[string]*domain.Rule)
	for rows.Next() {
		var rule domain.Rule
		var active int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Priority, &rule.Action,
			&rule.RiskWeight, &active, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rule.Active = active == 1
		rules = append(rules, &rule)
		byID[rule.ID] = &rule
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(rules) == 0 {
		return rules, nil
	}

	condQuery := `
		SELECT c.id, c.rule_id, c.position, c.type, c.field, c.operator, c.value, c.active
		FROM rule_conditions c
		JOIN rules r ON r.id = c.rule_id
		WHERE r.active = 1
		ORDER BY c.rule_id ASC, c.position ASC
	`

	condRows, err := r.db.QueryContext(ctx, r.rebind(condQuery))
	if err != nil {
		return nil, err
	}
	defer condRows.Close()

	for condRows.Next() {
		var cond domain.RuleCondition
		var active int
		if err := condRows.Scan(
			&cond.ID, &cond.RuleID, &cond.Position, &cond.Type,
			&cond.Field, &cond.Operator, &cond.Value, &active,
		); err != nil {
			return nil, err
		}
		cond.Active = active == 1
		if rule, ok := byID[cond.RuleID]; ok {
			rule.Conditions = append(rule.Conditions, cond)
		}
	}

	return rules, condRows.Err()
}
