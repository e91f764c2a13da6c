// Package rules evaluates the configured AML rules against a transaction.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/score"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kestrel-rules")

// LogStore persists the execution records of matched rules.
type LogStore interface {
	SaveExecutionLog(ctx context.Context, log *domain.RuleExecutionLog) error
}

// Engine evaluates a compiled snapshot of active rules in priority order.
// The snapshot is replaced atomically by ReloadRules; evaluations in flight
// keep the snapshot they started with.
type Engine struct {
	mu       sync.RWMutex
	registry *evaluator.Registry
	logs     LogStore
	rules    []*CompiledRule
	now      func() time.Time
}

// CompiledRule is a rule with its active conditions parsed.
type CompiledRule struct {
	Rule       domain.Rule
	Conditions []CompiledCondition
}

// CompiledCondition is a parsed condition. Err is set when the value could
// not be parsed; such a condition never matches.
type CompiledCondition struct {
	Raw       domain.RuleCondition
	Condition *evaluator.Condition
	Err       error
}

// NewEngine creates a rule engine. logs may be nil to skip persisting
// execution records.
func NewEngine(registry *evaluator.Registry, logs LogStore) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("evaluator registry is required")
	}

	return &Engine{
		registry: registry,
		logs:     logs,
		now:      time.Now,
	}, nil
}

// ValidateRule checks a rule definition without touching the loaded rules.
// Unlike loading, every active condition must parse.
func (e *Engine) ValidateRule(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	active := rule.ActiveConditions()
	if len(active) == 0 {
		return fmt.Errorf("%w: rule %s has no active conditions", domain.ErrInvalidRule, rule.ID)
	}

	var errs []error
	for _, rc := range active {
		if _, err := evaluator.Compile(rc); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRule, errors.Join(errs...))
	}
	return nil
}

// LoadRules compiles and adds rules to the loaded set, replacing rules with
// the same ID.
func (e *Engine) LoadRules(rules []*domain.Rule) int {
	compiled := compileAll(rules)

	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]*CompiledRule, len(e.rules)+len(compiled))
	for _, r := range e.rules {
		byID[r.Rule.ID] = r
	}
	for _, r := range compiled {
		byID[r.Rule.ID] = r
	}

	next := make([]*CompiledRule, 0, len(byID))
	for _, r := range byID {
		next = append(next, r)
	}
	sortRules(next)
	e.rules = next

	return len(compiled)
}

// ReloadRules replaces the loaded set with rules.
func (e *Engine) ReloadRules(rules []*domain.Rule) int {
	compiled := compileAll(rules)
	sortRules(compiled)

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	return len(compiled)
}

// Refresh reloads the active rules from store.
func (e *Engine) Refresh(ctx context.Context, store domain.RuleStore) (int, error) {
	rules, err := store.ListActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list rules: %w", err)
	}

	n := e.ReloadRules(rules)
	slog.Info("rules loaded", "count", n, "stored", len(rules))
	return n, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// GetLoadedRules returns copies of the loaded rules in evaluation order.
func (e *Engine) GetLoadedRules() []domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]domain.Rule, len(e.rules))
	for i, r := range e.rules {
		rules[i] = r.Rule
	}
	return rules
}

// Evaluate runs the loaded rules against in. A matching BLOCK rule stops
// the evaluation; FLAG rules never do.
func (e *Engine) Evaluate(ctx context.Context, in *domain.TransactionInput) (*domain.EvaluationResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "rules.Evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("tx.id", in.TxID),
		attribute.String("tx.type", string(in.Type)),
	)

	e.mu.RLock()
	snapshot := e.rules
	e.mu.RUnlock()

	result := &domain.EvaluationResult{
		Logs:         []domain.RuleExecutionLog{},
		MatchedRules: []domain.RuleMatch{},
	}

	var (
		flags, blocks []domain.RuleMatch
		weights       []int
	)

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		result.RulesEvaluated++
		matched, details := e.evaluateRule(ctx, in, r)
		if !matched {
			continue
		}

		log := domain.RuleExecutionLog{
			ID:         uuid.New().String(),
			RuleID:     r.Rule.ID,
			RuleName:   r.Rule.Name,
			TxID:       in.TxID,
			CustomerID: in.CustomerID,
			Matched:    true,
			Detail:     strings.Join(details, "; "),
			CreatedAt:  e.now().UTC(),
		}
		result.Logs = append(result.Logs, log)

		match := domain.RuleMatch{
			RuleID:   r.Rule.ID,
			Name:     r.Rule.Name,
			Action:   r.Rule.Action,
			Weight:   r.Rule.RiskWeight,
			Priority: r.Rule.Priority,
		}
		weights = append(weights, r.Rule.RiskWeight)

		if r.Rule.Action == domain.ActionBlock {
			blocks = append(blocks, match)
			result.Blocked = true
			break
		}
		flags = append(flags, match)
	}

	result.MatchedRules = append(append(result.MatchedRules, flags...), blocks...)
	result.Score = score.NoisyOR(weights)

	span.SetAttributes(
		attribute.Int("rules.evaluated", result.RulesEvaluated),
		attribute.Int("rules.matched", len(result.MatchedRules)),
		attribute.Int("rules.score", result.Score),
		attribute.Bool("rules.blocked", result.Blocked),
	)

	return result, nil
}

// evaluateRule ANDs the rule's conditions in declared order, stopping at the
// first one that does not match. Broken conditions and evaluation errors
// count as not matched.
func (e *Engine) evaluateRule(ctx context.Context, in *domain.TransactionInput, r *CompiledRule) (bool, []string) {
	details := make([]string, 0, len(r.Conditions))

	for _, cc := range r.Conditions {
		if cc.Err != nil {
			slog.Warn("skipping rule with invalid condition",
				"rule_id", r.Rule.ID,
				"condition_id", cc.Raw.ID,
				"error", cc.Err,
			)
			return false, nil
		}

		out, err := e.registry.Evaluate(ctx, in, cc.Condition)
		if err != nil {
			slog.Warn("condition evaluation failed",
				"rule_id", r.Rule.ID,
				"condition_id", cc.Raw.ID,
				"condition_type", cc.Raw.Type,
				"tx_id", in.TxID,
				"error", err,
			)
			return false, nil
		}
		if !out.Matched {
			return false, nil
		}
		details = append(details, fmt.Sprintf("%s: %s", cc.Raw.Type, out.Detail))
	}

	return true, details
}

// SaveLogs persists the execution logs of result outside any ledger unit.
// Failures are logged and skipped. Callers that record the decision in a
// ledger transaction write the logs there instead.
func (e *Engine) SaveLogs(ctx context.Context, result *domain.EvaluationResult) {
	if e.logs == nil || result == nil {
		return
	}
	for i := range result.Logs {
		log := &result.Logs[i]
		if err := e.logs.SaveExecutionLog(ctx, log); err != nil {
			slog.Warn("failed to save rule execution log",
				"rule_id", log.RuleID,
				"tx_id", log.TxID,
				"error", err,
			)
		}
	}
}

// compileAll compiles the active rules that can ever match. Rules failing
// basic validation or without active conditions are dropped.
func compileAll(rules []*domain.Rule) []*CompiledRule {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule == nil || !rule.Active {
			continue
		}
		if err := rule.Validate(); err != nil {
			slog.Warn("dropping invalid rule", "rule_id", rule.ID, "error", err)
			continue
		}
		if cr := compileRule(rule); cr != nil {
			compiled = append(compiled, cr)
		}
	}
	return compiled
}

func compileRule(rule *domain.Rule) *CompiledRule {
	active := rule.ActiveConditions()
	if len(active) == 0 {
		slog.Warn("dropping rule without active conditions", "rule_id", rule.ID)
		return nil
	}

	cr := &CompiledRule{
		Rule:       *rule,
		Conditions: make([]CompiledCondition, len(active)),
	}
	cr.Rule.Conditions = append([]domain.RuleCondition(nil), rule.Conditions...)

	for i, rc := range active {
		cond, err := evaluator.Compile(rc)
		if err != nil {
			slog.Warn("rule condition will never match",
				"rule_id", rule.ID,
				"condition_id", rc.ID,
				"error", err,
			)
		}
		cr.Conditions[i] = CompiledCondition{Raw: rc, Condition: cond, Err: err}
	}
	return cr
}

func sortRules(rules []*CompiledRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Rule.Priority != rules[j].Rule.Priority {
			return rules[i].Rule.Priority < rules[j].Rule.Priority
		}
		return rules[i].Rule.ID < rules[j].Rule.ID
	})
}
