package domain

import (
	"fmt"
	"time"
)

// Action is what a matched rule asks for.
type Action string

const (
	ActionFlag  Action = "FLAG"
	ActionBlock Action = "BLOCK"
)

// Operator compares an observed value against a condition threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// AllOperators returns every supported operator.
func AllOperators() []Operator {
	return []Operator{OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual}
}

// Valid reports whether op is a supported operator.
func (op Operator) Valid() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual:
		return true
	}
	return false
}

// ConditionType identifies how a condition is evaluated.
type ConditionType string

const (
	CondAmount                 ConditionType = "AMOUNT"
	CondNLPScore               ConditionType = "NLP_SCORE"
	CondVelocity               ConditionType = "VELOCITY"
	CondStructuring            ConditionType = "STRUCTURING"
	CondDailyTotal             ConditionType = "DAILY_TOTAL"
	CondBehavioralDeviation    ConditionType = "BEHAVIORAL_DEVIATION"
	CondAmountBalanceRatio     ConditionType = "AMOUNT_BALANCE_RATIO"
	CondNewCounterparty        ConditionType = "NEW_COUNTERPARTY"
	CondCountryRisk            ConditionType = "COUNTRY_RISK"
	CondKeywordMatch           ConditionType = "KEYWORD_MATCH"
	CondPatternDepositWithdraw ConditionType = "PATTERN_DEPOSIT_WITHDRAW"
	CondPastTransactions       ConditionType = "PAST_TRANSACTIONS"
)

// AllConditionTypes returns the closed set of condition kinds.
func AllConditionTypes() []ConditionType {
	return []ConditionType{
		CondAmount,
		CondNLPScore,
		CondVelocity,
		CondStructuring,
		CondDailyTotal,
		CondBehavioralDeviation,
		CondAmountBalanceRatio,
		CondNewCounterparty,
		CondCountryRisk,
		CondKeywordMatch,
		CondPatternDepositWithdraw,
		CondPastTransactions,
	}
}

// Rule is a named, prioritized, weighted AND-combination of conditions.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Priority orders evaluation; lower runs first.
	Priority int    `json:"priority"`
	Action   Action `json:"action"`

	// RiskWeight is the probability (0-100) that a match is a true positive.
	RiskWeight int  `json:"riskWeight"`
	Active     bool `json:"active"`

	Conditions []RuleCondition `json:"conditions"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ActiveConditions returns the active conditions in declared order.
func (r *Rule) ActiveConditions() []RuleCondition {
	out := make([]RuleCondition, 0, len(r.Conditions))
	for _, c := range r.Conditions {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// Validate checks the fields the engine relies on. Condition values are
// checked separately by the evaluator package.
func (r *Rule) Validate() error {
	if r.ID == "" || r.Name == "" {
		return fmt.Errorf("%w: rule id and name are required", ErrInvalidRule)
	}
	if r.Action != ActionFlag && r.Action != ActionBlock {
		return fmt.Errorf("%w: rule %s: action must be FLAG or BLOCK, got %q", ErrInvalidRule, r.ID, r.Action)
	}
	if r.RiskWeight < 0 || r.RiskWeight > 100 {
		return fmt.Errorf("%w: rule %s: riskWeight must be within 0-100", ErrInvalidRule, r.ID)
	}
	return nil
}

// RuleCondition is one atomic test within a rule.
type RuleCondition struct {
	ID     string        `json:"id"`
	RuleID string        `json:"ruleId,omitempty"`
	Type   ConditionType `json:"type"`

	// Field is informational, except for PAST_TRANSACTIONS where it selects
	// "count" or "sum".
	Field    string   `json:"field,omitempty"`
	Operator Operator `json:"operator"`

	// Value is the kind-specific parameter encoding, e.g. "100000|3|24|DEPOSIT".
	Value    string `json:"value"`
	Active   bool   `json:"active"`
	Position int    `json:"position"`
}

// RuleExecutionLog records one matched rule for one transaction.
type RuleExecutionLog struct {
	ID         string    `json:"id"`
	RuleID     string    `json:"ruleId"`
	RuleName   string    `json:"ruleName"`
	TxID       string    `json:"txId,omitempty"`
	CustomerID string    `json:"customerId"`
	Matched    bool      `json:"matched"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RuleMatch summarizes a matched rule.
type RuleMatch struct {
	RuleID   string `json:"ruleId"`
	Name     string `json:"name"`
	Action   Action `json:"action"`
	Weight   int    `json:"weight"`
	Priority int    `json:"priority"`
}

// EvaluationResult is the rule engine output.
type EvaluationResult struct {
	// Score is the combined rule score, 0-100.
	Score int `json:"score"`

	Logs []RuleExecutionLog `json:"logs"`

	// MatchedRules holds FLAG matches followed by BLOCK matches.
	MatchedRules []RuleMatch `json:"matchedRules"`

	RulesEvaluated int  `json:"rulesEvaluated"`
	Blocked        bool `json:"blocked"`
}
