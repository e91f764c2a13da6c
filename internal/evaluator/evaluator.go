// Package evaluator decides single rule conditions against a transaction.
//
// Every domain.ConditionType has exactly one evaluator. Condition values
// are parsed once by Compile and the comparison itself runs through a
// precompiled CEL program per operator.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// Outcome is the result of one condition evaluation.
type Outcome struct {
	Matched bool
	Detail  string
}

func outcome(ok bool, format string, args ...any) Outcome {
	return Outcome{Matched: ok, Detail: fmt.Sprintf(format, args...)}
}

// Evaluator decides one condition. Implementations hold no per-call state
// and are safe for concurrent use.
type Evaluator interface {
	Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error)
}

// History is the read side of a customer's past transactions.
type History interface {
	Count(ctx context.Context, customerID string, window time.Duration, f history.Filter) (int64, error)
	Sum(ctx context.Context, customerID string, window time.Duration, f history.Filter) (float64, error)
	AmountPercentile(ctx context.Context, customerID string, window time.Duration, pct float64) (float64, int, error)
	Chronological(ctx context.Context, customerID string, window time.Duration) ([]*domain.Transaction, error)
}

// AccountLookup returns the balance view of an account.
type AccountLookup interface {
	Account(ctx context.Context, accountID string) (*domain.Account, error)
}

// CountryLookup returns the risk entry of a country.
type CountryLookup interface {
	Country(ctx context.Context, code string) (*domain.Country, error)
}

// Deps are the collaborators shared by the evaluators.
type Deps struct {
	History    History
	Accounts   AccountLookup
	Countries  CountryLookup
	Comparator *Comparator
}

// Registry maps each condition kind to its evaluator. It is fixed at
// construction.
type Registry struct {
	evaluators map[domain.ConditionType]Evaluator
}

// NewRegistry builds the evaluator for every condition kind. A nil
// Comparator is replaced by a freshly compiled one.
func NewRegistry(deps Deps) (*Registry, error) {
	if deps.History == nil {
		return nil, fmt.Errorf("history accessor is required")
	}
	if deps.Accounts == nil || deps.Countries == nil {
		return nil, fmt.Errorf("account and country lookups are required")
	}

	cmp := deps.Comparator
	if cmp == nil {
		var err error
		if cmp, err = NewComparator(); err != nil {
			return nil, err
		}
	}

	return &Registry{
		evaluators: map[domain.ConditionType]Evaluator{
			domain.CondAmount:                 &amountEvaluator{cmp: cmp},
			domain.CondNLPScore:               &nlpScoreEvaluator{cmp: cmp},
			domain.CondVelocity:               &velocityEvaluator{history: deps.History, cmp: cmp},
			domain.CondStructuring:            &structuringEvaluator{history: deps.History, cmp: cmp},
			domain.CondDailyTotal:             &dailyTotalEvaluator{history: deps.History, cmp: cmp},
			domain.CondBehavioralDeviation:    &deviationEvaluator{history: deps.History, cmp: cmp},
			domain.CondAmountBalanceRatio:     &balanceRatioEvaluator{accounts: deps.Accounts, cmp: cmp},
			domain.CondNewCounterparty:        &counterpartyEvaluator{history: deps.History},
			domain.CondCountryRisk:            &countryRiskEvaluator{countries: deps.Countries, cmp: cmp},
			domain.CondKeywordMatch:           &keywordEvaluator{},
			domain.CondPatternDepositWithdraw: &patternEvaluator{history: deps.History},
			domain.CondPastTransactions:       &pastTransactionsEvaluator{history: deps.History, cmp: cmp},
		},
	}, nil
}

// Lookup returns the evaluator registered for kind.
func (r *Registry) Lookup(kind domain.ConditionType) (Evaluator, bool) {
	ev, ok := r.evaluators[kind]
	return ev, ok
}

// Evaluate dispatches c to the evaluator of its kind.
func (r *Registry) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	ev, ok := r.Lookup(c.Type)
	if !ok {
		return Outcome{}, fmt.Errorf("no evaluator for condition type %q", c.Type)
	}
	return ev.Evaluate(ctx, in, c)
}

// paramsOf asserts the compiled params of c to the type the evaluator expects.
func paramsOf[T Params](c *Condition) (T, error) {
	p, ok := c.Params.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("condition %s: params %T do not fit %s", c.ID, c.Params, c.Type)
	}
	return p, nil
}
