package evaluator

import (
	"context"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// patternWindow is the look-back of the deposit-then-withdrawal check.
const patternWindow = 24 * time.Hour

// deviationEvaluator compares the amount with a percentile of the
// customer's own history. Without history there is nothing to deviate from.
type deviationEvaluator struct {
	history History
	cmp     *Comparator
}

func (e *deviationEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[DeviationParams](c)
	if err != nil {
		return Outcome{}, err
	}

	baseline, n, err := e.history.AmountPercentile(ctx, in.CustomerID, p.Lookback, p.Percentile)
	if err != nil {
		return Outcome{}, err
	}
	if n == 0 {
		return outcome(false, "no history in %s", p.Lookback), nil
	}

	ok, err := e.cmp.Compare(c.Operator, in.Amount, baseline)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "amount %.2f %s p%g %.2f of %d transactions", in.Amount, c.Operator, p.Percentile, baseline, n), nil
}

// patternEvaluator counts adjacent deposit-then-withdrawal pairs in the
// last 24 hours where the withdrawal is at least Multiplier times the
// deposit. The operator is not used.
type patternEvaluator struct {
	history History
}

func (e *patternEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[PatternParams](c)
	if err != nil {
		return Outcome{}, err
	}

	txs, err := e.history.Chronological(ctx, in.CustomerID, patternWindow)
	if err != nil {
		return Outcome{}, err
	}

	pairs := countPairs(txs, p.Multiplier)
	return outcome(pairs >= p.RequiredPairs, "%d deposit/withdrawal pairs, need %d", pairs, p.RequiredPairs), nil
}

func countPairs(txs []*domain.Transaction, multiplier float64) int {
	pairs := 0
	for i := 1; i < len(txs); i++ {
		d, w := txs[i-1], txs[i]
		if d.Type == domain.TxDeposit && w.Type == domain.TxWithdrawal && w.Amount >= multiplier*d.Amount {
			pairs++
		}
	}
	return pairs
}

// counterpartyEvaluator matches a payment of at least MinAmount to an
// account the customer has not paid within the lookback. The operator is
// not used.
type counterpartyEvaluator struct {
	history History
}

func (e *counterpartyEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[CounterpartyParams](c)
	if err != nil {
		return Outcome{}, err
	}

	if in.Amount < p.MinAmount {
		return outcome(false, "amount %.2f below %.2f", in.Amount, p.MinAmount), nil
	}
	if in.ToAccount == "" {
		return outcome(false, "no destination account"), nil
	}

	count, err := e.history.Count(ctx, in.CustomerID, p.Lookback, history.Filter{
		Types:     p.Types,
		ToAccount: in.ToAccount,
	})
	if err != nil {
		return Outcome{}, err
	}
	return outcome(count == 0, "%d prior transactions to %s in %s", count, in.ToAccount, p.Lookback), nil
}
