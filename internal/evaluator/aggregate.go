package evaluator

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

// velocityEvaluator counts prior transactions of at least MinAmount in the
// window and compares the count with MinCount.
type velocityEvaluator struct {
	history History
	cmp     *Comparator
}

func (e *velocityEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[VelocityParams](c)
	if err != nil {
		return Outcome{}, err
	}

	minAmount := p.MinAmount
	count, err := e.history.Count(ctx, in.CustomerID, p.Window, history.Filter{
		Types:     p.Types,
		MinAmount: &minAmount,
	})
	if err != nil {
		return Outcome{}, err
	}

	ok, err := e.cmp.Compare(c.Operator, float64(count), p.MinCount)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "%d transactions >= %.2f in %s %s %g", count, p.MinAmount, p.Window, c.Operator, p.MinCount), nil
}

// structuringEvaluator sums prior amounts strictly below MaxSingle and
// compares the sum with MaxWindowSum.
type structuringEvaluator struct {
	history History
	cmp     *Comparator
}

func (e *structuringEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[StructuringParams](c)
	if err != nil {
		return Outcome{}, err
	}

	below := p.MaxSingle
	sum, err := e.history.Sum(ctx, in.CustomerID, p.Window, history.Filter{
		Types:       p.Types,
		BelowAmount: &below,
	})
	if err != nil {
		return Outcome{}, err
	}

	ok, err := e.cmp.Compare(c.Operator, sum, p.MaxWindowSum)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "sum %.2f of amounts < %.2f in %s %s %.2f", sum, p.MaxSingle, p.Window, c.Operator, p.MaxWindowSum), nil
}

// dailyTotalEvaluator sums every prior amount in the window.
type dailyTotalEvaluator struct {
	history History
	cmp     *Comparator
}

func (e *dailyTotalEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[DailyTotalParams](c)
	if err != nil {
		return Outcome{}, err
	}

	sum, err := e.history.Sum(ctx, in.CustomerID, p.Window, history.Filter{Types: p.Types})
	if err != nil {
		return Outcome{}, err
	}

	ok, err := e.cmp.Compare(c.Operator, sum, p.Threshold)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "total %.2f in %s %s %.2f", sum, p.Window, c.Operator, p.Threshold), nil
}

// pastTransactionsEvaluator compares the count or the sum of the
// customer's history with a threshold.
type pastTransactionsEvaluator struct {
	history History
	cmp     *Comparator
}

func (e *pastTransactionsEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[PastTransactionsParams](c)
	if err != nil {
		return Outcome{}, err
	}

	var (
		observed float64
		label    = "count"
	)
	if p.Sum {
		label = "sum"
		if observed, err = e.history.Sum(ctx, in.CustomerID, p.Lookback, history.Filter{}); err != nil {
			return Outcome{}, err
		}
	} else {
		count, err := e.history.Count(ctx, in.CustomerID, p.Lookback, history.Filter{})
		if err != nil {
			return Outcome{}, err
		}
		observed = float64(count)
	}

	ok, err := e.cmp.Compare(c.Operator, observed, p.Threshold)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "past %s %g %s %g", label, observed, c.Operator, p.Threshold), nil
}
