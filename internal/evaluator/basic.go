package evaluator

import (
	"context"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type amountEvaluator struct {
	cmp *Comparator
}

func (e *amountEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[ThresholdParams](c)
	if err != nil {
		return Outcome{}, err
	}

	ok, err := e.cmp.Compare(c.Operator, in.Amount, p.Threshold)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "amount %.2f %s %.2f", in.Amount, c.Operator, p.Threshold), nil
}

type nlpScoreEvaluator struct {
	cmp *Comparator
}

func (e *nlpScoreEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[ThresholdParams](c)
	if err != nil {
		return Outcome{}, err
	}

	ok, err := e.cmp.Compare(c.Operator, float64(in.NLPScore), p.Threshold)
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "nlp score %d %s %g", in.NLPScore, c.Operator, p.Threshold), nil
}
