package evaluator

import (
	"context"
	"errors"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

// ratioPlaces is the precision of the amount/balance ratio.
const ratioPlaces = 6

// balanceRatioEvaluator compares amount/balance of the account the money
// leaves (or, for deposits, enters) with the configured ratio.
type balanceRatioEvaluator struct {
	accounts AccountLookup
	cmp      *Comparator
}

func (e *balanceRatioEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[BalanceRatioParams](c)
	if err != nil {
		return Outcome{}, err
	}

	accountID := in.ToAccount
	if in.Type.DebitsSource() {
		accountID = in.FromAccount
	}
	if accountID == "" {
		return outcome(false, "no account for %s", in.Type), nil
	}

	acct, err := e.accounts.Account(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return outcome(false, "account %s not found", accountID), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if acct.Balance == nil || *acct.Balance <= 0 {
		return outcome(false, "account %s has no positive balance", accountID), nil
	}

	ratio := decimal.NewFromFloat(in.Amount).DivRound(decimal.NewFromFloat(*acct.Balance), ratioPlaces)
	ok, err := e.cmp.Compare(c.Operator, ratio.InexactFloat64(), p.Ratio.InexactFloat64())
	if err != nil {
		return Outcome{}, err
	}
	return outcome(ok, "amount/balance %s %s %s", ratio, c.Operator, p.Ratio), nil
}

// countryRiskEvaluator matches when the receiver country, or the sender
// country when given, satisfies the threshold. Unknown countries do not
// match.
type countryRiskEvaluator struct {
	countries CountryLookup
	cmp       *Comparator
}

func (e *countryRiskEvaluator) Evaluate(ctx context.Context, in *domain.TransactionInput, c *Condition) (Outcome, error) {
	p, err := paramsOf[ThresholdParams](c)
	if err != nil {
		return Outcome{}, err
	}

	var (
		details  []string
		firstErr error
	)
	for _, side := range []struct{ role, code string }{
		{"receiver", in.ReceiverCountry},
		{"sender", in.SenderCountry},
	} {
		if side.code == "" {
			continue
		}

		country, err := e.countries.Country(ctx, side.code)
		if errors.Is(err, domain.ErrNotFound) {
			details = append(details, side.role+" "+side.code+" unknown")
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		ok, err := e.cmp.Compare(c.Operator, float64(country.RiskScore), p.Threshold)
		if err != nil {
			return Outcome{}, err
		}
		if ok {
			return outcome(true, "%s %s risk %d %s %g", side.role, country.Code, country.RiskScore, c.Operator, p.Threshold), nil
		}
		details = append(details, side.role+" "+country.Code+" below threshold")
	}

	if firstErr != nil {
		return Outcome{}, firstErr
	}
	if len(details) == 0 {
		return outcome(false, "no country given"), nil
	}
	return outcome(false, "%s", strings.Join(details, ", ")), nil
}
