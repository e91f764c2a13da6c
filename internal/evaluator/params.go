package evaluator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/keyword"
	"github.com/shopspring/decimal"
)

// Params is the parsed form of a condition value. There is one concrete
// type per condition kind.
type Params interface {
	Kind() domain.ConditionType
}

// ThresholdParams is a single number compared against an input field.
// Used by AMOUNT, NLP_SCORE and COUNTRY_RISK.
type ThresholdParams struct {
	kind      domain.ConditionType
	Threshold float64
}

// VelocityParams counts qualifying transactions in a window.
type VelocityParams struct {
	MinAmount float64
	MinCount  float64
	Window    time.Duration
	Types     []domain.TransactionType
}

// StructuringParams sums sub-threshold amounts in a window.
type StructuringParams struct {
	MaxSingle    float64
	MaxWindowSum float64
	Window       time.Duration
	Types        []domain.TransactionType
}

// DailyTotalParams sums every matching amount in a window.
type DailyTotalParams struct {
	Threshold float64
	Window    time.Duration
	Types     []domain.TransactionType
}

// DeviationParams compares the amount to a historical percentile.
type DeviationParams struct {
	Lookback   time.Duration
	Percentile float64
}

// BalanceRatioParams compares amount/balance to a ratio.
type BalanceRatioParams struct {
	Ratio decimal.Decimal
}

// CounterpartyParams detects first payments to a destination.
type CounterpartyParams struct {
	Lookback  time.Duration
	MinAmount float64
	Types     []domain.TransactionType
}

// KeywordParams holds the normalized keyword.
type KeywordParams struct {
	Keyword string
}

// PatternParams detects deposit-then-withdrawal pairs.
type PatternParams struct {
	RequiredPairs int
	Multiplier    float64
}

// PastTransactionsParams counts or sums history. A zero Lookback covers
// the whole history.
type PastTransactionsParams struct {
	Lookback  time.Duration
	Threshold float64
	Sum       bool
}

func (p ThresholdParams) Kind() domain.ConditionType { return p.kind }
func (VelocityParams) Kind() domain.ConditionType { return domain.CondVelocity }
func (StructuringParams) Kind() domain.ConditionType { return domain.CondStructuring }
func (DailyTotalParams) Kind() domain.ConditionType { return domain.CondDailyTotal }
func (DeviationParams) Kind() domain.ConditionType { return domain.CondBehavioralDeviation }
func (BalanceRatioParams) Kind() domain.ConditionType { return domain.CondAmountBalanceRatio }
func (CounterpartyParams) Kind() domain.ConditionType { return domain.CondNewCounterparty }
func (KeywordParams) Kind() domain.ConditionType { return domain.CondKeywordMatch }
func (PatternParams) Kind() domain.ConditionType { return domain.CondPatternDepositWithdraw }
func (PastTransactionsParams) Kind() domain.ConditionType { return domain.CondPastTransactions }

// Condition is a rule condition with its value parsed.
type Condition struct {
	domain.RuleCondition
	Params Params
}

// Compile parses a rule condition's value into typed params.
func Compile(rc domain.RuleCondition) (*Condition, error) {
	if !rc.Operator.Valid() {
		return nil, fmt.Errorf("condition %s: unsupported operator %q", rc.ID, rc.Operator)
	}

	params, err := parseParams(rc)
	if err != nil {
		return nil, fmt.Errorf("condition %s (%s %q): %w", rc.ID, rc.Type, rc.Value, err)
	}
	return &Condition{RuleCondition: rc, Params: params}, nil
}

func parseParams(rc domain.RuleCondition) (Params, error) {
	parts := splitValue(rc.Value)
	var err error

	switch rc.Type {
	case domain.CondAmount, domain.CondNLPScore, domain.CondCountryRisk:
		if err := arity(parts, 1, 1); err != nil {
			return nil, err
		}
		v, err := nonNegative(parts[0], "threshold")
		if err != nil {
			return nil, err
		}
		return ThresholdParams{kind: rc.Type, Threshold: v}, nil

	case domain.CondVelocity:
		if err := arity(parts, 3, -1); err != nil {
			return nil, err
		}
		var p VelocityParams
		if p.MinAmount, err = nonNegative(parts[0], "minAmount"); err != nil {
			return nil, err
		}
		if p.MinCount, err = nonNegative(parts[1], "minCount"); err != nil {
			return nil, err
		}
		if p.Window, err = hours(parts[2], "windowHours"); err != nil {
			return nil, err
		}
		if p.Types, err = txTypes(parts[3:]); err != nil {
			return nil, err
		}
		return p, nil

	case domain.CondStructuring:
		if err := arity(parts, 3, -1); err != nil {
			return nil, err
		}
		var p StructuringParams
		if p.MaxSingle, err = positive(parts[0], "maxSingle"); err != nil {
			return nil, err
		}
		if p.MaxWindowSum, err = nonNegative(parts[1], "maxWindowSum"); err != nil {
			return nil, err
		}
		if p.Window, err = hours(parts[2], "windowHours"); err != nil {
			return nil, err
		}
		if p.Types, err = txTypes(parts[3:]); err != nil {
			return nil, err
		}
		return p, nil

	case domain.CondDailyTotal:
		if err := arity(parts, 2, -1); err != nil {
			return nil, err
		}
		var p DailyTotalParams
		if p.Threshold, err = nonNegative(parts[0], "threshold"); err != nil {
			return nil, err
		}
		if p.Window, err = hours(parts[1], "windowHours"); err != nil {
			return nil, err
		}
		if p.Types, err = txTypes(parts[2:]); err != nil {
			return nil, err
		}
		return p, nil

	case domain.CondBehavioralDeviation:
		if err := arity(parts, 2, 2); err != nil {
			return nil, err
		}
		var p DeviationParams
		if p.Lookback, err = days(parts[0], "lookbackDays"); err != nil {
			return nil, err
		}
		if p.Percentile, err = positive(parts[1], "percentile"); err != nil {
			return nil, err
		}
		if p.Percentile > 100 {
			return nil, fmt.Errorf("percentile must be within (0, 100], got %v", p.Percentile)
		}
		return p, nil

	case domain.CondAmountBalanceRatio:
		if err := arity(parts, 1, 1); err != nil {
			return nil, err
		}
		ratio, err := decimal.NewFromString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid ratio %q: %w", parts[0], err)
		}
		if ratio.IsNegative() {
			return nil, fmt.Errorf("ratio must not be negative, got %s", ratio)
		}
		return BalanceRatioParams{Ratio: ratio}, nil

	case domain.CondNewCounterparty:
		if err := arity(parts, 2, -1); err != nil {
			return nil, err
		}
		var p CounterpartyParams
		if p.Lookback, err = days(parts[0], "lookbackDays"); err != nil {
			return nil, err
		}
		if p.MinAmount, err = nonNegative(parts[1], "minAmount"); err != nil {
			return nil, err
		}
		if p.Types, err = txTypes(parts[2:]); err != nil {
			return nil, err
		}
		return p, nil

	case domain.CondKeywordMatch:
		kw := keyword.Normalize(rc.Value)
		if kw == "" {
			return nil, fmt.Errorf("keyword is empty after normalization")
		}
		return KeywordParams{Keyword: kw}, nil

	case domain.CondPatternDepositWithdraw:
		if err := arity(parts, 2, 2); err != nil {
			return nil, err
		}
		pairs, err := strconv.Atoi(parts[0])
		if err != nil || pairs < 1 {
			return nil, fmt.Errorf("requiredPairs must be a positive integer, got %q", parts[0])
		}
		mult, err := positive(parts[1], "multiplier")
		if err != nil {
			return nil, err
		}
		return PatternParams{RequiredPairs: pairs, Multiplier: mult}, nil

	case domain.CondPastTransactions:
		if err := arity(parts, 1, 2); err != nil {
			return nil, err
		}
		var p PastTransactionsParams
		switch strings.ToLower(strings.TrimSpace(rc.Field)) {
		case "", "count":
		case "sum", "amount":
			p.Sum = true
		default:
			return nil, fmt.Errorf("field must be count or sum, got %q", rc.Field)
		}
		threshold := parts[0]
		if len(parts) == 2 {
			if p.Lookback, err = days(parts[0], "lookbackDays"); err != nil {
				return nil, err
			}
			threshold = parts[1]
		}
		if p.Threshold, err = nonNegative(threshold, "threshold"); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, fmt.Errorf("unknown condition type %q", rc.Type)
}

func splitValue(value string) []string {
	parts := strings.Split(value, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// arity checks the number of parts; hi < 0 means unbounded.
func arity(parts []string, lo, hi int) error {
	n := len(parts)
	if n < lo || (hi >= 0 && n > hi) {
		if lo == hi {
			return fmt.Errorf("expected %d field(s), got %d", lo, n)
		}
		return fmt.Errorf("expected %d to %d field(s), got %d", lo, hi, n)
	}
	return nil
}

func number(s, name string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number, got %q", name, s)
	}
	return v, nil
}

func nonNegative(s, name string) (float64, error) {
	v, err := number(s, name)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", name, v)
	}
	return v, nil
}

func positive(s, name string) (float64, error) {
	v, err := number(s, name)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return v, nil
}

func hours(s, name string) (time.Duration, error) {
	v, err := positive(s, name)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * float64(time.Hour)), nil
}

func days(s, name string) (time.Duration, error) {
	v, err := positive(s, name)
	if err != nil {
		return 0, err
	}
	return time.Duration(v * 24 * float64(time.Hour)), nil
}

// txTypes parses the trailing type list. Items may be split by "|" or ",".
// Empty or ANY selects every type, returned as nil.
func txTypes(parts []string) ([]domain.TransactionType, error) {
	var out []domain.TransactionType
	for _, part := range parts {
		for _, item := range strings.Split(part, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			if strings.EqualFold(item, "ANY") {
				return nil, nil
			}
			t, err := domain.ParseTransactionType(item)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}
