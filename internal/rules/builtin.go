package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultRules returns the standard AML rule set. It is seeded into an
// empty rule store at startup; afterwards rules are managed through the API.
func DefaultRules() []*domain.Rule {
	return []*domain.Rule{
		{
			ID:          "aml-sanctioned-country",
			Name:        "High-risk jurisdiction",
			Description: "Receiver or sender country is on the high-risk list",
			Priority:    10,
			Action:      domain.ActionBlock,
			Active:      true,
			RiskWeight:  95,
			Conditions: []domain.RuleCondition{
				cond(domain.CondCountryRisk, "risk_score", domain.OpGreaterEqual, "90"),
			},
		},
		{
			ID:          "aml-structuring",
			Name:        "Structuring",
			Description: "Many deposits just below the reporting threshold",
			Priority:    20,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  80,
			Conditions: []domain.RuleCondition{
				cond(domain.CondStructuring, "amount", domain.OpGreaterEqual, "50000|300000|24|DEPOSIT"),
			},
		},
		{
			ID:          "aml-velocity",
			Name:        "High-value velocity",
			Description: "Three or more large deposits within a day",
			Priority:    30,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  60,
			Conditions: []domain.RuleCondition{
				cond(domain.CondVelocity, "count", domain.OpGreaterEqual, "100000|3|24|DEPOSIT"),
			},
		},
		{
			ID:          "aml-rapid-movement",
			Name:        "Rapid movement of funds",
			Description: "Deposits withdrawn again almost in full within a day",
			Priority:    40,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  70,
			Conditions: []domain.RuleCondition{
				cond(domain.CondPatternDepositWithdraw, "pairs", domain.OpGreaterEqual, "2|0.9"),
			},
		},
		{
			ID:          "aml-account-drain",
			Name:        "Account drain",
			Description: "Withdrawal or transfer of nearly the whole balance",
			Priority:    50,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  50,
			Conditions: []domain.RuleCondition{
				cond(domain.CondAmountBalanceRatio, "ratio", domain.OpGreaterEqual, "0.9"),
				cond(domain.CondAmount, "amount", domain.OpGreaterEqual, "10000"),
			},
		},
		{
			ID:          "aml-new-counterparty",
			Name:        "Large payment to new counterparty",
			Description: "First transfer to an account in 90 days above 50,000",
			Priority:    60,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  40,
			Conditions: []domain.RuleCondition{
				cond(domain.CondNewCounterparty, "to_account", domain.OpGreater, "90|50000|TRANSFER,CONVERSION"),
			},
		},
		{
			ID:          "aml-behavioral-deviation",
			Name:        "Unusual amount",
			Description: "Amount far above the customer's 95th percentile",
			Priority:    70,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  45,
			Conditions: []domain.RuleCondition{
				cond(domain.CondBehavioralDeviation, "amount", domain.OpGreater, "90|95"),
				cond(domain.CondPastTransactions, "count", domain.OpGreaterEqual, "90|5"),
			},
		},
		{
			ID:          "aml-daily-total",
			Name:        "Daily withdrawal total",
			Description: "Withdrawals above 1,000,000 within 24 hours",
			Priority:    80,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  55,
			Conditions: []domain.RuleCondition{
				cond(domain.CondDailyTotal, "amount", domain.OpGreater, "1000000|24|WITHDRAWAL"),
			},
		},
		{
			ID:          "aml-suspicious-text",
			Name:        "Suspicious description",
			Description: "High keyword score on a sizeable amount",
			Priority:    90,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  35,
			Conditions: []domain.RuleCondition{
				cond(domain.CondNLPScore, "nlp_score", domain.OpGreaterEqual, "70"),
				cond(domain.CondAmount, "amount", domain.OpGreater, "1000"),
			},
		},
		{
			ID:          "aml-crypto-cashout",
			Name:        "Crypto cash-out",
			Description: "Large withdrawal mentioning crypto",
			Priority:    100,
			Action:      domain.ActionFlag,
			Active:      true,
			RiskWeight:  30,
			Conditions: []domain.RuleCondition{
				cond(domain.CondKeywordMatch, "description", domain.OpGreaterEqual, "crypto"),
				cond(domain.CondAmount, "amount", domain.OpGreaterEqual, "20000"),
			},
		},
	}
}

func cond(kind domain.ConditionType, field string, op domain.Operator, value string) domain.RuleCondition {
	return domain.RuleCondition{Type: kind, Field: field, Operator: op, Value: value, Active: true}
}
