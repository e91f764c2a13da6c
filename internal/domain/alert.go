package domain

import "time"

// AlertStatus is the review state of an alert.
type AlertStatus string

const (
	AlertOpen      AlertStatus = "OPEN"
	AlertResolved  AlertStatus = "RESOLVED"
	AlertEscalated AlertStatus = "ESCALATED"
)

// Alert asks a compliance officer to review a transaction.
type Alert struct {
	ID         string      `json:"id"`
	TxID       string      `json:"txId"`
	CustomerID string      `json:"customerId"`
	Reason     string      `json:"reason"`
	RiskScore  int         `json:"riskScore"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	ResolvedBy string      `json:"resolvedBy,omitempty"`
	ResolvedAt *time.Time  `json:"resolvedAt,omitempty"`
}

// Decision is the outcome of assessing one candidate.
type Decision struct {
	TxID          string            `json:"txId"`
	Status        TransactionStatus `json:"status"`
	RuleScore     int               `json:"ruleScore"`
	KeywordScore  int               `json:"keywordScore"`
	CombinedScore int               `json:"combinedScore"`
	Executed      bool              `json:"executed"`

	MatchedRules    []RuleMatch `json:"matchedRules"`
	MatchedKeywords []string    `json:"matchedKeywords,omitempty"`
	AlertID         string      `json:"alertId,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
