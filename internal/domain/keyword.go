package domain

// RiskLevel is the band derived from a 0-100 risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelFor maps a score to its band.
func RiskLevelFor(score int) RiskLevel {
	switch {
	case score >= 90:
		return RiskCritical
	case score >= 70:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	default:
		return RiskLow
	}
}

// SuspiciousKeyword is a term that raises the risk of a transaction description.
type SuspiciousKeyword struct {
	ID        string `json:"id"`
	Keyword   string `json:"keyword"`
	RiskScore int    `json:"riskScore"`
	Category  string `json:"category,omitempty"`
	Active    bool   `json:"active"`

	CaseSensitive bool `json:"caseSensitive"`
	WholeWord     bool `json:"wholeWord"`
}

// RiskLevel returns the band of the keyword's score.
func (k *SuspiciousKeyword) RiskLevel() RiskLevel {
	return RiskLevelFor(k.RiskScore)
}

// Country carries the AML risk score of a jurisdiction.
type Country struct {
	Code      string `json:"code"`
	Name      string `json:"name"`
	RiskScore int    `json:"riskScore"`
}

// Account is the balance view the risk pipeline reads and moves.
type Account struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Currency   string `json:"currency"`

	// Balance is nil when unknown.
	Balance *float64 `json:"balance"`
}
