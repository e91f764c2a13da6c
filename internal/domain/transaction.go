package domain

import (
	"fmt"
	"strings"
	"time"
)

// TransactionType identifies the kind of money movement.
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxTransfer   TransactionType = "TRANSFER"
	// TxConversion is a transfer whose credited leg is in another currency.
	TxConversion TransactionType = "CONVERSION"
)

// AllTransactionTypes returns every known transaction type.
func AllTransactionTypes() []TransactionType {
	return []TransactionType{TxDeposit, TxWithdrawal, TxTransfer, TxConversion}
}

// ParseTransactionType parses a transaction type, case-insensitively.
func ParseTransactionType(s string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(s)))
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxConversion:
		return t, nil
	}
	return "", fmt.Errorf("unknown transaction type %q", s)
}

// DebitsSource reports whether the type takes money out of FromAccount.
func (t TransactionType) DebitsSource() bool {
	return t == TxWithdrawal || t == TxTransfer || t == TxConversion
}

// CreditsDestination reports whether the type puts money into ToAccount.
func (t TransactionType) CreditsDestination() bool {
	return t == TxDeposit || t == TxTransfer || t == TxConversion
}

// TransactionStatus is the outcome recorded on a persisted transaction.
type TransactionStatus string

const (
	StatusApproved TransactionStatus = "APPROVED"
	StatusFlagged  TransactionStatus = "FLAGGED"
	StatusBlocked  TransactionStatus = "BLOCKED"
	StatusRejected TransactionStatus = "REJECTED"
)

// Transaction is a persisted, assessed transaction.
type Transaction struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customerId"`
	Type       TransactionType `json:"type"`

	FromAccount string `json:"fromAccount,omitempty"`
	ToAccount   string `json:"toAccount,omitempty"`

	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
	ConvertedAmount   float64 `json:"convertedAmount,omitempty"`
	ConvertedCurrency string  `json:"convertedCurrency,omitempty"`

	Description     string `json:"description,omitempty"`
	ReceiverCountry string `json:"receiverCountry,omitempty"`
	SenderCountry   string `json:"senderCountry,omitempty"`

	Status        TransactionStatus `json:"status"`
	RuleScore     int               `json:"ruleScore"`
	KeywordScore  int               `json:"keywordScore"`
	CombinedScore int               `json:"combinedScore"`

	// Executed is true once the balances have been moved.
	Executed   bool       `json:"executed"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// TransactionCandidate is a transaction submitted for assessment.
// Nothing has been persisted or moved yet.
type TransactionCandidate struct {
	CustomerID  string          `json:"customerId"`
	Type        TransactionType `json:"type"`
	FromAccount string          `json:"fromAccount,omitempty"`
	ToAccount   string          `json:"toAccount,omitempty"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`

	// Pre-computed by the conversion collaborator for CONVERSION transfers.
	ConvertedAmount   float64 `json:"convertedAmount,omitempty"`
	ConvertedCurrency string  `json:"convertedCurrency,omitempty"`

	Description     string `json:"description,omitempty"`
	ReceiverCountry string `json:"receiverCountry,omitempty"`
	SenderCountry   string `json:"senderCountry,omitempty"`
}

// Validate checks the candidate for caller errors.
func (c *TransactionCandidate) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: candidate is required", ErrInvalidTransaction)
	}
	if strings.TrimSpace(c.CustomerID) == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidTransaction)
	}
	if _, err := ParseTransactionType(string(c.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if c.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	if c.Type.DebitsSource() && c.FromAccount == "" {
		return fmt.Errorf("%w: fromAccount is required for %s", ErrInvalidTransaction, c.Type)
	}
	if c.Type.CreditsDestination() && c.ToAccount == "" {
		return fmt.Errorf("%w: toAccount is required for %s", ErrInvalidTransaction, c.Type)
	}
	if c.Type == TxConversion && c.ConvertedAmount <= 0 {
		return fmt.Errorf("%w: convertedAmount must be positive for CONVERSION", ErrInvalidTransaction)
	}
	return nil
}

// TransactionInput is the immutable evaluation request seen by the rule engine.
type TransactionInput struct {
	// TxID references the transaction being assessed. May be empty for dry runs.
	TxID       string
	CustomerID string
	Amount     float64
	Currency   string

	Description string
	Type        TransactionType

	FromAccount string
	ToAccount   string

	ReceiverCountry string
	SenderCountry   string

	// NLPScore is the pre-computed keyword score (0-100).
	NLPScore int
}

// Validate checks the input for caller errors.
func (in *TransactionInput) Validate() error {
	if in == nil {
		return fmt.Errorf("%w: input is required", ErrInvalidTransaction)
	}
	if strings.TrimSpace(in.CustomerID) == "" {
		return fmt.Errorf("%w: customerId is required", ErrInvalidTransaction)
	}
	if _, err := ParseTransactionType(string(in.Type)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if in.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidTransaction)
	}
	return nil
}

// Input builds the rule engine input for a candidate.
func (c *TransactionCandidate) Input(txID string, nlpScore int) *TransactionInput {
	return &TransactionInput{
		TxID:            txID,
		CustomerID:      c.CustomerID,
		Amount:          c.Amount,
		Currency:        c.Currency,
		Description:     c.Description,
		Type:            c.Type,
		FromAccount:     c.FromAccount,
		ToAccount:       c.ToAccount,
		ReceiverCountry: strings.ToUpper(c.ReceiverCountry),
		SenderCountry:   strings.ToUpper(c.SenderCountry),
		NLPScore:        nlpScore,
	}
}

// HistoryQuery selects past transactions of one customer.
type HistoryQuery struct {
	CustomerID string
	Since      time.Time

	// Types restricts the transaction types; empty means any type.
	Types []TransactionType

	// MinAmount keeps amounts >= the value when set.
	MinAmount *float64
	// BelowAmount keeps amounts strictly < the value when set.
	BelowAmount *float64

	// ToAccount restricts to one destination account when set.
	ToAccount string
}
