package domain

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransaction marks caller errors in a transaction request.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvalidRule marks a rule definition the engine cannot load.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInsufficientFunds is returned when a debit would overdraw an account.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidState is returned when a review action does not apply to the
	// transaction's current status.
	ErrInvalidState = errors.New("invalid transaction state")
)
