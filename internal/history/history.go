// Package history provides windowed queries over a customer's past transactions.
package history

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Filter narrows a window query.
type Filter struct {
	// Types restricts the transaction types; empty means any type.
	Types []domain.TransactionType

	// MinAmount keeps amounts >= the value when set.
	MinAmount *float64
	// BelowAmount keeps amounts strictly < the value when set.
	BelowAmount *float64

	// ToAccount restricts to one destination account when set.
	ToAccount string
}

// Accessor runs read-only aggregate queries over trailing time windows.
// Every call computes its window from the current time and reads the store
// afresh; nothing is cached.
type Accessor struct {
	store domain.TransactionHistory
	now   func() time.Time
}

// NewAccessor creates a history accessor over the given store.
func NewAccessor(store domain.TransactionHistory) *Accessor {
	return &Accessor{
		store: store,
		now:   time.Now,
	}
}

// WithClock returns a copy of the accessor that reads time from now.
func (a *Accessor) WithClock(now func() time.Time) *Accessor {
	return &Accessor{store: a.store, now: now}
}

// Since returns the start of a trailing window. A non-positive window
// covers the whole history.
func (a *Accessor) Since(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return a.now().UTC().Add(-window)
}

// Count returns the number of matching transactions within the window.
func (a *Accessor) Count(ctx context.Context, customerID string, window time.Duration, f Filter) (int64, error) {
	q, err := a.query(customerID, window, f)
	if err != nil {
		return 0, err
	}

	count, err := a.store.CountTransactions(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// Sum returns the total amount of matching transactions within the window.
func (a *Accessor) Sum(ctx context.Context, customerID string, window time.Duration, f Filter) (float64, error) {
	q, err := a.query(customerID, window, f)
	if err != nil {
		return 0, err
	}

	sum, err := a.store.SumAmounts(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

// AmountPercentile returns the nearest-rank percentile of the customer's
// transaction amounts within the window, and the sample size. With an empty
// history the sample size is zero and the value is meaningless.
func (a *Accessor) AmountPercentile(ctx context.Context, customerID string, window time.Duration, pct float64) (float64, int, error) {
	txs, err := a.Chronological(ctx, customerID, window)
	if err != nil {
		return 0, 0, err
	}

	amounts := make([]float64, len(txs))
	for i, tx := range txs {
		amounts[i] = tx.Amount
	}

	value, ok := Percentile(amounts, pct)
	if !ok {
		return 0, 0, nil
	}
	return value, len(amounts), nil
}

// Chronological returns the customer's transactions within the window,
// oldest first.
func (a *Accessor) Chronological(ctx context.Context, customerID string, window time.Duration) ([]*domain.Transaction, error) {
	q, err := a.query(customerID, window, Filter{})
	if err != nil {
		return nil, err
	}

	txs, err := a.store.ListTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, nil
}

func (a *Accessor) query(customerID string, window time.Duration, f Filter) (domain.HistoryQuery, error) {
	if customerID == "" {
		return domain.HistoryQuery{}, fmt.Errorf("customerID is required")
	}
	if a.store == nil {
		return domain.HistoryQuery{}, fmt.Errorf("no data source available")
	}

	return domain.HistoryQuery{
		CustomerID:  customerID,
		Since:       a.Since(window),
		Types:       f.Types,
		MinAmount:   f.MinAmount,
		BelowAmount: f.BelowAmount,
		ToAccount:   f.ToAccount,
	}, nil
}

// Percentile computes the nearest-rank percentile: the value at rank
// ceil(pct/100 * n) of the ascending sample. pct is clamped to (0, 100].
func Percentile(values []float64, pct float64) (float64, bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(pct / 100.0 * float64(n)))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1], true
}
