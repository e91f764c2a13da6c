// Package decision turns rule and keyword scores into an approve, flag or
// block decision and applies it to the ledger.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/keyword"
	"github.com/opensource-finance/kestrel/internal/score"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kestrel-decision")

// RuleEvaluator scores a transaction against the loaded rules.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, in *domain.TransactionInput) (*domain.EvaluationResult, error)
}

// KeywordScorer scores a transaction description.
type KeywordScorer interface {
	Assess(ctx context.Context, text string) (*keyword.Assessment, error)
}

// Processor assesses candidates and applies manual reviews.
type Processor struct {
	ledger   domain.Ledger
	rules    RuleEvaluator
	keywords KeywordScorer
	bus      domain.EventBus
	risk     domain.RiskConfig
	now      func() time.Time
}

// NewProcessor creates a decision processor. bus may be nil.
func NewProcessor(ledger domain.Ledger, rules RuleEvaluator, keywords KeywordScorer, bus domain.EventBus, risk domain.RiskConfig) *Processor {
	return &Processor{
		ledger:   ledger,
		rules:    rules,
		keywords: keywords,
		bus:      bus,
		risk:     risk,
		now:      time.Now,
	}
}

// Classify maps a combined score to a transaction status.
func Classify(combined int, risk domain.RiskConfig) domain.TransactionStatus {
	switch {
	case combined >= risk.BlockThreshold:
		return domain.StatusBlocked
	case combined >= risk.FlagThreshold:
		return domain.StatusFlagged
	default:
		return domain.StatusApproved
	}
}

// Assess scores the candidate and, in one ledger transaction, records it,
// raises an alert when it needs review and moves the money when it is
// approved. Insufficient funds abort the whole unit.
func (p *Processor) Assess(ctx context.Context, c *domain.TransactionCandidate) (*domain.Decision, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "decision.Assess")
	defer span.End()

	txID := uuid.New().String()
	span.SetAttributes(
		attribute.String("tx.id", txID),
		attribute.String("tx.type", string(c.Type)),
	)

	kw, err := p.keywords.Assess(ctx, c.Description)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to score description: %w", err)
	}

	result, err := p.rules.Evaluate(ctx, c.Input(txID, kw.Score))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to evaluate rules: %w", err)
	}

	combined := score.Blend(result.Score, kw.Score, p.risk.RuleWeight, p.risk.KeywordWeight)
	status := Classify(combined, p.risk)
	now := p.now().UTC()

	tx := &domain.Transaction{
		ID:                txID,
		CustomerID:        c.CustomerID,
		Type:              c.Type,
		FromAccount:       c.FromAccount,
		ToAccount:         c.ToAccount,
		Amount:            c.Amount,
		Currency:          c.Currency,
		ConvertedAmount:   c.ConvertedAmount,
		ConvertedCurrency: c.ConvertedCurrency,
		Description:       c.Description,
		ReceiverCountry:   strings.ToUpper(c.ReceiverCountry),
		SenderCountry:     strings.ToUpper(c.SenderCountry),
		Status:            status,
		RuleScore:         result.Score,
		KeywordScore:      kw.Score,
		CombinedScore:     combined,
		Executed:          status == domain.StatusApproved,
		CreatedAt:         now,
	}

	var alert *domain.Alert
	if status != domain.StatusApproved {
		alert = &domain.Alert{
			ID:         uuid.New().String(),
			TxID:       txID,
			CustomerID: c.CustomerID,
			Reason:     alertReason(combined, result.MatchedRules, kw.MatchedTerms()),
			RiskScore:  combined,
			Status:     domain.AlertOpen,
			CreatedAt:  now,
		}
	}

	err = p.ledger.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
		if tx.Executed {
			if err := move(ctx, ltx, tx); err != nil {
				return err
			}
		}
		if err := ltx.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		for i := range result.Logs {
			if err := ltx.SaveExecutionLog(ctx, &result.Logs[i]); err != nil {
				return fmt.Errorf("failed to save execution log: %w", err)
			}
		}
		if alert != nil {
			if err := ltx.SaveAlert(ctx, alert); err != nil {
				return fmt.Errorf("failed to save alert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	decision := &domain.Decision{
		TxID:            txID,
		Status:          status,
		RuleScore:       result.Score,
		KeywordScore:    kw.Score,
		CombinedScore:   combined,
		Executed:        tx.Executed,
		MatchedRules:    result.MatchedRules,
		MatchedKeywords: kw.MatchedTerms(),
		Timestamp:       now,
	}
	if alert != nil {
		decision.AlertID = alert.ID
	}

	span.SetAttributes(
		attribute.String("decision.status", string(status)),
		attribute.Int("decision.score", combined),
	)
	slog.Info("transaction assessed",
		"tx_id", txID,
		"customer_id", c.CustomerID,
		"status", status,
		"rule_score", result.Score,
		"keyword_score", kw.Score,
		"combined_score", combined,
	)

	p.publish(ctx, domain.TopicTransactionAssessed, decision)
	if alert != nil {
		p.publish(ctx, domain.TopicAlertCreated, alert)
	}

	return decision, nil
}

// Approve releases a flagged or blocked transaction: the money moves, the
// status becomes APPROVED and open alerts are resolved. Scores are kept.
func (p *Processor) Approve(ctx context.Context, txID, officer string) (*domain.Transaction, error) {
	return p.review(ctx, txID, officer, domain.StatusApproved)
}

// Reject closes a flagged or blocked transaction without moving money.
func (p *Processor) Reject(ctx context.Context, txID, officer string) (*domain.Transaction, error) {
	return p.review(ctx, txID, officer, domain.StatusRejected)
}

func (p *Processor) review(ctx context.Context, txID, officer string, to domain.TransactionStatus) (*domain.Transaction, error) {
	if strings.TrimSpace(officer) == "" {
		return nil, fmt.Errorf("%w: officer is required", domain.ErrInvalidTransaction)
	}

	now := p.now().UTC()
	var reviewed *domain.Transaction

	err := p.ledger.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
		tx, err := ltx.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		if tx.Status != domain.StatusFlagged && tx.Status != domain.StatusBlocked {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidState, txID, tx.Status)
		}

		// The conditional update claims the transaction before any money moves.
		executed := to == domain.StatusApproved
		if err := ltx.MarkReviewed(ctx, txID, to, executed, officer, now); err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		if executed {
			if err := move(ctx, ltx, tx); err != nil {
				return err
			}
		}
		if _, err := ltx.ResolveAlerts(ctx, txID, officer, now); err != nil {
			return fmt.Errorf("failed to resolve alerts: %w", err)
		}

		tx.Status = to
		tx.Executed = executed
		tx.ReviewedBy = officer
		tx.ReviewedAt = &now
		reviewed = tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("transaction reviewed",
		"tx_id", txID,
		"status", to,
		"officer", officer,
	)
	p.publish(ctx, domain.TopicTransactionReviewed, reviewed)

	return reviewed, nil
}

// move applies the balance changes of tx.
func move(ctx context.Context, ltx domain.LedgerTx, tx *domain.Transaction) error {
	if tx.Type.DebitsSource() {
		if err := ltx.AdjustBalance(ctx, tx.FromAccount, -tx.Amount); err != nil {
			return fmt.Errorf("failed to debit %s: %w", tx.FromAccount, err)
		}
	}
	if tx.Type.CreditsDestination() {
		credit := tx.Amount
		if tx.Type == domain.TxConversion {
			credit = tx.ConvertedAmount
		}
		if err := ltx.AdjustBalance(ctx, tx.ToAccount, credit); err != nil {
			return fmt.Errorf("failed to credit %s: %w", tx.ToAccount, err)
		}
	}
	return nil
}

func alertReason(combined int, matches []domain.RuleMatch, keywords []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "combined risk score %d", combined)

	if len(matches) > 0 {
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		b.WriteString("; rules: ")
		b.WriteString(strings.Join(names, ", "))
	}
	if len(keywords) > 0 {
		b.WriteString("; keywords: ")
		b.WriteString(strings.Join(keywords, ", "))
	}
	return b.String()
}

// publish sends v on the bus. Failures are logged; the decision stands.
func (p *Processor) publish(ctx context.Context, topic string, v any) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
