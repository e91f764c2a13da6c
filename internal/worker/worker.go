// Package worker assesses transactions submitted on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Assessor decides a transaction candidate.
type Assessor interface {
	Assess(ctx context.Context, c *domain.TransactionCandidate) (*domain.Decision, error)
}

// Worker consumes domain.TopicTransactionSubmitted and runs each candidate
// through the assessor. Decisions and alerts are published by the
// assessor itself.
type Worker struct {
	bus      domain.EventBus
	assessor Assessor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Timeout bounds one assessment; zero means no timeout.
	Timeout time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, assessor Assessor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		assessor: assessor,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to submitted transactions.
func (w *Worker) Start(cfg Config) error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		return w.processTransaction(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicTransactionSubmitted)
	return nil
}

// SubmittedMessage is the payload of domain.TopicTransactionSubmitted.
type SubmittedMessage struct {
	RequestID string                      `json:"requestId"`
	Candidate domain.TransactionCandidate `json:"candidate"`
}

// Submit publishes a candidate for asynchronous assessment.
func Submit(ctx context.Context, bus domain.EventBus, requestID string, c *domain.TransactionCandidate) error {
	if err := c.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(SubmittedMessage{RequestID: requestID, Candidate: *c})
	if err != nil {
		return fmt.Errorf("failed to encode candidate: %w", err)
	}
	return bus.Publish(ctx, domain.TopicTransactionSubmitted, payload)
}

// processTransaction assesses one submitted candidate. Invalid candidates
// are dropped; they would fail the same way on redelivery.
func (w *Worker) processTransaction(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var sm SubmittedMessage
	if err := json.Unmarshal(msg.Payload, &sm); err != nil {
		slog.Error("failed to parse submitted transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	decision, err := w.assessor.Assess(ctx, &sm.Candidate)
	if errors.Is(err, domain.ErrInvalidTransaction) {
		slog.Warn("dropping invalid transaction",
			"message_id", msg.ID,
			"request_id", sm.RequestID,
			"error", err,
		)
		return nil
	}
	if err != nil {
		slog.Error("assessment failed",
			"message_id", msg.ID,
			"request_id", sm.RequestID,
			"customer_id", sm.Candidate.CustomerID,
			"error", err,
		)
		return err
	}

	slog.Info("transaction processed",
		"tx_id", decision.TxID,
		"request_id", sm.RequestID,
		"status", decision.Status,
		"score", decision.CombinedScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and cancels in-flight assessments.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
