package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// recordingAssessor forwards candidates to a channel.
type recordingAssessor struct {
	got   chan *domain.TransactionCandidate
	err   error
	calls atomic.Int32
}

func newRecordingAssessor() *recordingAssessor {
	return &recordingAssessor{got: make(chan *domain.TransactionCandidate, 10)}
}

func (a *recordingAssessor) Assess(ctx context.Context, c *domain.TransactionCandidate) (*domain.Decision, error) {
	a.calls.Add(1)
	a.got <- c
	if a.err != nil {
		return nil, a.err
	}
	return &domain.Decision{TxID: "tx-" + c.CustomerID, Status: domain.StatusApproved}, nil
}

func candidate() *domain.TransactionCandidate {
	return &domain.TransactionCandidate{
		CustomerID: "cust-1",
		Type:       domain.TxDeposit,
		ToAccount:  "acc-1",
		Amount:     500,
		Currency:   "USD",
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newRecordingAssessor())
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTransactionSubmitted {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected no subscriptions after stop")
		}
	})

	t.Run("AssessesSubmittedCandidate", func(t *testing.T) {
		assessor := newRecordingAssessor()
		w := NewWorker(eventBus, assessor)
		if err := w.Start(Config{Timeout: time.Second}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if err := Submit(ctx, eventBus, "req-1", candidate()); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		select {
		case c := <-assessor.got:
			if c.CustomerID != "cust-1" || c.Amount != 500 || c.Type != domain.TxDeposit {
				t.Errorf("unexpected candidate %+v", c)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for assessment")
		}
	})

	t.Run("MalformedPayloadSkipped", func(t *testing.T) {
		assessor := newRecordingAssessor()
		w := NewWorker(eventBus, assessor)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		if err := eventBus.Publish(ctx, domain.TopicTransactionSubmitted, []byte("{not json")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if err := Submit(ctx, eventBus, "req-2", candidate()); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}

		select {
		case <-assessor.got:
		case <-time.After(time.Second):
			t.Fatal("worker stopped after a malformed message")
		}
		if n := assessor.calls.Load(); n != 1 {
			t.Errorf("expected 1 assessment, got %d", n)
		}
	})

	t.Run("AssessErrorsKeepWorkerRunning", func(t *testing.T) {
		assessor := newRecordingAssessor()
		assessor.err = errors.New("db down")
		w := NewWorker(eventBus, assessor)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		for i := 0; i < 2; i++ {
			if err := Submit(ctx, eventBus, "req", candidate()); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
		}
		for i := 0; i < 2; i++ {
			select {
			case <-assessor.got:
			case <-time.After(time.Second):
				t.Fatalf("timeout waiting for assessment %d", i+1)
			}
		}
	})
}

func TestSubmitValidates(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	err := Submit(context.Background(), eventBus, "req", &domain.TransactionCandidate{CustomerID: "c", Type: "GIFT", Amount: 1})
	if !errors.Is(err, domain.ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestSubmittedMessageEncoding(t *testing.T) {
	data, err := json.Marshal(SubmittedMessage{RequestID: "req-9", Candidate: *candidate()})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	c, ok := raw["candidate"].(map[string]any)
	if !ok || raw["requestId"] != "req-9" || c["customerId"] != "cust-1" {
		t.Errorf("unexpected wire format %s", data)
	}
}
