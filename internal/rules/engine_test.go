package rules

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/refdata"
	"github.com/opensource-finance/kestrel/internal/repository"
)

func setupRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-rules-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func setupEngine(t *testing.T, repo domain.Repository) *Engine {
	t.Helper()

	registry, err := evaluator.NewRegistry(evaluator.Deps{
		History:   history.NewAccessor(repo),
		Accounts:  refdata.NewService(repo, nil, domain.RefDataConfig{}),
		Countries: refdata.NewService(repo, nil, domain.RefDataConfig{}),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	engine, err := NewEngine(registry, repo)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func amountRule(id string, priority int, action domain.Action, weight int, threshold string) *domain.Rule {
	return &domain.Rule{
		ID:         id,
		Name:       "Rule " + id,
		Priority:   priority,
		Action:     action,
		RiskWeight: weight,
		Active:     true,
		Conditions: []domain.RuleCondition{
			{ID: id + "-c1", Type: domain.CondAmount, Operator: domain.OpGreater, Value: threshold, Active: true},
		},
	}
}

func input(amount float64) *domain.TransactionInput {
	return &domain.TransactionInput{
		TxID:       "tx-1",
		CustomerID: "cust-1",
		Type:       domain.TxDeposit,
		ToAccount:  "acc-1",
		Amount:     amount,
		Currency:   "USD",
	}
}

func TestEngineCreation(t *testing.T) {
	if _, err := NewEngine(nil, nil); err == nil {
		t.Error("expected error without registry")
	}

	engine := setupEngine(t, setupRepo(t))
	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}

	result, err := engine.Evaluate(context.Background(), input(100))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Score != 0 || len(result.MatchedRules) != 0 || result.Blocked {
		t.Errorf("empty engine should produce a zero result, got %+v", result)
	}
}

func TestValidateRule(t *testing.T) {
	engine := setupEngine(t, setupRepo(t))

	tests := []struct {
		name    string
		mutate  func(r *domain.Rule)
		wantErr bool
	}{
		{"valid", func(r *domain.Rule) {}, false},
		{"bad action", func(r *domain.Rule) { r.Action = "ALERT" }, true},
		{"weight above 100", func(r *domain.Rule) { r.RiskWeight = 101 }, true},
		{"no active conditions", func(r *domain.Rule) { r.Conditions[0].Active = false }, true},
		{"malformed value", func(r *domain.Rule) { r.Conditions[0].Value = "lots" }, true},
		{"unknown kind", func(r *domain.Rule) { r.Conditions[0].Type = "LUNAR_PHASE" }, true},
		{"inactive malformed condition is ignored", func(r *domain.Rule) {
			r.Conditions = append(r.Conditions, domain.RuleCondition{ID: "x", Type: domain.CondVelocity, Operator: ">", Value: "?"})
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := amountRule("r1", 1, domain.ActionFlag, 50, "100")
			tt.mutate(rule)

			err := engine.ValidateRule(rule)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRule error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidRule) {
				t.Errorf("expected ErrInvalidRule, got %v", err)
			}
		})
	}

	if engine.RulesCount() != 0 {
		t.Error("ValidateRule must not load rules")
	}
}

func TestLoadRules(t *testing.T) {
	engine := setupEngine(t, setupRepo(t))

	empty := amountRule("empty", 1, domain.ActionFlag, 50, "1")
	empty.Conditions[0].Active = false
	inactive := amountRule("inactive", 1, domain.ActionFlag, 50, "1")
	inactive.Active = false
	broken := amountRule("broken", 2, domain.ActionBlock, 100, "not-a-number")

	n := engine.ReloadRules([]*domain.Rule{
		amountRule("b", 5, domain.ActionFlag, 10, "1"),
		amountRule("a", 5, domain.ActionFlag, 10, "1"),
		empty,
		inactive,
		broken,
	})
	if n != 3 {
		t.Fatalf("expected 3 rules loaded, got %d", n)
	}

	loaded := engine.GetLoadedRules()
	want := []string{"broken", "a", "b"}
	for i, id := range want {
		if loaded[i].ID != id {
			t.Errorf("rule %d = %s, want %s", i, loaded[i].ID, id)
		}
	}

	t.Run("BrokenConditionNeverMatches", func(t *testing.T) {
		result, err := engine.Evaluate(context.Background(), input(500))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Blocked {
			t.Error("broken BLOCK rule must not match")
		}
		if len(result.MatchedRules) != 2 {
			t.Errorf("expected 2 matches, got %v", result.MatchedRules)
		}
	})

	t.Run("LoadRulesMerges", func(t *testing.T) {
		engine.LoadRules([]*domain.Rule{amountRule("a", 0, domain.ActionFlag, 20, "1"), amountRule("c", 9, domain.ActionFlag, 10, "1")})
		loaded := engine.GetLoadedRules()
		if len(loaded) != 4 {
			t.Fatalf("expected 4 rules, got %d", len(loaded))
		}
		if loaded[0].ID != "a" || loaded[0].RiskWeight != 20 {
			t.Errorf("rule a should be replaced and run first, got %+v", loaded[0])
		}
	})

	t.Run("SnapshotIsACopy", func(t *testing.T) {
		rule := amountRule("copy", 1, domain.ActionFlag, 10, "1")
		engine.ReloadRules([]*domain.Rule{rule})
		rule.Name = "changed"
		rule.Conditions[0].Value = "999999"
		if got := engine.GetLoadedRules()[0]; got.Name != "Rule copy" || got.Conditions[0].Value != "1" {
			t.Errorf("loaded rule changed with its source: %+v", got)
		}
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("PriorityOrderAndNoisyOR", func(t *testing.T) {
		engine := setupEngine(t, setupRepo(t))
		engine.ReloadRules([]*domain.Rule{
			amountRule("late", 20, domain.ActionFlag, 50, "100"),
			amountRule("early", 10, domain.ActionFlag, 50, "100"),
			amountRule("miss", 15, domain.ActionFlag, 90, "100000"),
		})

		result, err := engine.Evaluate(ctx, input(500))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Score != 75 {
			t.Errorf("noisy-OR of 50 and 50 = %d, want 75", result.Score)
		}
		if result.RulesEvaluated != 3 {
			t.Errorf("expected 3 rules evaluated, got %d", result.RulesEvaluated)
		}
		if len(result.Logs) != 2 || result.Logs[0].RuleID != "early" || result.Logs[1].RuleID != "late" {
			t.Errorf("logs not in priority order: %+v", result.Logs)
		}
		if !result.Logs[0].Matched || result.Logs[0].Detail == "" {
			t.Errorf("log should record the match: %+v", result.Logs[0])
		}
	})

	t.Run("BlockStopsEvaluation", func(t *testing.T) {
		engine := setupEngine(t, setupRepo(t))
		engine.ReloadRules([]*domain.Rule{
			amountRule("flag", 1, domain.ActionFlag, 40, "100"),
			amountRule("block", 2, domain.ActionBlock, 95, "100"),
			amountRule("after", 3, domain.ActionFlag, 80, "100"),
		})

		result, err := engine.Evaluate(ctx, input(500))
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if !result.Blocked {
			t.Fatal("expected blocked result")
		}
		if result.RulesEvaluated != 2 {
			t.Errorf("rules after BLOCK must not run, evaluated %d", result.RulesEvaluated)
		}
		if len(result.MatchedRules) != 2 ||
			result.MatchedRules[0].Action != domain.ActionFlag ||
			result.MatchedRules[1].Action != domain.ActionBlock {
			t.Errorf("expected FLAG then BLOCK, got %+v", result.MatchedRules)
		}
		// 1 - 0.6*0.05 = 0.97
		if result.Score != 97 {
			t.Errorf("score = %d, want 97", result.Score)
		}
		if len(result.Logs) != 2 {
			t.Fatalf("expected 2 execution logs, got %d", len(result.Logs))
		}
		for _, log := range result.Logs {
			if log.RuleID == "after" {
				t.Errorf("rule after BLOCK must not be logged: %+v", log)
			}
		}
	})

	t.Run("AllConditionsMustMatch", func(t *testing.T) {
		engine := setupEngine(t, setupRepo(t))
		rule := amountRule("and", 1, domain.ActionFlag, 60, "100")
		rule.Conditions = append(rule.Conditions,
			domain.RuleCondition{ID: "kw", Type: domain.CondKeywordMatch, Operator: domain.OpGreater, Value: "crypto", Active: true},
		)
		engine.ReloadRules([]*domain.Rule{rule})

		in := input(500)
		result, err := engine.Evaluate(ctx, in)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if len(result.MatchedRules) != 0 {
			t.Error("rule should fail on the keyword condition")
		}

		in.Description = "buy crypto"
		result, err = engine.Evaluate(ctx, in)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Score != 60 {
			t.Errorf("score = %d, want 60", result.Score)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		engine := setupEngine(t, setupRepo(t))
		_, err := engine.Evaluate(ctx, &domain.TransactionInput{Type: domain.TxDeposit, Amount: 1})
		if !errors.Is(err, domain.ErrInvalidTransaction) {
			t.Errorf("expected ErrInvalidTransaction, got %v", err)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		engine := setupEngine(t, setupRepo(t))
		engine.ReloadRules([]*domain.Rule{amountRule("r", 1, domain.ActionFlag, 10, "1")})

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := engine.Evaluate(cctx, input(5)); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestExecutionLogsPersisted(t *testing.T) {
	repo := setupRepo(t)
	engine := setupEngine(t, repo)
	ctx := context.Background()

	engine.ReloadRules([]*domain.Rule{
		amountRule("big", 1, domain.ActionFlag, 70, "1000"),
		amountRule("huge", 2, domain.ActionFlag, 70, "1000000"),
	})

	result, err := engine.Evaluate(ctx, input(5000))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	logs, err := repo.ListExecutionLogs(ctx, "tx-1")
	if err != nil {
		t.Fatalf("ListExecutionLogs failed: %v", err)
	}
	if len(logs) != 0 {
		t.Fatalf("Evaluate must not persist logs, found %d", len(logs))
	}

	engine.SaveLogs(ctx, result)

	logs, err = repo.ListExecutionLogs(ctx, "tx-1")
	if err != nil {
		t.Fatalf("ListExecutionLogs failed: %v", err)
	}
	if len(logs) != 1 || logs[0].RuleID != "big" || logs[0].CustomerID != "cust-1" {
		t.Errorf("expected one persisted log for rule big, got %+v", logs)
	}
}

type failingLogStore struct{}

func (failingLogStore) SaveExecutionLog(ctx context.Context, log *domain.RuleExecutionLog) error {
	return errors.New("disk full")
}

// brokenHistory fails every query.
type brokenHistory struct{}

func (brokenHistory) Count(ctx context.Context, customerID string, window time.Duration, f history.Filter) (int64, error) {
	return 0, errors.New("db down")
}

func (brokenHistory) Sum(ctx context.Context, customerID string, window time.Duration, f history.Filter) (float64, error) {
	return 0, errors.New("db down")
}

func (brokenHistory) AmountPercentile(ctx context.Context, customerID string, window time.Duration, pct float64) (float64, int, error) {
	return 0, 0, errors.New("db down")
}

func (brokenHistory) Chronological(ctx context.Context, customerID string, window time.Duration) ([]*domain.Transaction, error) {
	return nil, errors.New("db down")
}

func TestEvaluateDegradesFailures(t *testing.T) {
	repo := setupRepo(t)
	registry, err := evaluator.NewRegistry(evaluator.Deps{
		History:   brokenHistory{},
		Accounts:  refdata.NewService(repo, nil, domain.RefDataConfig{}),
		Countries: refdata.NewService(repo, nil, domain.RefDataConfig{}),
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	engine, err := NewEngine(registry, failingLogStore{})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	velocity := &domain.Rule{
		ID: "velocity", Name: "Velocity", Priority: 1, Action: domain.ActionBlock, RiskWeight: 90, Active: true,
		Conditions: []domain.RuleCondition{
			{ID: "v", Type: domain.CondVelocity, Operator: domain.OpGreaterEqual, Value: "1|1|24", Active: true},
		},
	}
	engine.ReloadRules([]*domain.Rule{velocity, amountRule("amount", 2, domain.ActionFlag, 30, "10")})

	result, err := engine.Evaluate(context.Background(), input(50))
	if err != nil {
		t.Fatalf("data errors must not fail the evaluation: %v", err)
	}
	if result.Blocked {
		t.Error("failed condition must count as not matched")
	}
	if result.Score != 30 || len(result.Logs) != 1 {
		t.Errorf("expected amount rule to match, got %+v", result)
	}

	// Log store failures are swallowed.
	engine.SaveLogs(context.Background(), result)
}

func TestRefreshFromStore(t *testing.T) {
	repo := setupRepo(t)
	engine := setupEngine(t, repo)
	ctx := context.Background()

	for _, r := range []*domain.Rule{
		amountRule("r1", 1, domain.ActionFlag, 50, "100"),
		amountRule("r2", 2, domain.ActionBlock, 95, "1000000"),
	} {
		if err := repo.SaveRule(ctx, r); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}

	n, err := engine.Refresh(ctx, repo)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if n != 2 || engine.RulesCount() != 2 {
		t.Errorf("expected 2 rules, got %d/%d", n, engine.RulesCount())
	}
}

func TestConcurrentEvaluateAndReload(t *testing.T) {
	engine := setupEngine(t, setupRepo(t))
	engine.ReloadRules([]*domain.Rule{amountRule("r", 1, domain.ActionFlag, 50, "1")})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			result, err := engine.Evaluate(ctx, input(10))
			if err != nil {
				t.Errorf("Evaluate failed: %v", err)
				return
			}
			if result.Score != 50 {
				t.Errorf("score = %d, want 50", result.Score)
			}
		}()
		go func() {
			defer wg.Done()
			engine.ReloadRules([]*domain.Rule{amountRule("r", 1, domain.ActionFlag, 50, "1")})
		}()
	}
	wg.Wait()
}

func TestDefaultRules(t *testing.T) {
	engine := setupEngine(t, setupRepo(t))

	seen := make(map[string]bool)
	for _, rule := range DefaultRules() {
		if seen[rule.ID] {
			t.Errorf("duplicate rule id %s", rule.ID)
		}
		seen[rule.ID] = true

		if err := engine.ValidateRule(rule); err != nil {
			t.Errorf("default rule %s is invalid: %v", rule.ID, err)
		}
	}

	if n := engine.ReloadRules(DefaultRules()); n != len(seen) {
		t.Errorf("expected %d default rules loaded, got %d", len(seen), n)
	}
}
