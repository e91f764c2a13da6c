package repository

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func saveTx(t *testing.T, repo domain.Repository, tx *domain.Transaction) {
	t.Helper()
	err := repo.InTx(context.Background(), func(ctx context.Context, ltx domain.LedgerTx) error {
		return ltx.SaveTransaction(ctx, tx)
	})
	if err != nil {
		t.Fatalf("SaveTransaction(%s) failed: %v", tx.ID, err)
	}
}

func ptr(f float64) *float64 { return &f }

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:              "tx-001",
			CustomerID:      "cust-001",
			Type:            domain.TxTransfer,
			FromAccount:     "acc-001",
			ToAccount:       "acc-002",
			Amount:          1000.00,
			Currency:        "USD",
			Description:     "rent",
			ReceiverCountry: "DE",
			Status:          domain.StatusFlagged,
			RuleScore:       70,
			KeywordScore:    20,
			CombinedScore:   50,
			CreatedAt:       now,
		}
		saveTx(t, repo, tx)

		retrieved, err := repo.GetTransaction(ctx, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.CustomerID != tx.CustomerID {
			t.Errorf("expected CustomerID %s, got %s", tx.CustomerID, retrieved.CustomerID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.Status != domain.StatusFlagged {
			t.Errorf("expected status FLAGGED, got %s", retrieved.Status)
		}
		if retrieved.Executed {
			t.Error("expected Executed false")
		}
		if retrieved.ReviewedAt != nil {
			t.Error("expected nil ReviewedAt")
		}
	})

	t.Run("MarkReviewed", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.MarkReviewed(ctx, "tx-001", domain.StatusApproved, true, "officer-1", now)
		})
		if err != nil {
			t.Fatalf("MarkReviewed failed: %v", err)
		}

		retrieved, _ := repo.GetTransaction(ctx, "tx-001")
		if retrieved.Status != domain.StatusApproved || !retrieved.Executed {
			t.Errorf("expected APPROVED and executed, got %s executed=%v", retrieved.Status, retrieved.Executed)
		}
		if retrieved.ReviewedBy != "officer-1" || retrieved.ReviewedAt == nil {
			t.Errorf("expected reviewer recorded, got %q at %v", retrieved.ReviewedBy, retrieved.ReviewedAt)
		}

		err = repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.MarkReviewed(ctx, "missing", domain.StatusApproved, true, "officer-1", now)
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		err = repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.MarkReviewed(ctx, "tx-001", domain.StatusRejected, false, "officer-2", now)
		})
		if !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("reviewing an APPROVED transaction: expected ErrInvalidState, got %v", err)
		}
		retrieved, _ = repo.GetTransaction(ctx, "tx-001")
		if retrieved.Status != domain.StatusApproved || retrieved.ReviewedBy != "officer-1" {
			t.Errorf("failed review overwrote the row: %s by %q", retrieved.Status, retrieved.ReviewedBy)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetCountry(ctx, "ZZ"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetAccount(ctx, "nonexistent"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.SaveTransaction(ctx, &domain.Transaction{ID: "tx-x"})
		})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.CountTransactions(ctx, domain.HistoryQuery{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty customer, got %v", err)
		}
	})
}

func TestHistoryQueries(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fixtures := []*domain.Transaction{
		{ID: "h1", CustomerID: "c1", Type: domain.TxDeposit, ToAccount: "a1", Amount: 100, CreatedAt: now.Add(-30 * 24 * time.Hour)},
		{ID: "h2", CustomerID: "c1", Type: domain.TxDeposit, ToAccount: "a1", Amount: 9500, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "h3", CustomerID: "c1", Type: domain.TxWithdrawal, FromAccount: "a1", Amount: 9000, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "h4", CustomerID: "c1", Type: domain.TxTransfer, FromAccount: "a1", ToAccount: "b9", Amount: 10000, CreatedAt: now.Add(-30 * time.Minute)},
		{ID: "h5", CustomerID: "c2", Type: domain.TxDeposit, ToAccount: "a2", Amount: 5000, CreatedAt: now.Add(-10 * time.Minute)},
	}
	for _, tx := range fixtures {
		tx.Currency = "USD"
		tx.Status = domain.StatusApproved
		saveTx(t, repo, tx)
	}

	dayAgo := now.Add(-24 * time.Hour)

	tests := []struct {
		name      string
		query     domain.HistoryQuery
		wantCount int64
		wantSum   float64
	}{
		{"whole history", domain.HistoryQuery{CustomerID: "c1"}, 4, 28600},
		{"last day", domain.HistoryQuery{CustomerID: "c1", Since: dayAgo}, 3, 28500},
		{"type filter", domain.HistoryQuery{CustomerID: "c1", Types: []domain.TransactionType{domain.TxDeposit}}, 2, 9600},
		{"two types", domain.HistoryQuery{CustomerID: "c1", Since: dayAgo, Types: []domain.TransactionType{domain.TxDeposit, domain.TxWithdrawal}}, 2, 18500},
		{"band", domain.HistoryQuery{CustomerID: "c1", MinAmount: ptr(9000), BelowAmount: ptr(10000)}, 2, 18500},
		{"destination", domain.HistoryQuery{CustomerID: "c1", ToAccount: "b9"}, 1, 10000},
		{"other customer", domain.HistoryQuery{CustomerID: "c2"}, 1, 5000},
		{"unknown customer", domain.HistoryQuery{CustomerID: "nobody"}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := repo.CountTransactions(ctx, tt.query)
			if err != nil {
				t.Fatalf("CountTransactions failed: %v", err)
			}
			if count != tt.wantCount {
				t.Errorf("count = %d, want %d", count, tt.wantCount)
			}

			sum, err := repo.SumAmounts(ctx, tt.query)
			if err != nil {
				t.Fatalf("SumAmounts failed: %v", err)
			}
			if sum != tt.wantSum {
				t.Errorf("sum = %.2f, want %.2f", sum, tt.wantSum)
			}
		})
	}

	t.Run("ListOldestFirst", func(t *testing.T) {
		txs, err := repo.ListTransactions(ctx, domain.HistoryQuery{CustomerID: "c1"})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		var ids []string
		for _, tx := range txs {
			ids = append(ids, tx.ID)
		}
		if got := strings.Join(ids, ","); got != "h1,h2,h3,h4" {
			t.Errorf("order = %s, want h1,h2,h3,h4", got)
		}
	})
}

func TestRules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rules := []*domain.Rule{
		{
			ID: "r-late", Name: "Late", Priority: 20, Action: domain.ActionFlag, RiskWeight: 40, Active: true,
			Conditions: []domain.RuleCondition{
				{Type: domain.CondAmount, Operator: domain.OpGreater, Value: "10000", Active: true},
				{Type: domain.CondNLPScore, Operator: domain.OpGreaterEqual, Value: "50", Active: false},
			},
		},
		{
			ID: "r-early", Name: "Early", Priority: 10, Action: domain.ActionBlock, RiskWeight: 90, Active: true,
			Conditions: []domain.RuleCondition{
				{Type: domain.CondCountryRisk, Operator: domain.OpGreaterEqual, Value: "80", Active: true},
			},
		},
		{ID: "r-off", Name: "Off", Priority: 1, Action: domain.ActionFlag, RiskWeight: 10, Active: false},
	}
	for _, r := range rules {
		if err := repo.SaveRule(ctx, r); err != nil {
			t.Fatalf("SaveRule(%s) failed: %v", r.ID, err)
		}
	}

	t.Run("ListActiveRules", func(t *testing.T) {
		loaded, err := repo.ListActiveRules(ctx)
		if err != nil {
			t.Fatalf("ListActiveRules failed: %v", err)
		}
		if len(loaded) != 2 {
			t.Fatalf("expected 2 active rules, got %d", len(loaded))
		}
		if loaded[0].ID != "r-early" || loaded[1].ID != "r-late" {
			t.Errorf("expected priority order r-early, r-late; got %s, %s", loaded[0].ID, loaded[1].ID)
		}
		late := loaded[1]
		if len(late.Conditions) != 2 {
			t.Fatalf("expected 2 conditions, got %d", len(late.Conditions))
		}
		if late.Conditions[0].Type != domain.CondAmount || late.Conditions[1].Active {
			t.Errorf("conditions not restored in order: %+v", late.Conditions)
		}
		if late.Conditions[0].ID == "" {
			t.Error("expected generated condition ID")
		}
	})

	t.Run("UpsertReplacesConditions", func(t *testing.T) {
		update := *rules[0]
		update.Conditions = []domain.RuleCondition{
			{Type: domain.CondVelocity, Operator: domain.OpGreaterEqual, Value: "100000|3|24|DEPOSIT", Active: true},
		}
		if err := repo.SaveRule(ctx, &update); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}

		loaded, _ := repo.ListActiveRules(ctx)
		for _, r := range loaded {
			if r.ID == "r-late" && len(r.Conditions) != 1 {
				t.Errorf("expected 1 condition after upsert, got %d", len(r.Conditions))
			}
		}
	})
}

func TestReferenceData(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("KeywordsByDescendingScore", func(t *testing.T) {
		for _, kw := range []*domain.SuspiciousKeyword{
			{ID: "k1", Keyword: "gift", RiskScore: 30, Active: true},
			{ID: "k2", Keyword: "cash", RiskScore: 75, Active: true, WholeWord: true},
			{ID: "k3", Keyword: "old", RiskScore: 99, Active: false},
		} {
			if err := repo.SaveKeyword(ctx, kw); err != nil {
				t.Fatalf("SaveKeyword failed: %v", err)
			}
		}

		kws, err := repo.ListActiveKeywords(ctx)
		if err != nil {
			t.Fatalf("ListActiveKeywords failed: %v", err)
		}
		if len(kws) != 2 || kws[0].Keyword != "cash" || !kws[0].WholeWord {
			t.Errorf("unexpected keywords: %+v", kws)
		}
	})

	t.Run("CountryCodeUpperCased", func(t *testing.T) {
		if err := repo.SaveCountry(ctx, &domain.Country{Code: "ir", Name: "Iran", RiskScore: 95}); err != nil {
			t.Fatalf("SaveCountry failed: %v", err)
		}
		c, err := repo.GetCountry(ctx, "Ir")
		if err != nil {
			t.Fatalf("GetCountry failed: %v", err)
		}
		if c.Code != "IR" || c.RiskScore != 95 {
			t.Errorf("unexpected country: %+v", c)
		}
	})

	t.Run("AccountBalance", func(t *testing.T) {
		if err := repo.SaveAccount(ctx, &domain.Account{ID: "acc-1", CustomerID: "c1", Currency: "USD", Balance: ptr(100)}); err != nil {
			t.Fatalf("SaveAccount failed: %v", err)
		}
		if err := repo.SaveAccount(ctx, &domain.Account{ID: "ext-1", CustomerID: "c9", Currency: "USD"}); err != nil {
			t.Fatalf("SaveAccount failed: %v", err)
		}

		acct, err := repo.GetAccount(ctx, "ext-1")
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if acct.Balance != nil {
			t.Errorf("expected nil balance for untracked account, got %v", *acct.Balance)
		}
	})
}

func TestLedger(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.SaveAccount(ctx, &domain.Account{ID: "src", CustomerID: "c1", Currency: "USD", Balance: ptr(100)}); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}
	if err := repo.SaveAccount(ctx, &domain.Account{ID: "dst", CustomerID: "c2", Currency: "USD", Balance: ptr(0)}); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}

	balance := func(id string) float64 {
		acct, err := repo.GetAccount(ctx, id)
		if err != nil {
			t.Fatalf("GetAccount(%s) failed: %v", id, err)
		}
		return *acct.Balance
	}

	t.Run("CommitMovesMoney", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			if err := ltx.AdjustBalance(ctx, "src", -40); err != nil {
				return err
			}
			return ltx.AdjustBalance(ctx, "dst", 40)
		})
		if err != nil {
			t.Fatalf("InTx failed: %v", err)
		}
		if balance("src") != 60 || balance("dst") != 40 {
			t.Errorf("balances = %.2f/%.2f, want 60/40", balance("src"), balance("dst"))
		}
	})

	t.Run("InsufficientFundsRollsBack", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			if err := ltx.SaveTransaction(ctx, &domain.Transaction{
				ID: "tx-over", CustomerID: "c1", Type: domain.TxWithdrawal, FromAccount: "src",
				Amount: 500, Currency: "USD", Status: domain.StatusApproved, CreatedAt: now,
			}); err != nil {
				return err
			}
			return ltx.AdjustBalance(ctx, "src", -500)
		})
		if !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Fatalf("expected ErrInsufficientFunds, got %v", err)
		}
		if balance("src") != 60 {
			t.Errorf("balance changed after rollback: %.2f", balance("src"))
		}
		if _, err := repo.GetTransaction(ctx, "tx-over"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected transaction rolled back, got %v", err)
		}
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.AdjustBalance(ctx, "ghost", 10)
		})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("AlertsResolve", func(t *testing.T) {
		err := repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			return ltx.SaveAlert(ctx, &domain.Alert{
				ID: "al-1", TxID: "tx-a", CustomerID: "c1", Reason: "score 72",
				RiskScore: 72, Status: domain.AlertOpen, CreatedAt: now,
			})
		})
		if err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		open, err := repo.ListAlerts(ctx, domain.AlertOpen)
		if err != nil || len(open) != 1 {
			t.Fatalf("expected 1 open alert, got %d (%v)", len(open), err)
		}

		var resolved int64
		err = repo.InTx(ctx, func(ctx context.Context, ltx domain.LedgerTx) error {
			var err error
			resolved, err = ltx.ResolveAlerts(ctx, "tx-a", "officer-2", now)
			return err
		})
		if err != nil || resolved != 1 {
			t.Fatalf("ResolveAlerts = %d, %v; want 1", resolved, err)
		}

		all, _ := repo.ListAlerts(ctx, "")
		if len(all) != 1 || all[0].Status != domain.AlertResolved || all[0].ResolvedBy != "officer-2" || all[0].ResolvedAt == nil {
			t.Errorf("unexpected alert after resolve: %+v", all[0])
		}
	})
}

func TestExecutionLogs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, id := range []string{"log-1", "log-2"} {
		err := repo.SaveExecutionLog(ctx, &domain.RuleExecutionLog{
			ID: id, RuleID: "r1", RuleName: "Rule", TxID: "tx-1", CustomerID: "c1",
			Matched: true, Detail: "matched", CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("SaveExecutionLog failed: %v", err)
		}
	}

	logs, err := repo.ListExecutionLogs(ctx, "tx-1")
	if err != nil {
		t.Fatalf("ListExecutionLogs failed: %v", err)
	}
	if len(logs) != 2 || logs[0].ID != "log-1" || !logs[0].Matched {
		t.Errorf("unexpected logs: %+v", logs)
	}

	none, _ := repo.ListExecutionLogs(ctx, "tx-other")
	if len(none) != 0 {
		t.Errorf("expected no logs, got %d", len(none))
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	conn := &sqlConn{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := conn.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &sqlConn{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "kestrel", PostgresPassword: "pw"})
	want := "host=localhost port=5432 dbname=kestrel sslmode=disable user=kestrel password=pw"
	if dsn != want {
		t.Errorf("postgresDSN = %q, want %q", dsn, want)
	}
}
