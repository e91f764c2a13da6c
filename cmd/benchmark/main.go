// Benchmark tool for replaying PaySim fraud data through the Kestrel
// decision pipeline.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/paysim.csv -limit 50000
//
// This tool:
//  1. Reads PaySim transactions (with fraud labels)
//  2. Seeds a scratch SQLite database with the accounts and opening balances
//  3. Assesses every transaction in process with the built-in rule set
//  4. Compares the decision (APPROVED vs FLAGGED/BLOCKED) with the labels
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evaluator"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/keyword"
	"github.com/opensource-finance/kestrel/internal/refdata"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         float64
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	OldBalanceDest float64
	IsFraud        bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud held for review
	FalsePositives int64 // Non-fraud held for review
	TrueNegatives  int64 // Non-fraud approved
	FalseNegatives int64 // Fraud approved (missed fraud!)

	Blocked int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	dbPath := flag.String("db", "", "SQLite file for the replay (default: temp file)")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only replay fraud transactions")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-limit 10000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Rule and repository warnings would drown the report.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))

	if *dbPath == "" {
		dir, err := os.MkdirTemp("", "kestrel-benchmark-*")
		if err != nil {
			fmt.Printf("ERROR: failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		*dbPath = filepath.Join(dir, "replay.db")
	}

	fmt.Println("KESTREL BENCHMARK - PaySim replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Database:    %s\n", *dbPath)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Println()

	transactions, err := readPaySimCSV(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	if len(transactions) == 0 {
		fmt.Println("no transactions to replay")
		return
	}
	fmt.Printf("Loaded %d transactions\n", len(transactions))

	ctx := context.Background()
	repo, processor, err := setupPipeline(ctx, *dbPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := seedAccounts(ctx, repo, transactions); err != nil {
		fmt.Printf("ERROR: failed to seed accounts: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nReplaying with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(ctx, processor, transactions, *workers, *verbose)
	printResults(metrics, time.Since(startTime))
}

// setupPipeline wires the same components as the server over dbPath.
func setupPipeline(ctx context.Context, dbPath string) (domain.Repository, *decision.Processor, error) {
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open repository: %w", err)
	}

	for _, rule := range rules.DefaultRules() {
		if err := repo.SaveRule(ctx, rule); err != nil {
			repo.Close()
			return nil, nil, fmt.Errorf("failed to save rule %s: %w", rule.ID, err)
		}
	}

	refs := refdata.NewService(repo, nil, domain.RefDataConfig{})
	registry, err := evaluator.NewRegistry(evaluator.Deps{
		History:   history.NewAccessor(repo),
		Accounts:  refs,
		Countries: refs,
	})
	if err != nil {
		repo.Close()
		return nil, nil, err
	}

	engine, err := rules.NewEngine(registry, repo)
	if err != nil {
		repo.Close()
		return nil, nil, err
	}
	if _, err := engine.Refresh(ctx, repo); err != nil {
		repo.Close()
		return nil, nil, err
	}

	processor := decision.NewProcessor(repo, engine, keyword.NewScorer(refs), nil, domain.DefaultRiskConfig())
	return repo, processor, nil
}

// seedAccounts creates every account with its first observed opening balance.
func seedAccounts(ctx context.Context, repo domain.Repository, transactions []PaySimTransaction) error {
	seen := make(map[string]bool)
	save := func(id string, balance float64) error {
		if seen[id] {
			return nil
		}
		seen[id] = true
		return repo.SaveAccount(ctx, &domain.Account{ID: id, CustomerID: id, Currency: "USD", Balance: &balance})
	}

	for _, tx := range transactions {
		if err := save(tx.NameOrig, tx.OldBalanceOrg); err != nil {
			return err
		}
		if err := save(tx.NameDest, tx.OldBalanceDest); err != nil {
			return err
		}
	}
	fmt.Printf("Seeded %d accounts\n", len(seen))
	return nil
}

func readPaySimCSV(path string, limit int, fraudOnly bool) ([]PaySimTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "type", "amount", "nameorig", "oldbalanceorg", "newbalanceorig", "namedest", "oldbalancedest", "isfraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var transactions []PaySimTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isFraud := record[colIndex["isfraud"]] == "1"
		if fraudOnly && !isFraud {
			continue
		}

		step, _ := strconv.Atoi(record[colIndex["step"]])
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		oldBalanceOrg, _ := strconv.ParseFloat(record[colIndex["oldbalanceorg"]], 64)
		newBalanceOrig, _ := strconv.ParseFloat(record[colIndex["newbalanceorig"]], 64)
		oldBalanceDest, _ := strconv.ParseFloat(record[colIndex["oldbalancedest"]], 64)

		transactions = append(transactions, PaySimTransaction{
			Step:           step,
			Type:           record[colIndex["type"]],
			Amount:         amount,
			NameOrig:       record[colIndex["nameorig"]],
			OldBalanceOrg:  oldBalanceOrg,
			NewBalanceOrig: newBalanceOrig,
			NameDest:       record[colIndex["namedest"]],
			OldBalanceDest: oldBalanceDest,
			IsFraud:        isFraud,
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// candidate maps a PaySim row to a transaction candidate. CASH_IN credits
// the originator; CASH_OUT and DEBIT withdraw; PAYMENT and TRANSFER move
// money between the two accounts.
func candidate(tx PaySimTransaction) *domain.TransactionCandidate {
	c := &domain.TransactionCandidate{
		CustomerID: tx.NameOrig,
		Amount:     tx.Amount,
		Currency:   "USD",
	}

	switch tx.Type {
	case "CASH_IN":
		c.Type = domain.TxDeposit
		c.ToAccount = tx.NameOrig
	case "CASH_OUT", "DEBIT":
		c.Type = domain.TxWithdrawal
		c.FromAccount = tx.NameOrig
	default:
		c.Type = domain.TxTransfer
		c.FromAccount = tx.NameOrig
		c.ToAccount = tx.NameDest
	}
	return c
}

func runBenchmark(ctx context.Context, processor *decision.Processor, transactions []PaySimTransaction, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan PaySimTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for tx := range work {
				start := time.Now()
				d, err := processor.Assess(ctx, candidate(tx))
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose && !errors.Is(err, domain.ErrInsufficientFunds) {
						fmt.Printf("ERROR: %s -> %v\n", tx.NameOrig, err)
					}
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}
				if d.Status == domain.StatusBlocked {
					atomic.AddInt64(&metrics.Blocked, 1)
				}

				predicted := d.Status != domain.StatusApproved
				actual := tx.IsFraud

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok"
					if predicted != actual {
						mark = "!!"
					}
					fmt.Printf("%s %-12s | %-8s | $%12.2f | fraud=%-5v | %-8s (%3d) | rules=%d\n",
						mark,
						tx.NameOrig,
						tx.Type,
						tx.Amount,
						tx.IsFraud,
						d.Status,
						d.CombinedScore,
						len(d.MatchedRules),
					)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Blocked:          %d\n", m.Blocked)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HELD     APPROVED")
	fmt.Printf("   Actual  F    %8d   %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF    %8d   %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of held transactions, how many were fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how much was held)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
