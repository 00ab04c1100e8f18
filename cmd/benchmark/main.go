// Benchmark tool for timing Kestrel's pipelines on a synthetic graph.
//
// Usage:
//
//	go run cmd/benchmark/main.go -taxpayers 500 -invoices 20000 -runs 3
//
// This tool:
//  1. Generates a deterministic synthetic graph with injected anomalies
//  2. Loads it into a SQLite store
//  3. Times reconciliation and risk scoring over several runs
//  4. Reports status and tier distributions and whether the anomalies were caught
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/seed"
	"github.com/opensource-finance/kestrel/internal/service"
)

// Timings collects per-run durations.
type Timings struct {
	Load           time.Duration
	Reconciliation []time.Duration
	Risk           []time.Duration
}

func main() {
	taxpayers := flag.Int("taxpayers", 200, "Number of synthetic taxpayers")
	invoices := flag.Int("invoices", 5000, "Number of random invoices")
	randSeed := flag.Uint64("seed", 42, "Random seed")
	runs := flag.Int("runs", 3, "Timed runs per pipeline")
	workers := flag.Int("workers", 8, "Per-invoice and per-vendor parallelism")
	trees := flag.Int("trees", 50, "Random forest size")
	dbPath := flag.String("db", "", "SQLite path (default: temporary file)")
	verbose := flag.Bool("verbose", false, "Log engine output")
	flag.Parse()

	if *runs < 1 || *taxpayers < 10 || *invoices < 1 {
		fmt.Println("Usage: benchmark [-taxpayers N>=10] [-invoices N>=1] [-runs N>=1]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, nil)))

	path := *dbPath
	if path == "" {
		dir, err := os.MkdirTemp("", "kestrel-bench")
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "bench.db")
	}

	fmt.Println("KESTREL BENCHMARK - synthetic GST graph")
	fmt.Printf("\nTaxpayers:  %d\n", *taxpayers)
	fmt.Printf("Invoices:   %d\n", *invoices)
	fmt.Printf("Seed:       %d\n", *randSeed)
	fmt.Printf("Workers:    %d\n", *workers)
	fmt.Printf("Trees:      %d\n", *trees)
	fmt.Printf("Database:   %s\n", path)
	fmt.Println()

	ctx := context.Background()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path})
	if err != nil {
		fmt.Printf("ERROR: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	var t Timings
	start := time.Now()
	batch, an, err := seed.Load(ctx, repo, seed.Options{Taxpayers: *taxpayers, Invoices: *invoices, Seed: *randSeed})
	if err != nil {
		fmt.Printf("ERROR: failed to load graph: %v\n", err)
		os.Exit(1)
	}
	t.Load = time.Since(start)
	fmt.Printf("✓ Loaded %d invoices, %d observations, %d returns in %v\n",
		len(batch.Invoices), len(batch.Observations), len(batch.Returns), t.Load.Round(time.Millisecond))

	cfg := domain.DefaultConfig()
	cfg.Reconciliation.Workers = *workers
	cfg.Risk.Workers = *workers
	cfg.Risk.Trees = *trees

	svc, err := service.New(cfg, service.Deps{Graph: repo, History: repo})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	var recon *domain.ReconciliationRun
	var riskRun *domain.RiskRun
	for i := 0; i < *runs; i++ {
		s := time.Now()
		recon, err = svc.RunReconciliation(ctx)
		if err != nil {
			fmt.Printf("ERROR: reconciliation failed: %v\n", err)
			os.Exit(1)
		}
		t.Reconciliation = append(t.Reconciliation, time.Since(s))

		s = time.Now()
		riskRun, err = svc.ComputeRisk(ctx)
		if err != nil {
			fmt.Printf("ERROR: risk scoring failed: %v\n", err)
			os.Exit(1)
		}
		t.Risk = append(t.Risk, time.Since(s))
		fmt.Printf("  run %d: reconciliation %v, risk %v\n", i+1,
			t.Reconciliation[i].Round(time.Millisecond), t.Risk[i].Round(time.Millisecond))
	}

	printResults(recon, riskRun, an, t)
}

func printResults(recon *domain.ReconciliationRun, riskRun *domain.RiskRun, an *seed.Anomalies, t Timings) {
	fmt.Println("\nBENCHMARK RESULTS")

	s := recon.Summary
	fmt.Printf("\n📊 RECONCILIATION\n")
	fmt.Printf("   Invoices:         %d\n", s.TotalInvoices)
	fmt.Printf("   Match Rate:       %.2f%%\n", s.MatchRate)
	fmt.Printf("   Tax At Risk:      %.2f\n", s.TotalTaxAtRisk)
	fmt.Printf("   Credit Blocked:   %d\n", s.CreditIneligible)
	fmt.Printf("   Ring Members:     %d\n", s.FraudRingSize)

	statuses := make([]string, 0, len(s.StatusCounts))
	for st := range s.StatusCounts {
		statuses = append(statuses, string(st))
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Printf("     %-22s %d\n", st, s.StatusCounts[domain.MatchStatus(st)])
	}

	fmt.Printf("\n🎯 RISK TIERS\n")
	tiers := map[domain.RiskTier]int{}
	for _, v := range riskRun.Scores {
		tiers[v.RiskTier]++
	}
	for _, tier := range []domain.RiskTier{domain.TierCritical, domain.TierHigh, domain.TierMedium, domain.TierLow} {
		fmt.Printf("   %-9s %d\n", tier, tiers[tier])
	}
	fmt.Printf("   Model:    %s\n", riskRun.ModelVersion)

	fmt.Printf("\n🔍 INJECTED ANOMALIES\n")
	caught := 0
	for _, id := range an.Ring {
		if slices.Contains(recon.Cycles.Participants, id) {
			caught++
		}
	}
	fmt.Printf("   Ring detected:        %d / %d\n", caught, len(an.Ring))
	if v := riskRun.Vendor(an.CancelledSupplier); v != nil {
		fmt.Printf("   Cancelled supplier:   %s (%.1f)\n", v.RiskTier, v.CompositeScore)
	}
	if v := riskRun.Vendor(an.NonFilingSupplier); v != nil {
		fmt.Printf("   Non-filing supplier:  %s (%.1f)\n", v.RiskTier, v.CompositeScore)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Load:             %v\n", t.Load.Round(time.Millisecond))
	fmt.Printf("   Reconciliation:   %v avg\n", avg(t.Reconciliation).Round(time.Millisecond))
	fmt.Printf("   Risk:             %v avg\n", avg(t.Risk).Round(time.Millisecond))
	if d := avg(t.Reconciliation); d > 0 {
		fmt.Printf("   Throughput:       %.0f invoices/sec\n", float64(s.TotalInvoices)/d.Seconds())
	}
	fmt.Println()
}

func avg(ds []time.Duration) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range ds {
		sum += d
	}
	return sum / time.Duration(len(ds))
}
