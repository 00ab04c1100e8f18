package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/seed"
	"github.com/opensource-finance/kestrel/internal/worker"
)

var serveSeed bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the recompute worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveSeed, "seed", false, "load the synthetic graph before serving")
}

func serve(parent context.Context, cfg *domain.Config) error {
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"tier", cfg.Tier,
	)

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStack(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if serveSeed {
		batch, _, err := seed.Load(ctx, st.repo, seed.DefaultOptions())
		if err != nil {
			return err
		}
		slog.Info("synthetic graph loaded",
			"taxpayers", len(batch.Taxpayers),
			"invoices", len(batch.Invoices),
		)
	}

	w := worker.NewWorker(st.bus, st.svc, st.metrics, slog.Default())
	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start recompute worker: %w", err)
	}

	srv := api.NewServer(cfg.Server, st.svc, st.metrics, Version)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready", "addr", srv.Addr())
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		slog.Error("server failed", "error", err)
		w.Stop()
		return err
	}

	// Stop the worker first so no recompute starts mid-shutdown.
	if err := w.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  KESTREL  GST reconciliation and vendor risk")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "  Version:  %s\n", version)
	fmt.Fprintf(os.Stderr, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(os.Stderr, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  Endpoints:")
	fmt.Fprintln(os.Stderr, "    POST /reconciliation/run              - Reconcile the graph")
	fmt.Fprintln(os.Stderr, "    GET  /reconciliation/summary          - Latest summary")
	fmt.Fprintln(os.Stderr, "    GET  /reconciliation/results          - Per-invoice results")
	fmt.Fprintln(os.Stderr, "    GET  /reconciliation/circular-trading - Invoicing rings")
	fmt.Fprintln(os.Stderr, "    GET  /invoices/{id}/eligibility       - Input-credit eligibility")
	fmt.Fprintln(os.Stderr, "    POST /risk/compute                    - Score all vendors")
	fmt.Fprintln(os.Stderr, "    GET  /risk/scores                     - Vendor scores")
	fmt.Fprintln(os.Stderr, "    GET  /risk/vendors/{id}               - One vendor's score")
	fmt.Fprintln(os.Stderr, "    POST /recompute                       - Async recompute")
	fmt.Fprintln(os.Stderr, "    GET  /dashboard/overview              - Dashboard roll-up")
	fmt.Fprintln(os.Stderr, "    GET  /metrics                         - Prometheus metrics")
	fmt.Fprintln(os.Stderr)
}
