// Kestrel - GST invoice reconciliation and vendor risk scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/config"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	cfgFile string
	cfg     *domain.Config
)

var rootCmd = &cobra.Command{
	Use:   "kestrel",
	Short: "GST invoice reconciliation and vendor risk scoring",
	Long:  "Reconciles invoices across seller returns, buyer statements and purchase ledgers, checks input-credit eligibility and scores vendor risk.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		logger := config.NewLogger(cfg.Logging, os.Stdout)
		slog.SetDefault(logger)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (default ./kestrel.yaml if present)")
	rootCmd.AddCommand(serveCmd, seedCmd, reconcileCmd)

	// Bare "kestrel" serves.
	rootCmd.RunE = serveCmd.RunE
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
