package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/seed"
)

var seedOpts = seed.DefaultOptions()

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a deterministic synthetic graph into the configured store",
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			return err
		}
		defer repo.Close()

		_, an, err := seed.Load(cmd.Context(), repo, seedOpts)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(an)
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedOpts.Taxpayers, "taxpayers", seedOpts.Taxpayers, "number of taxpayers")
	seedCmd.Flags().IntVar(&seedOpts.Invoices, "invoices", seedOpts.Invoices, "number of random invoices")
	seedCmd.Flags().Uint64Var(&seedOpts.Seed, "rand-seed", seedOpts.Seed, "random seed")
}
