package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var withRisk bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation (and optionally risk scoring) and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		run, err := st.svc.RunReconciliation(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{
			"runId":   run.ID,
			"summary": run.Summary,
			"cycles":  run.Cycles,
		}

		if withRisk {
			riskRun, err := st.svc.ComputeRisk(ctx)
			if err != nil {
				return err
			}
			top := riskRun.Scores[:min(10, len(riskRun.Scores))]
			out["riskRunId"] = riskRun.ID
			out["modelVersion"] = riskRun.ModelVersion
			out["topVendors"] = top
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&withRisk, "risk", false, "also score vendors")
}
