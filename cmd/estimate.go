package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate facility capacities without running the full analysis",
	Long:  "Loads the inputs, assigns districts and fills missing capacities via regression and district medians. Prints the calibration report; nothing is persisted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		facilities, report, err := env.Pipeline.Estimate(ctx)
		if err != nil {
			return eris.Wrap(err, "estimate")
		}

		zap.L().Info("estimation complete",
			zap.Int("facilities", len(facilities)),
			zap.Int("known", report.Known),
			zap.Int("by_regression", report.ByRegression),
			zap.Int("by_median", report.ByMedian),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
}
