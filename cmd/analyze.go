package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var analyzeYear int

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full coverage analysis",
	Long:  "Loads facilities, districts, known capacities and demand, estimates missing capacities, builds catchments, resolves overlaps and writes per-district coverage.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if analyzeYear != 0 {
			cfg.Input.DemandYear = analyzeYear
		}

		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "analyze")
		}

		zap.L().Info("analysis complete",
			zap.String("run_id", result.RunID),
			zap.Int("facilities", result.Facilities),
			zap.Int("regions", result.Regions),
			zap.Int("requests_used", result.RequestsUsed),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzeYear, "year", 0, "demand year (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}
