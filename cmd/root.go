package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "kitamap",
	Short: "Berlin daycare coverage analysis pipeline",
	Long:  "Estimates daycare capacities, builds walking-distance catchments via OpenRouteService, resolves overlaps into disjoint regions and aggregates capacity coverage per district.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
