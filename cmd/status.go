package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/isochrone"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache fill and routing budget configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		cache, err := isochrone.OpenCache(cfg.Cache.Path)
		if err != nil {
			return eris.Wrap(err, "open isochrone cache")
		}
		defer cache.Close() //nolint:errcheck

		cached, err := cache.Count(ctx, float64(cfg.Routing.RadiusMeters))
		if err != nil {
			return eris.Wrap(err, "count cached isochrones")
		}

		fmt.Fprintf(os.Stdout, "isochrone cache:   %s\n", cfg.Cache.Path)
		fmt.Fprintf(os.Stdout, "cached catchments: %d (radius %dm)\n", cached, cfg.Routing.RadiusMeters)
		fmt.Fprintf(os.Stdout, "session budget:    %d requests, %d/min\n", cfg.Routing.SessionCap, cfg.Routing.PerMinuteCap)
		if cfg.Routing.APIKey == "" {
			fmt.Fprintln(os.Stdout, "routing API key:   not configured (cache-only mode)")
		} else {
			fmt.Fprintln(os.Stdout, "routing API key:   configured")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
