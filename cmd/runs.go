package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/SilasPignotti/KitaMap-Berlin/internal/model"
	"github.com/SilasPignotti/KitaMap-Berlin/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect analysis run history",
	Long:  "Commands for listing and viewing coverage analysis runs and their district results.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		year, _ := cmd.Flags().GetInt("year")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status: model.RunStatus(status),
			Year:   year,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs coverage --

var runsCoverageCmd = &cobra.Command{
	Use:   "coverage <run-id>",
	Short: "Show the per-district coverage of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		coverage, err := st.GetDistrictCoverage(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs coverage")
		}
		if len(coverage) == 0 {
			fmt.Fprintln(os.Stderr, "No coverage stored for this run.")
			return nil
		}

		formatCoverage(os.Stdout, coverage)
		return nil
	},
}

func formatRunsList(w io.Writer, runs []model.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tYEAR\tSTATUS\tFACILITIES\tREGIONS\tCREATED")
	for _, r := range runs {
		facilities, regions := "-", "-"
		if r.Result != nil {
			facilities = fmt.Sprintf("%d", r.Result.Facilities)
			regions = fmt.Sprintf("%d", r.Result.Regions)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.ID, r.Year, r.Status, facilities, regions,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = tw.Flush()
}

func formatCoverage(w io.Writer, coverage []model.DistrictCoverage) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DISTRICT\tNAME\tCAPACITY\tCOVERED\tREACHABLE\tRATIO")
	for _, dc := range coverage {
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.1f%%\t%.0f\t%.2f\n",
			dc.DistrictID, dc.Name, dc.Capacity,
			dc.CoveredFraction*100, dc.ReachablePopulation, dc.CoverageRatio,
		)
	}
	_ = tw.Flush()
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status")
	runsListCmd.Flags().Int("year", 0, "filter by demand year")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsCoverageCmd)
	rootCmd.AddCommand(runsCmd)
}
