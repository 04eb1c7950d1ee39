package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spachava753/simeval/internal/aggregate"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/store"
)

var (
	reportStore  string
	reportPath   string
	reportRun    string
	reportFormat string
)

// reportCmd rebuilds a run's report from its stored outcomes
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Rebuild a run report from stored outcomes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if reportPath == "" {
			return fmt.Errorf("--path is required")
		}
		if reportRun == "" {
			return fmt.Errorf("--run is required")
		}

		st, err := store.New(models.StoreConfig{Type: reportStore, Path: reportPath}, reportPath)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := st.Init(ctx); err != nil {
			return err
		}
		defer st.Close()

		if _, ok, err := st.GetRun(ctx, reportRun); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("run %s not found in %s", reportRun, reportPath)
		}

		outcomes, err := st.ListOutcomes(ctx, reportRun)
		if err != nil {
			return err
		}
		report := aggregate.FromOutcomes(reportRun, outcomes)

		out := cmd.OutOrStdout()
		switch reportFormat {
		case "table":
			return aggregate.WriteTable(out, report)
		case "json":
			return aggregate.WriteJSON(out, report)
		case "csv":
			return aggregate.WriteCSV(out, report)
		default:
			return fmt.Errorf("unknown format %q; valid: table, json, csv", reportFormat)
		}
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportStore, "store", "sqlite", "Store backend")
	reportCmd.Flags().StringVar(&reportPath, "path", "", "Path to the outcome database")
	reportCmd.Flags().StringVar(&reportRun, "run", "", "Run ID")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "Output format (table, json, csv)")
	rootCmd.AddCommand(reportCmd)
}
