package cli

import (
	"github.com/spf13/cobra"
)

var stageDate string

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Fetch the current quote pair and write one raw snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Validate a day's raw snapshots into the cleaned partition",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Normalize(cmd.Context(), stageDate)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate a day's cleaned records into daily_summary.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Report(cmd.Context(), stageDate)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run normalize then report for one day",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Batch(cmd.Context(), stageDate)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{normalizeCmd, reportCmd, batchCmd} {
		cmd.Flags().StringVar(&stageDate, "date", "", "Partition date YYYY-MM-DD (defaults to pipeline.process_date)")
	}
}
