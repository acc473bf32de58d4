package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bullion-pipeline/internal/app"
)

var (
	backfillFrom    string
	backfillTo      string
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rerun normalize and report over a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		opts := app.BackfillOptions{
			From:    backfillFrom,
			To:      backfillTo,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}

		res, err := getApp().Backfill(cmd.Context(), opts)
		if perr := printJSON(cmd, res); perr != nil && err == nil {
			err = perr
		}
		return err
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "First date YYYY-MM-DD (inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "Last date YYYY-MM-DD (inclusive)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Only count raw records per date; write nothing")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of dates processed concurrently")
}
