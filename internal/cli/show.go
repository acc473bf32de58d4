package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"bullion-pipeline/internal/app"
)

var (
	showFrom  string
	showTo    string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display stored daily reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit < 0 {
			return fmt.Errorf("--limit cannot be negative")
		}

		opts := app.ShowOptions{
			From:  showFrom,
			To:    showTo,
			Limit: showLimit,
		}

		a := getApp()
		a.Out = cmd.OutOrStdout()
		return a.Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showFrom, "from", "", "First date YYYY-MM-DD (defaults to a week before --to)")
	showCmd.Flags().StringVar(&showTo, "to", "", "Last date YYYY-MM-DD (defaults to today, UTC)")
	showCmd.Flags().IntVar(&showLimit, "limit", 0, "Maximum number of reports to display (0 = all)")
}
