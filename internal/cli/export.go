package cli

import (
	"github.com/spf13/cobra"

	"bullion-pipeline/internal/app"
)

var (
	exportDate      string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a day's cleaned prices as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Date:      exportDate,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		res, err := getApp().Export(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDate, "date", "", "Partition date YYYY-MM-DD (defaults to pipeline.process_date)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
