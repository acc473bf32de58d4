package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateOpen  string
	simulateClose string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次日报涨跌并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		open, err := decimal.NewFromString(simulateOpen)
		if err != nil || !open.IsPositive() {
			return errors.New("--open 必须为大于 0 的数字")
		}
		closing, err := decimal.NewFromString(simulateClose)
		if err != nil || !closing.IsPositive() {
			return errors.New("--close 必须为大于 0 的数字")
		}

		report, fired, err := getApp().SimulateAlert(cmd.Context(), open, closing)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]any{"report": report, "alerted": fired})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpen, "open", "", "模拟开盘价 (per 10 g)")
	simulateCmd.Flags().StringVar(&simulateClose, "close", "", "模拟收盘价 (per 10 g)")
}
