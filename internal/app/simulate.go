package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/alerting"
	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
)

const simulatedNote = "Simulated alert (simulate-alert), not market data\n"

// SimulateAlert 通过给定的开盘/收盘价格模拟一次日报告警流程，不读写存储。
func (a *App) SimulateAlert(ctx context.Context, open, closing decimal.Decimal) (pipeline.DailyReport, bool, error) {
	if !a.Config.Alerting.Enabled {
		return pipeline.DailyReport{}, false, errors.New("alerting 未启用")
	}

	alerter := alerting.FromConfig(a.Config.Alerting, a.Logger).WithNote(simulatedNote)

	now := time.Now().UTC()
	date := now.Format(partition.DateLayout)
	report := pipeline.Summarize(a.Config.Pipeline.Asset, date, simulatedObservations(now, open, closing), pipeline.OpenCloseChronological)

	fired, err := alerter.Check(ctx, report)
	if err != nil {
		return report, fired, err
	}
	if !fired {
		a.Logger.Info().Str("percent_change", report.PercentChange.String()).Msg("未达到告警阈值或未配置告警通道")
	}
	return report, fired, nil
}

// simulatedObservations places open at the start of now's day and close
// strictly after it, so chronological ordering never swaps them.
func simulatedObservations(now time.Time, open, closing decimal.Decimal) []pipeline.Observation {
	dayStart := now.Truncate(24 * time.Hour)
	closeAt := now
	if !closeAt.After(dayStart) {
		closeAt = dayStart.Add(time.Second)
	}
	return []pipeline.Observation{
		{Key: "simulated_open", TimestampUTC: dayStart.Format(partition.TimestampLayout), Price: open},
		{Key: "simulated_close", TimestampUTC: closeAt.Format(partition.TimestampLayout), Price: closing},
	}
}
