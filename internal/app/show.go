package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
	"bullion-pipeline/internal/storage"
)

const defaultShowDays = 7

// Show prints stored daily reports for a date range, newest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	from, to, err := a.showRange(opts)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	layout := a.Config.Storage.Layout()
	dates := partition.Dates(from, to)

	var reports []pipeline.DailyReport
	for i := len(dates) - 1; i >= 0; i-- {
		if opts.Limit > 0 && len(reports) >= opts.Limit {
			break
		}
		report, err := pipeline.LoadReport(ctx, store, layout, dates[i])
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	if len(reports) == 0 {
		fmt.Fprintln(a.Out, "no reports found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tAsset\tObs\tOpen\tClose\tHigh\tLow\tAverage\tChange%\tTrend")
	for _, r := range reports {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Date,
			sanitizeInline(r.Asset),
			r.Observations,
			formatDecimal(r.OpenPrice.Decimal, 2),
			formatDecimal(r.ClosePrice.Decimal, 2),
			formatDecimal(r.HighPrice.Decimal, 2),
			formatDecimal(r.LowPrice.Decimal, 2),
			formatDecimal(r.AveragePrice.Decimal, 2),
			formatDecimal(r.PercentChange.Decimal, 3),
			r.Trend,
		)
	}

	return writer.Flush()
}

// showRange defaults to the last week ending today (UTC).
func (a *App) showRange(opts ShowOptions) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if opts.To != "" {
		t, err := partition.ParseDate(opts.To)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--to: %w", err)
		}
		to = t
	}
	from := to.AddDate(0, 0, -(defaultShowDays - 1))
	if opts.From != "" {
		t, err := partition.ParseDate(opts.From)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
		}
		from = t
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, errors.New("--from must not be after --to")
	}
	return from, to, nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
