package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
	"bullion-pipeline/internal/service"
	"bullion-pipeline/internal/storage"
)

// BackfillResult summarises a backfill over a date range.
type BackfillResult struct {
	Dates     []service.BatchResult `json:"dates"`
	Processed int                   `json:"processed"`
	NoData    int                   `json:"no_data"`
	Failed    int                   `json:"failed"`
	DryRun    bool                  `json:"dry_run,omitempty"`
}

// Backfill reruns normalize and report for every date in [From, To]. Dates are
// independent partitions, so up to Workers dates run at once.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) (BackfillResult, error) {
	from, err := partition.ParseDate(opts.From)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("--from: %w", err)
	}
	to, err := partition.ParseDate(opts.To)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("--to: %w", err)
	}
	if to.Before(from) {
		return BackfillResult{}, errors.New("回填范围为空，请检查 --from/--to")
	}
	dates := partition.Dates(from, to)

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return BackfillResult{}, err
	}
	defer closeStore()

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入存储")
		return a.dryRun(ctx, store, dates)
	}

	svc := a.newService(store)
	defer svc.Push(ctx)

	out := BackfillResult{Dates: make([]service.BatchResult, len(dates))}
	var failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, date := range dates {
		i, date := i, date
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := svc.Batch(gctx, date)
			out.Dates[i] = res
			if err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Str("date", date).Msg("回填失败")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	for _, res := range out.Dates {
		switch res.Status {
		case pipeline.StatusSuccess:
			out.Processed++
		case pipeline.StatusNoData:
			out.NoData++
			a.Logger.Info().Str("date", res.Date).Msg("no raw data, skipped")
		}
	}
	out.Failed = int(failed.Load())

	a.Logger.Info().
		Int("processed", out.Processed).
		Int("no_data", out.NoData).
		Int("failed", out.Failed).
		Msg("回填完成")
	if out.Failed > 0 {
		return out, errors.New("部分日期回填失败，请检查日志")
	}
	return out, nil
}

// dryRun reports how many raw records each date holds without writing.
func (a *App) dryRun(ctx context.Context, store storage.BlobStore, dates []string) (BackfillResult, error) {
	layout := a.Config.Storage.Layout()
	out := BackfillResult{DryRun: true}
	for _, date := range dates {
		keys, err := store.List(ctx, layout.RawDir(date))
		if err != nil {
			return out, fmt.Errorf("list %s: %w", layout.RawDir(date), err)
		}
		records := 0
		for _, key := range keys {
			if partition.IsRecord(key) {
				records++
			}
		}
		res := service.BatchResult{Date: date, Status: pipeline.StatusSuccess}
		res.Normalize = pipeline.NormalizeResult{Status: pipeline.StatusSuccess, Date: date, ProcessedFiles: records}
		if records == 0 {
			res.Status = pipeline.StatusNoData
			res.Normalize.Status = pipeline.StatusNoData
			out.NoData++
		} else {
			out.Processed++
		}
		out.Dates = append(out.Dates, res)
	}
	return out, nil
}
