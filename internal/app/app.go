package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"bullion-pipeline/internal/alerting"
	"bullion-pipeline/internal/config"
	"bullion-pipeline/internal/fetcher"
	"bullion-pipeline/internal/metrics"
	"bullion-pipeline/internal/pipeline"
	"bullion-pipeline/internal/scheduler"
	"bullion-pipeline/internal/service"
	"bullion-pipeline/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	// overrides used by tests
	store  storage.BlobStore
	prices fetcher.PriceFetcher
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newFetcher() fetcher.PriceFetcher {
	if a.prices != nil {
		return a.prices
	}
	return fetcher.NewTwelveData(fetcher.TwelveDataOptions{
		BaseURL:   a.Config.Quote.BaseURL,
		APIKey:    a.Config.Quote.APIKey,
		Timeout:   a.Config.Quote.RequestTimeout,
		UserAgent: a.Config.Quote.UserAgent,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.BlobStore, func(), error) {
	if a.store != nil {
		return a.store, func() {}, nil
	}
	return storage.New(ctx, a.Config.Storage, a.Logger)
}

// newService wires every stage against store. The snapshot stage is only
// built when the quote section is usable.
func (a *App) newService(store storage.BlobStore) *service.Service {
	layout := a.Config.Storage.Layout()

	var writer *pipeline.SnapshotWriter
	if a.prices != nil || a.Config.RequireQuote() == nil {
		writer = pipeline.NewSnapshotWriter(a.newFetcher(), store, layout, pipeline.SnapshotOptions{
			Asset:       a.Config.Pipeline.Asset,
			MetalSymbol: a.Config.Quote.MetalSymbol,
			FXSymbol:    a.Config.Quote.FXSymbol,
			Provider:    a.Config.Quote.Provider,
		}, a.Logger)
	}

	return service.New(service.Deps{
		Snapshot:   writer,
		Normalizer: pipeline.NewNormalizer(store, layout, pipeline.NormalizeOptions{Strict: a.Config.Pipeline.StrictNormalize}, a.Logger),
		Aggregator: pipeline.NewAggregator(store, layout, pipeline.AggregateOptions{
			Asset:     a.Config.Pipeline.Asset,
			OpenClose: a.Config.Pipeline.OpenClose,
		}, a.Logger),
		Alerter: alerting.FromConfig(a.Config.Alerting, a.Logger),
		Metrics: metrics.FromConfig(a.Config.Metrics, a.Logger),
	}, a.Logger)
}

// withService opens the store, runs fn, then pushes metrics and releases the store.
func (a *App) withService(ctx context.Context, fn func(*service.Service) error) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store)
	err = fn(svc)
	svc.Push(ctx)
	return err
}

// Snapshot fetches one quote pair and writes one raw snapshot.
func (a *App) Snapshot(ctx context.Context) (pipeline.SnapshotResult, error) {
	if a.prices == nil {
		if err := a.Config.RequireQuote(); err != nil {
			return pipeline.SnapshotResult{}, err
		}
	}
	var res pipeline.SnapshotResult
	err := a.withService(ctx, func(svc *service.Service) error {
		var err error
		res, err = svc.Snapshot(ctx)
		return err
	})
	return res, err
}

// Normalize cleans the raw partition for date (or the configured process date).
func (a *App) Normalize(ctx context.Context, date string) (pipeline.NormalizeResult, error) {
	date, err := a.Config.ResolveDate(date)
	if err != nil {
		return pipeline.NormalizeResult{}, err
	}
	var res pipeline.NormalizeResult
	err = a.withService(ctx, func(svc *service.Service) error {
		var err error
		res, err = svc.Normalize(ctx, date)
		return err
	})
	return res, err
}

// Report aggregates the cleaned partition for date into the daily report.
func (a *App) Report(ctx context.Context, date string) (pipeline.ReportResult, error) {
	date, err := a.Config.ResolveDate(date)
	if err != nil {
		return pipeline.ReportResult{}, err
	}
	var res pipeline.ReportResult
	err = a.withService(ctx, func(svc *service.Service) error {
		var err error
		res, _, err = svc.Report(ctx, date)
		return err
	})
	return res, err
}

// Batch runs normalize then report for date.
func (a *App) Batch(ctx context.Context, date string) (service.BatchResult, error) {
	date, err := a.Config.ResolveDate(date)
	if err != nil {
		return service.BatchResult{}, err
	}
	var res service.BatchResult
	err = a.withService(ctx, func(svc *service.Service) error {
		var err error
		res, err = svc.Batch(ctx, date)
		return err
	})
	return res, err
}

// Run executes the long-running scheduler: periodic snapshots plus the daily batch.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.prices == nil {
		if err := a.Config.RequireQuote(); err != nil {
			return err
		}
	}
	offset, err := a.Config.Scheduler.BatchOffset()
	if err != nil {
		return err
	}

	snapshotSched := scheduler.New(scheduler.Options{
		Name:         "snapshot",
		Interval:     a.Config.Scheduler.SnapshotInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	batchSched := scheduler.Daily("daily-batch", offset, a.Config.Scheduler.StartupDelay, a.Logger)

	a.Logger.Info().
		Dur("snapshot_interval", a.Config.Scheduler.SnapshotInterval).
		Str("batch_at", a.Config.Scheduler.BatchAt).
		Msg("starting pipeline scheduler")

	err = a.withService(ctx, func(svc *service.Service) error {
		return svc.Run(ctx, snapshotSched, batchSched)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		return err
	}

	a.Logger.Info().Msg("pipeline scheduler stopped")
	return nil
}

// ExportOptions hold parameters for exporting one day's cleaned series.
type ExportOptions struct {
	Date      string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	From  string
	To    string
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	From    string
	To      string
	DryRun  bool
	Workers int
}
