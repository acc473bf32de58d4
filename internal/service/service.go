package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bullion-pipeline/internal/alerting"
	"bullion-pipeline/internal/logging"
	"bullion-pipeline/internal/metrics"
	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
	"bullion-pipeline/internal/scheduler"
)

// Deps are the stage components the service drives. Snapshot may be nil when
// no quote API key is configured; batch-only commands still work.
type Deps struct {
	Snapshot   *pipeline.SnapshotWriter
	Normalizer *pipeline.Normalizer
	Aggregator *pipeline.Aggregator
	Alerter    *alerting.ReportAlerter
	Metrics    *metrics.Recorder
}

// Service wraps every stage invocation with run logging, metrics and alerting.
type Service struct {
	deps   Deps
	now    func() time.Time
	logger zerolog.Logger
}

// BatchResult combines the normalize and report outcomes for one date.
type BatchResult struct {
	Date      string                   `json:"date"`
	Status    pipeline.Status          `json:"status"`
	Normalize pipeline.NormalizeResult `json:"normalize"`
	Report    *pipeline.ReportResult   `json:"report,omitempty"`
	Alerted   bool                     `json:"alerted,omitempty"`
}

// New constructs the service.
func New(deps Deps, logger zerolog.Logger) *Service {
	return &Service{
		deps:   deps,
		now:    time.Now,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// Snapshot runs the snapshot stage once.
func (s *Service) Snapshot(ctx context.Context) (pipeline.SnapshotResult, error) {
	if s.deps.Snapshot == nil {
		return pipeline.SnapshotResult{}, errors.New("snapshot stage not configured (quote.api_key missing?)")
	}
	logger, _ := logging.ForRun(s.logger, metrics.StageSnapshot)
	start := s.now()

	res, err := s.deps.Snapshot.Run(ctx)
	s.observe(metrics.StageSnapshot, res.Status, err, start)
	if err != nil {
		logger.Error().Err(err).Msg("snapshot failed")
		return res, err
	}
	logger.Info().Str("saved_file", res.SavedFile).Dur("elapsed", s.now().Sub(start)).Msg("snapshot finished")
	return res, nil
}

// Normalize runs the normalize stage for date.
func (s *Service) Normalize(ctx context.Context, date string) (pipeline.NormalizeResult, error) {
	logger, _ := logging.ForRun(s.logger, metrics.StageNormalize)
	logger = logger.With().Str("date", date).Logger()
	start := s.now()

	res, err := s.deps.Normalizer.Run(ctx, date)
	s.observe(metrics.StageNormalize, res.Status, err, start)
	s.deps.Metrics.AddRecords(metrics.StageNormalize, metrics.RecordProcessed, res.ProcessedFiles)
	s.deps.Metrics.AddRecords(metrics.StageNormalize, metrics.RecordSkipped, res.SkippedFiles)
	s.deps.Metrics.AddRecords(metrics.StageNormalize, metrics.RecordIgnored, res.IgnoredFiles)
	if err != nil {
		logger.Error().Err(err).Msg("normalize failed")
		return res, err
	}
	logger.Info().
		Str("status", string(res.Status)).
		Int("processed", res.ProcessedFiles).
		Int("skipped", res.SkippedFiles).
		Msg("normalize finished")
	return res, nil
}

// Report runs the report stage for date, then evaluates the alert threshold.
// Alert delivery failures are logged and do not fail the stage.
func (s *Service) Report(ctx context.Context, date string) (pipeline.ReportResult, bool, error) {
	logger, _ := logging.ForRun(s.logger, metrics.StageReport)
	logger = logger.With().Str("date", date).Logger()
	start := s.now()

	res, err := s.deps.Aggregator.Run(ctx, date)
	status := res.Status
	if errors.Is(err, pipeline.ErrNoData) {
		status = pipeline.StatusNoData
	}
	s.observe(metrics.StageReport, status, err, start)
	if err != nil {
		logger.Error().Err(err).Msg("report failed")
		return res, false, err
	}
	s.deps.Metrics.AddRecords(metrics.StageReport, metrics.RecordProcessed, res.Report.Observations)

	alerted, alertErr := s.deps.Alerter.Check(ctx, res.Report)
	if alertErr != nil {
		logger.Warn().Err(alertErr).Msg("告警发送部分失败")
	}

	logger.Info().
		Str("report_key", res.ReportKey).
		Str("trend", string(res.Report.Trend)).
		Bool("alerted", alerted).
		Msg("report finished")
	return res, alerted, nil
}

// Batch normalizes then reports one date. A date with no raw data yields
// NO_DATA without running the report stage.
func (s *Service) Batch(ctx context.Context, date string) (BatchResult, error) {
	out := BatchResult{Date: date}

	norm, err := s.Normalize(ctx, date)
	out.Normalize = norm
	if err != nil {
		return out, fmt.Errorf("normalize %s: %w", date, err)
	}
	if norm.Status == pipeline.StatusNoData {
		out.Status = pipeline.StatusNoData
		return out, nil
	}

	rep, alerted, err := s.Report(ctx, date)
	if errors.Is(err, pipeline.ErrNoData) {
		// every raw record was skipped
		out.Status = pipeline.StatusNoData
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("report %s: %w", date, err)
	}
	out.Status = pipeline.StatusSuccess
	out.Report = &rep
	out.Alerted = alerted
	return out, nil
}

// Run drives snapshot and daily batch jobs until ctx is cancelled.
func (s *Service) Run(ctx context.Context, snapshotSched, batchSched *scheduler.Scheduler) error {
	var jobs []scheduler.Job
	if snapshotSched != nil {
		jobs = append(jobs, scheduler.Job{Scheduler: snapshotSched, Tick: s.snapshotTick})
	}
	if batchSched != nil {
		jobs = append(jobs, scheduler.Job{Scheduler: batchSched, Tick: s.batchTick})
	}
	if len(jobs) == 0 {
		return fmt.Errorf("scheduler not configured")
	}
	return scheduler.RunGroup(ctx, jobs...)
}

func (s *Service) snapshotTick(ctx context.Context, _ time.Time) error {
	_, err := s.Snapshot(ctx)
	s.Push(ctx)
	return err
}

// batchTick processes the UTC day before the tick.
func (s *Service) batchTick(ctx context.Context, at time.Time) error {
	date := PreviousDate(at)
	_, err := s.Batch(ctx, date)
	s.Push(ctx)
	return err
}

// PreviousDate is the partition date of the UTC day before t.
func PreviousDate(t time.Time) string {
	return t.UTC().AddDate(0, 0, -1).Format(partition.DateLayout)
}

// Push flushes metrics to the pushgateway, logging failures.
func (s *Service) Push(ctx context.Context) {
	if err := s.deps.Metrics.Push(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("metrics push failed")
	}
}

func (s *Service) observe(stage string, status pipeline.Status, err error, start time.Time) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err != nil && status != pipeline.StatusNoData:
		outcome = metrics.OutcomeError
	case status == pipeline.StatusNoData:
		outcome = metrics.OutcomeNoData
	}
	s.deps.Metrics.ObserveRun(stage, outcome, s.now().Sub(start))
}
