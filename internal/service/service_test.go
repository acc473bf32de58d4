package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bullion-pipeline/internal/alerting"
	"bullion-pipeline/internal/metrics"
	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
	"bullion-pipeline/internal/storage"
)

var layout = partition.Layout{Raw: "raw/", Cleaned: "cleaned/", Reports: "reports/"}

type fixedPrices map[string]string

func (f fixedPrices) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := f[symbol]
	if !ok {
		return decimal.Zero, errors.New("unknown symbol " + symbol)
	}
	return decimal.RequireFromString(v), nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, note alerting.Notification) error {
	c.notes = append(c.notes, note)
	return nil
}

type harness struct {
	svc      *Service
	store    storage.BlobStore
	prices   fixedPrices
	clock    time.Time
	recorder *metrics.Recorder
	notifier *captureNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    storage.NewMemFS(),
		prices:   fixedPrices{"XAU/USD": "2000", "USD/INR": "83"},
		clock:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		recorder: metrics.New(),
		notifier: &captureNotifier{},
	}
	logger := zerolog.Nop()
	writer := pipeline.NewSnapshotWriter(h.prices, h.store, layout, pipeline.SnapshotOptions{
		Asset: "gold", MetalSymbol: "XAU/USD", FXSymbol: "USD/INR", Provider: "twelvedata",
	}, logger).WithClock(func() time.Time { return h.clock })

	h.svc = New(Deps{
		Snapshot:   writer,
		Normalizer: pipeline.NewNormalizer(h.store, layout, pipeline.NormalizeOptions{}, logger),
		Aggregator: pipeline.NewAggregator(h.store, layout, pipeline.AggregateOptions{Asset: "gold"}, logger),
		Alerter:    alerting.NewReportAlerter(decimal.NewFromInt(1), []string{"capture"}, []alerting.Notifier{h.notifier}, logger),
		Metrics:    h.recorder,
	}, logger)
	return h
}

func TestServiceEndToEndDay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i, gold := range []string{"2000", "2050", "2100"} {
		h.prices["XAU/USD"] = gold
		h.clock = time.Date(2025, 6, 1, 9, 5*i, 0, 0, time.UTC)
		_, err := h.svc.Snapshot(ctx)
		require.NoError(t, err)
	}

	res, err := h.svc.Batch(ctx, "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusSuccess, res.Status)
	require.Equal(t, 3, res.Normalize.ProcessedFiles)
	require.NotNil(t, res.Report)
	require.Equal(t, 3, res.Report.Report.Observations)
	require.Equal(t, pipeline.TrendUp, res.Report.Report.Trend)
	require.True(t, res.Alerted, "a 5% move crosses the 1% threshold")
	require.Len(t, h.notifier.notes, 1)

	reg := h.recorder.Registry()
	count, err := testutil.GatherAndCount(reg, "bullion_pipeline_runs_total")
	require.NoError(t, err)
	require.Equal(t, 3, count, "snapshot, normalize and report series")
}

func TestServiceBatchWithoutRawData(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.Batch(context.Background(), "2025-06-02")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusNoData, res.Status)
	require.Nil(t, res.Report)

	_, err = h.store.Get(context.Background(), layout.ReportKey("2025-06-02"))
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestServiceBatchAllRecordsSkipped(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Put(context.Background(), "raw/2025-06-01/gold_09-00.json", []byte(`{"asset":"gold"}`), storage.ContentTypeJSON))

	res, err := h.svc.Batch(context.Background(), "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, pipeline.StatusNoData, res.Status)
	require.Equal(t, 1, res.Normalize.SkippedFiles)
}

func TestServiceReportEmptyIsError(t *testing.T) {
	h := newHarness(t)
	_, _, err := h.svc.Report(context.Background(), "2025-06-01")
	require.ErrorIs(t, err, pipeline.ErrNoData)
}

func TestServiceSnapshotNotConfigured(t *testing.T) {
	svc := New(Deps{}, zerolog.Nop())
	_, err := svc.Snapshot(context.Background())
	require.Error(t, err)
}

func TestPreviousDate(t *testing.T) {
	at := time.Date(2025, 3, 1, 0, 15, 0, 0, time.UTC)
	require.Equal(t, "2025-02-28", PreviousDate(at))

	ist := time.FixedZone("IST", 5*3600+1800)
	require.Equal(t, "2025-02-28", PreviousDate(time.Date(2025, 3, 1, 5, 50, 0, 0, ist)))
}
