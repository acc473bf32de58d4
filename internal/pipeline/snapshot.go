package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/fetcher"
	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/storage"
)

const (
	// PriceScale is the number of decimal places kept on derived prices.
	PriceScale int32 = 4

	divisionScale int32 = 20
)

var (
	// GramsPerTroyOunce converts a per-ounce quote into a per-gram price.
	GramsPerTroyOunce = decimal.RequireFromString("31.1035")

	ten = decimal.NewFromInt(10)
)

// SnapshotOptions describes what the writer fetches and how the record is labelled.
type SnapshotOptions struct {
	Asset       string
	MetalSymbol string
	FXSymbol    string
	Provider    string
}

// SnapshotWriter fetches one quote pair and persists one raw snapshot.
type SnapshotWriter struct {
	prices fetcher.PriceFetcher
	store  storage.BlobStore
	layout partition.Layout
	opts   SnapshotOptions
	now    func() time.Time
	logger zerolog.Logger
}

// NewSnapshotWriter wires a writer. The clock defaults to time.Now.
func NewSnapshotWriter(prices fetcher.PriceFetcher, store storage.BlobStore, layout partition.Layout, opts SnapshotOptions, logger zerolog.Logger) *SnapshotWriter {
	return &SnapshotWriter{
		prices: prices,
		store:  store,
		layout: layout,
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "snapshot").Logger(),
	}
}

// WithClock replaces the clock, mainly for tests.
func (w *SnapshotWriter) WithClock(now func() time.Time) *SnapshotWriter {
	if now != nil {
		w.now = now
	}
	return w
}

// Run performs one snapshot. Nothing is written when either quote fails.
func (w *SnapshotWriter) Run(ctx context.Context) (SnapshotResult, error) {
	if w.prices == nil || w.store == nil {
		return SnapshotResult{}, errors.New("snapshot writer not configured")
	}

	at := w.now().UTC().Truncate(time.Second)

	pair, err := fetcher.FetchPair(ctx, w.prices, w.opts.MetalSymbol, w.opts.FXSymbol)
	if err != nil {
		w.logger.Error().Err(err).Msg("行情获取失败")
		return SnapshotResult{}, err
	}
	if !pair.Metal.IsPositive() || !pair.FX.IsPositive() {
		err := fmt.Errorf("non-positive quote: %s=%s %s=%s", w.opts.MetalSymbol, pair.Metal, w.opts.FXSymbol, pair.FX)
		w.logger.Error().Err(err).Msg("行情数据无效")
		return SnapshotResult{}, err
	}

	record := BuildSnapshot(w.opts.Asset, w.opts.Provider, at, pair)
	body, err := json.Marshal(record)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("encode snapshot: %w", err)
	}

	key := w.layout.RawKey(w.opts.Asset, at)
	if err := w.store.Put(ctx, key, body, storage.ContentTypeJSON); err != nil {
		w.logger.Error().Err(err).Str("key", key).Msg("快照写入失败")
		return SnapshotResult{}, fmt.Errorf("write snapshot %s: %w", key, err)
	}

	w.logger.Info().
		Str("key", key).
		Str("price_per_10_units", record.PricePer10Units.String()).
		Msg("snapshot saved")

	return SnapshotResult{Status: StatusSuccess, SavedFile: key, Record: record}, nil
}

// DerivePrices returns the local-currency price per gram and per 10 grams at full precision.
func DerivePrices(metal, fx decimal.Decimal) (perUnit, per10 decimal.Decimal) {
	perUnit = metal.Mul(fx).DivRound(GramsPerTroyOunce, divisionScale)
	return perUnit, perUnit.Mul(ten)
}

// BuildSnapshot assembles the raw record for one instant. Rounding happens here, once.
func BuildSnapshot(asset, provider string, at time.Time, pair fetcher.Pair) RawSnapshot {
	at = at.UTC()
	perUnit, per10 := DerivePrices(pair.Metal, pair.FX)

	return RawSnapshot{
		Asset:           asset,
		TimestampUTC:    at.Format(partition.TimestampLayout),
		QuoteA:          NewAmount(pair.Metal),
		QuoteB:          NewAmount(pair.FX),
		PricePerUnit:    NewAmount(perUnit.Round(PriceScale)),
		PricePer10Units: NewAmount(per10.Round(PriceScale)),
		Date:            at.Format(partition.DateLayout),
		Hour:            at.Format("15"),
		Minute:          at.Format("04"),
		Provider:        provider,
	}
}
