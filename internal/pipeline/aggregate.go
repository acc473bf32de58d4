package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Open/close selection modes for the daily report.
const (
	OpenCloseSorted        = "sorted"
	OpenCloseChronological = "chronological"
)

// AggregateOptions controls the daily report.
type AggregateOptions struct {
	Asset string
	// OpenClose is OpenCloseSorted (default) or OpenCloseChronological.
	OpenClose string
}

// Observation is one price point taken from a cleaned record.
type Observation struct {
	Key          string
	TimestampUTC string
	Price        decimal.Decimal
}

// Aggregator turns a cleaned partition into a DailyReport.
type Aggregator struct {
	store  storage.BlobStore
	layout partition.Layout
	opts   AggregateOptions
	logger zerolog.Logger
}

// NewAggregator wires an aggregator.
func NewAggregator(store storage.BlobStore, layout partition.Layout, opts AggregateOptions, logger zerolog.Logger) *Aggregator {
	if opts.OpenClose == "" {
		opts.OpenClose = OpenCloseSorted
	}
	return &Aggregator{
		store:  store,
		layout: layout,
		opts:   opts,
		logger: logger.With().Str("component", "aggregate").Logger(),
	}
}

// Run builds and writes the report for date, overwriting any previous one.
func (a *Aggregator) Run(ctx context.Context, date string) (ReportResult, error) {
	date, err := partition.CanonicalDate(date)
	if err != nil {
		return ReportResult{}, err
	}

	logger := a.logger.With().Str("date", date).Logger()

	observations, err := a.collect(ctx, date)
	if err != nil {
		logger.Error().Err(err).Msg("汇总数据读取失败")
		return ReportResult{}, err
	}

	report := Summarize(a.opts.Asset, date, observations, a.opts.OpenClose)
	body, err := EncodeReport(report)
	if err != nil {
		return ReportResult{}, err
	}

	key := a.layout.ReportKey(date)
	if err := a.store.Put(ctx, key, body, storage.ContentTypeJSON); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("写入日报失败")
		return ReportResult{}, fmt.Errorf("write %s: %w", key, err)
	}

	logger.Info().
		Str("key", key).
		Int("observations", report.Observations).
		Str("percent_change", report.PercentChange.String()).
		Str("trend", string(report.Trend)).
		Msg("daily report written")

	return ReportResult{Status: StatusSuccess, ReportKey: key, Report: report}, nil
}

func (a *Aggregator) collect(ctx context.Context, date string) ([]Observation, error) {
	prefix := a.layout.CleanedDir(date)
	keys, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	var out []Observation
	for _, key := range keys {
		if !partition.IsRecord(key) {
			continue
		}
		body, err := a.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		obs, err := parseObservation(key, body, a.opts.OpenClose == OpenCloseChronological)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}

	if len(out) == 0 {
		return nil, &NoDataError{Prefix: prefix}
	}
	return out, nil
}

func parseObservation(key string, body []byte, needTimestamp bool) (Observation, error) {
	fields, err := decodeFields(key, body)
	if err != nil {
		return Observation{}, err
	}
	if err := requireField(key, fields, FieldPricePer10Units); err != nil {
		return Observation{}, err
	}
	price, err := decodePrice(key, fields, FieldPricePer10Units)
	if err != nil {
		return Observation{}, err
	}

	obs := Observation{Key: key, Price: price.Decimal}
	if needTimestamp {
		if err := requireField(key, fields, FieldTimestamp); err != nil {
			return Observation{}, err
		}
		if err := decodeString(key, fields, FieldTimestamp, &obs.TimestampUTC); err != nil {
			return Observation{}, err
		}
	}
	return obs, nil
}

// Summarize computes the report. observations must be non-empty.
//
// In sorted mode the observations are ordered by price, so open is the day's
// minimum and close its maximum. Chronological mode orders by timestamp and
// then key, giving the first and last observation of the day.
func Summarize(asset, date string, observations []Observation, openClose string) DailyReport {
	obs := make([]Observation, len(observations))
	copy(obs, observations)

	if openClose == OpenCloseChronological {
		sort.SliceStable(obs, func(i, j int) bool {
			if obs[i].TimestampUTC != obs[j].TimestampUTC {
				return obs[i].TimestampUTC < obs[j].TimestampUTC
			}
			return obs[i].Key < obs[j].Key
		})
	} else {
		sort.SliceStable(obs, func(i, j int) bool {
			return obs[i].Price.LessThan(obs[j].Price)
		})
	}

	open := obs[0].Price
	closing := obs[len(obs)-1].Price
	high, low, sum := obs[0].Price, obs[0].Price, decimal.Zero
	for _, o := range obs {
		if o.Price.GreaterThan(high) {
			high = o.Price
		}
		if o.Price.LessThan(low) {
			low = o.Price
		}
		sum = sum.Add(o.Price)
	}

	avg := sum.DivRound(decimal.NewFromInt(int64(len(obs))), PriceScale)
	pct := PercentChange(open, closing)

	return DailyReport{
		Asset:         asset,
		Date:          date,
		Observations:  len(obs),
		OpenPrice:     NewAmount(open),
		ClosePrice:    NewAmount(closing),
		HighPrice:     NewAmount(high),
		LowPrice:      NewAmount(low),
		AveragePrice:  NewAmount(avg),
		PercentChange: NewAmount(pct),
		Trend:         TrendOf(pct),
	}
}

// PercentChange is (close-open)/open*100 rounded to PriceScale. A zero open yields zero.
func PercentChange(open, closing decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		return decimal.Zero
	}
	return closing.Sub(open).Mul(hundred).DivRound(open, PriceScale)
}

// TrendOf classifies pct by sign.
func TrendOf(pct decimal.Decimal) Trend {
	switch pct.Sign() {
	case 1:
		return TrendUp
	case -1:
		return TrendDown
	default:
		return TrendFlat
	}
}

// EncodeReport serialises a report with two-space indentation.
func EncodeReport(report DailyReport) ([]byte, error) {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return body, nil
}
