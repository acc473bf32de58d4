package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"bullion-pipeline/internal/config"
	"bullion-pipeline/internal/storage"
	"bullion-pipeline/internal/storage/storagemock"
)

func putCleaned(t *testing.T, store storage.BlobStore, date, hhmm, ts, price string) {
	t.Helper()
	body := fmt.Sprintf(`{"asset":"gold","timestamp_utc":%q,"derived_price_per_unit":1,`+
		`"derived_price_per_10_units":%s,"provider":"twelvedata","quality_check":"PASS"}`, ts, price)
	putRaw(t, store, "cleaned/"+date+"/gold_"+hhmm+".json", body)
}

// seedRisingDay stores the prices out of price order so sorted and chronological modes differ.
func seedRisingDay(t *testing.T, store storage.BlobStore) {
	putCleaned(t, store, "2025-06-01", "09-00", "2025-06-01T09:00:00Z", "1000")
	putCleaned(t, store, "2025-06-01", "10-00", "2025-06-01T10:00:00Z", "5000")
	putCleaned(t, store, "2025-06-01", "11-00", "2025-06-01T11:00:00Z", "3000")
}

func TestAggregatorWorkedExample(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	res, err := a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "reports/2025-06-01/daily_summary.json", res.ReportKey)

	r := res.Report
	require.Equal(t, 3, r.Observations)
	require.True(t, r.OpenPrice.Equal(decimal.NewFromInt(1000)))
	require.True(t, r.ClosePrice.Equal(decimal.NewFromInt(5000)))
	require.True(t, r.HighPrice.Equal(decimal.NewFromInt(5000)))
	require.True(t, r.LowPrice.Equal(decimal.NewFromInt(1000)))
	require.True(t, r.AveragePrice.Equal(decimal.NewFromInt(3000)))
	require.True(t, r.PercentChange.Equal(decimal.NewFromInt(400)))
	require.Equal(t, TrendUp, r.Trend)

	body, err := store.Get(context.Background(), res.ReportKey)
	require.NoError(t, err)
	require.JSONEq(t, `{"asset":"gold","date":"2025-06-01","observations":3,"open_price":1000,`+
		`"close_price":5000,"high_price":5000,"low_price":1000,"average_price":3000,`+
		`"percent_change":400,"trend":"UP"}`, string(body))
	require.Contains(t, string(body), "\n  \"asset\": \"gold\",")
}

func TestAggregatorTrimsDate(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	res, err := a.Run(context.Background(), "2025-06-01 ")
	require.NoError(t, err)
	require.Equal(t, "reports/2025-06-01/daily_summary.json", res.ReportKey)
	require.Equal(t, "2025-06-01", res.Report.Date)
}

func TestOpenCloseModesMatchConfig(t *testing.T) {
	require.Equal(t, config.OpenCloseSorted, OpenCloseSorted)
	require.Equal(t, config.OpenCloseChronological, OpenCloseChronological)
}

func TestAggregatorIsIdempotent(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)
	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())

	first, err := a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)
	firstBody, err := store.Get(context.Background(), first.ReportKey)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)
	secondBody, err := store.Get(context.Background(), first.ReportKey)
	require.NoError(t, err)

	require.Equal(t, firstBody, secondBody)
}

func TestAggregatorChronologicalFallingDay(t *testing.T) {
	store := storage.NewMemFS()
	putCleaned(t, store, "2025-06-01", "09-00", "2025-06-01T09:00:00Z", "5000")
	putCleaned(t, store, "2025-06-01", "10-00", "2025-06-01T10:00:00Z", "1000")
	putCleaned(t, store, "2025-06-01", "11-00", "2025-06-01T11:00:00Z", "4000")

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold", OpenClose: OpenCloseChronological}, zerolog.Nop())
	res, err := a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)

	r := res.Report
	require.True(t, r.OpenPrice.Equal(decimal.NewFromInt(5000)))
	require.True(t, r.ClosePrice.Equal(decimal.NewFromInt(4000)))
	require.True(t, r.PercentChange.Equal(decimal.NewFromInt(-20)))
	require.Equal(t, TrendDown, r.Trend)

	// the same data in sorted mode is always non-negative
	sorted := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	res, err = sorted.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, TrendUp, res.Report.Trend)
}

func TestAggregatorEmptyPartition(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := storagemock.NewMockBlobStore(ctrl)
	store.EXPECT().List(gomock.Any(), "cleaned/2025-06-01/").Return([]string{"cleaned/2025-06-01/_SUCCESS"}, nil)
	// no Put expectation: the report must not be written

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	_, err := a.Run(context.Background(), "2025-06-01")
	require.ErrorIs(t, err, ErrNoData)

	var noData *NoDataError
	require.True(t, errors.As(err, &noData))
	require.Equal(t, "cleaned/2025-06-01/", noData.Prefix)
}

func TestAggregatorPartitionIsolation(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)
	putCleaned(t, store, "2025-06-02", "09-00", "2025-06-02T09:00:00Z", "99999")

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	res, err := a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, 3, res.Report.Observations)
	require.True(t, res.Report.HighPrice.Equal(decimal.NewFromInt(5000)))

	_, err = store.Get(context.Background(), "reports/2025-06-02/daily_summary.json")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAggregatorMissingPriceIsFatal(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)
	putRaw(t, store, "cleaned/2025-06-01/gold_12-00.json", `{"asset":"gold","timestamp_utc":"2025-06-01T12:00:00Z"}`)

	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	_, err := a.Run(context.Background(), "2025-06-01")

	var missing *MissingFieldError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, FieldPricePer10Units, missing.Field)

	_, err = store.Get(context.Background(), "reports/2025-06-01/daily_summary.json")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSummarizeSingleObservation(t *testing.T) {
	r := Summarize("gold", "2025-06-01", []Observation{{Key: "a", Price: decimal.RequireFromString("53370.1995")}}, OpenCloseSorted)
	require.Equal(t, 1, r.Observations)
	require.True(t, r.PercentChange.IsZero())
	require.Equal(t, TrendFlat, r.Trend)
	require.Equal(t, "53370.1995", r.AveragePrice.String())
}

func TestSummarizeRoundsAverage(t *testing.T) {
	obs := []Observation{
		{Key: "a", Price: decimal.RequireFromString("1")},
		{Key: "b", Price: decimal.RequireFromString("1")},
		{Key: "c", Price: decimal.RequireFromString("2")},
	}
	r := Summarize("gold", "2025-06-01", obs, OpenCloseSorted)
	require.Equal(t, "1.3333", r.AveragePrice.String())
	require.Equal(t, "100", r.PercentChange.String())
}

func TestPercentChangeZeroOpen(t *testing.T) {
	require.True(t, PercentChange(decimal.Zero, decimal.NewFromInt(10)).IsZero())
	require.Equal(t, TrendFlat, TrendOf(PercentChange(decimal.Zero, decimal.NewFromInt(10))))
}

func TestLoadReportAndCleaned(t *testing.T) {
	store := storage.NewMemFS()
	seedRisingDay(t, store)
	a := NewAggregator(store, testLayout, AggregateOptions{Asset: "gold"}, zerolog.Nop())
	res, err := a.Run(context.Background(), "2025-06-01")
	require.NoError(t, err)

	report, err := LoadReport(context.Background(), store, testLayout, "2025-06-01")
	require.NoError(t, err)
	require.Equal(t, res.Report.Trend, report.Trend)
	require.True(t, report.ClosePrice.Equal(res.Report.ClosePrice.Decimal))

	_, err = LoadReport(context.Background(), store, testLayout, "2025-06-02")
	require.ErrorIs(t, err, storage.ErrNotFound)

	records, err := LoadCleaned(context.Background(), store, testLayout, "2025-06-01")
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, "2025-06-01T09:00:00Z", records[0].TimestampUTC)
}
