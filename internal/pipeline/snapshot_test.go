package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"bullion-pipeline/internal/fetcher"
	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/storage"
	"bullion-pipeline/internal/storage/storagemock"
)

var testLayout = partition.Layout{Raw: "raw/", Cleaned: "cleaned/", Reports: "reports/"}

type stubPrices struct {
	prices map[string]string
	err    error
	calls  []string
}

func (s *stubPrices) FetchPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.calls = append(s.calls, symbol)
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return decimal.RequireFromString(s.prices[symbol]), nil
}

func testSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{Asset: "gold", MetalSymbol: "XAU/USD", FXSymbol: "USD/INR", Provider: "twelvedata"}
}

func fixedClock(s string) func() time.Time {
	return func() time.Time {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			panic(err)
		}
		return t
	}
}

func TestDerivePricesKeepsPrecisionUntilRounding(t *testing.T) {
	perUnit, per10 := DerivePrices(decimal.NewFromInt(2000), decimal.NewFromInt(83))

	require.Equal(t, "5337.0199", perUnit.Round(PriceScale).String())
	// rounding per-unit first would give 53370.199
	require.Equal(t, "53370.1995", per10.Round(PriceScale).String())
}

func TestSnapshotWriterWritesOneRecord(t *testing.T) {
	store := storage.NewMemFS()
	prices := &stubPrices{prices: map[string]string{"XAU/USD": "2350.55", "USD/INR": "83.1234"}}

	w := NewSnapshotWriter(prices, store, testLayout, testSnapshotOptions(), zerolog.Nop()).
		WithClock(fixedClock("2025-06-01T09:07:42.918+05:30"))

	res, err := w.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, res.Status)
	require.Equal(t, "raw/2025-06-01/gold_03-37.json", res.SavedFile)
	require.Equal(t, []string{"XAU/USD", "USD/INR"}, prices.calls)

	rec := res.Record
	require.Equal(t, "2025-06-01T03:37:42Z", rec.TimestampUTC)
	require.Equal(t, "2025-06-01", rec.Date)
	require.Equal(t, "03", rec.Hour)
	require.Equal(t, "37", rec.Minute)
	require.Equal(t, "6281.7917", rec.PricePerUnit.String())
	require.Equal(t, "62817.9169", rec.PricePer10Units.String())
	require.Equal(t, partition.SnapshotFilename(rec.Asset, time.Date(2025, 6, 1, 3, 37, 0, 0, time.UTC)), partition.Filename(res.SavedFile))

	keys, err := store.List(context.Background(), "raw/")
	require.NoError(t, err)
	require.Equal(t, []string{res.SavedFile}, keys)

	body, err := store.Get(context.Background(), res.SavedFile)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	require.JSONEq(t, `2350.55`, string(fields["quote_a"]))
	require.JSONEq(t, `83.1234`, string(fields["quote_b"]))
	require.JSONEq(t, `62817.9169`, string(fields["derived_price_per_10_units"]))
	require.JSONEq(t, `"twelvedata"`, string(fields["provider"]))
}

func TestSnapshotWriterSameMinuteOverwrites(t *testing.T) {
	store := storage.NewMemFS()
	prices := &stubPrices{prices: map[string]string{"XAU/USD": "2000", "USD/INR": "83"}}
	w := NewSnapshotWriter(prices, store, testLayout, testSnapshotOptions(), zerolog.Nop())

	w.WithClock(fixedClock("2025-06-01T10:00:05Z"))
	_, err := w.Run(context.Background())
	require.NoError(t, err)

	prices.prices["XAU/USD"] = "2100"
	w.WithClock(fixedClock("2025-06-01T10:00:55Z"))
	res, err := w.Run(context.Background())
	require.NoError(t, err)

	keys, err := store.List(context.Background(), testLayout.RawDir("2025-06-01"))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	body, err := store.Get(context.Background(), res.SavedFile)
	require.NoError(t, err)
	var rec RawSnapshot
	require.NoError(t, json.Unmarshal(body, &rec))
	require.True(t, rec.QuoteA.Equal(decimal.NewFromInt(2100)))
}

func TestSnapshotWriterHTTPFailureWritesNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctrl := gomock.NewController(t)
	store := storagemock.NewMockBlobStore(ctrl)
	// no Put expectation: any write fails the test

	quotes := fetcher.NewTwelveData(fetcher.TwelveDataOptions{BaseURL: srv.URL, APIKey: "k"}, zerolog.Nop())
	w := NewSnapshotWriter(quotes, store, testLayout, testSnapshotOptions(), zerolog.Nop())

	_, err := w.Run(context.Background())
	require.Error(t, err)

	var apiErr *fetcher.ExternalAPIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestSnapshotWriterFXFailureWritesNothing(t *testing.T) {
	store := storage.NewMemFS()
	prices := &failOn{symbol: "USD/INR", next: &stubPrices{prices: map[string]string{"XAU/USD": "2000"}}}
	w := NewSnapshotWriter(prices, store, testLayout, testSnapshotOptions(), zerolog.Nop())

	_, err := w.Run(context.Background())
	require.ErrorContains(t, err, "USD/INR")

	keys, err := store.List(context.Background(), "raw/")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSnapshotWriterRejectsNonPositiveQuote(t *testing.T) {
	store := storage.NewMemFS()
	prices := &stubPrices{prices: map[string]string{"XAU/USD": "0", "USD/INR": "83"}}
	w := NewSnapshotWriter(prices, store, testLayout, testSnapshotOptions(), zerolog.Nop())

	_, err := w.Run(context.Background())
	require.Error(t, err)

	keys, _ := store.List(context.Background(), "raw/")
	require.Empty(t, keys)
}

func TestSnapshotWriterStorageFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := storagemock.NewMockBlobStore(ctrl)
	boom := errors.New("bucket unavailable")
	store.EXPECT().
		Put(gomock.Any(), "raw/2025-06-01/gold_10-00.json", gomock.Any(), storage.ContentTypeJSON).
		Return(boom)

	prices := &stubPrices{prices: map[string]string{"XAU/USD": "2000", "USD/INR": "83"}}
	w := NewSnapshotWriter(prices, store, testLayout, testSnapshotOptions(), zerolog.Nop()).
		WithClock(fixedClock("2025-06-01T10:00:00Z"))

	_, err := w.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

type failOn struct {
	symbol string
	next   fetcher.PriceFetcher
}

func (f *failOn) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if symbol == f.symbol {
		return decimal.Zero, &fetcher.ExternalAPIError{StatusCode: http.StatusBadGateway}
	}
	return f.next.FetchPrice(ctx, symbol)
}
