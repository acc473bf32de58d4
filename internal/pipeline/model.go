// Package pipeline implements the three batch stages: snapshot, normalize and report.
//
// Stages never call one another. Each reads and writes its own date partition of
// the blob store, so any stage can be re-run for a date without touching others.
package pipeline

import (
	"github.com/shopspring/decimal"
)

// Status is the outcome reported by every stage invocation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusNoData  Status = "NO_DATA"
)

// Trend classifies the sign of a day's percent change.
type Trend string

const (
	TrendUp   Trend = "UP"
	TrendDown Trend = "DOWN"
	TrendFlat Trend = "FLAT"
)

// QualityCheck flags a cleaned record. Records failing validation are skipped
// rather than written with a failing flag, so PASS is the only value emitted.
type QualityCheck string

const QualityPass QualityCheck = "PASS"

// Amount is a decimal that serialises as an unquoted JSON number and accepts
// quoted or unquoted numbers when decoding.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// MarshalJSON writes the exact decimal representation without quotes.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// UnmarshalJSON delegates to decimal, which understands both forms.
func (a *Amount) UnmarshalJSON(b []byte) error {
	return a.Decimal.UnmarshalJSON(b)
}

// RawSnapshot is one point-in-time observation as fetched.
type RawSnapshot struct {
	Asset           string `json:"asset"`
	TimestampUTC    string `json:"timestamp_utc"`
	QuoteA          Amount `json:"quote_a"`
	QuoteB          Amount `json:"quote_b"`
	PricePerUnit    Amount `json:"derived_price_per_unit"`
	PricePer10Units Amount `json:"derived_price_per_10_units"`
	Date            string `json:"date"`
	Hour            string `json:"hour"`
	Minute          string `json:"minute"`
	Provider        string `json:"provider"`
}

// CleanedRecord is the validated projection of a RawSnapshot.
type CleanedRecord struct {
	Asset           string       `json:"asset"`
	TimestampUTC    string       `json:"timestamp_utc"`
	PricePerUnit    Amount       `json:"derived_price_per_unit"`
	PricePer10Units Amount       `json:"derived_price_per_10_units"`
	Provider        string       `json:"provider"`
	QualityCheck    QualityCheck `json:"quality_check"`
}

// DailyReport summarises one day of cleaned records.
type DailyReport struct {
	Asset         string `json:"asset"`
	Date          string `json:"date"`
	Observations  int    `json:"observations"`
	OpenPrice     Amount `json:"open_price"`
	ClosePrice    Amount `json:"close_price"`
	HighPrice     Amount `json:"high_price"`
	LowPrice      Amount `json:"low_price"`
	AveragePrice  Amount `json:"average_price"`
	PercentChange Amount `json:"percent_change"`
	Trend         Trend  `json:"trend"`
}

// SnapshotResult is returned by SnapshotWriter.Run.
type SnapshotResult struct {
	Status    Status      `json:"status"`
	SavedFile string      `json:"saved_file"`
	Record    RawSnapshot `json:"record"`
}

// NormalizeResult is returned by Normalizer.Run.
type NormalizeResult struct {
	Status         Status   `json:"status"`
	Date           string   `json:"date"`
	ProcessedFiles int      `json:"processed_files"`
	SkippedFiles   int      `json:"skipped_files"`
	IgnoredFiles   int      `json:"ignored_files,omitempty"`
	Skipped        []string `json:"skipped,omitempty"`
}

// ReportResult is returned by Aggregator.Run.
type ReportResult struct {
	Status    Status      `json:"status"`
	ReportKey string      `json:"report_key"`
	Report    DailyReport `json:"report"`
}
