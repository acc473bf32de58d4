// Package partition builds and parses the date-partitioned storage keys shared by every stage.
package partition

import (
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// DateLayout is the partition date format (YYYY-MM-DD).
	DateLayout = "2006-01-02"
	// TimestampLayout is the second-precision UTC timestamp written into records.
	TimestampLayout = "2006-01-02T15:04:05Z"
	// RecordSuffix marks objects that stages treat as records.
	RecordSuffix = ".json"
	// ReportFilename is the single object written per report partition.
	ReportFilename = "daily_summary.json"

	minuteLayout = "15-04"
)

// Layout holds the three configured prefixes.
type Layout struct {
	Raw     string
	Cleaned string
	Reports string
}

// RawDir returns the raw partition prefix for a date.
func (l Layout) RawDir(date string) string {
	return l.Raw + date + "/"
}

// CleanedDir returns the cleaned partition prefix for a date.
func (l Layout) CleanedDir(date string) string {
	return l.Cleaned + date + "/"
}

// ReportsDir returns the report partition prefix for a date.
func (l Layout) ReportsDir(date string) string {
	return l.Reports + date + "/"
}

// RawKey is {raw}{date}/{asset}_{HH-MM}.json for the given instant.
func (l Layout) RawKey(asset string, at time.Time) string {
	at = at.UTC()
	return l.RawDir(at.Format(DateLayout)) + SnapshotFilename(asset, at)
}

// CleanedKey maps a raw key onto the cleaned partition, keeping the filename.
func (l Layout) CleanedKey(date, rawKey string) string {
	return l.CleanedDir(date) + Filename(rawKey)
}

// ReportKey is {reports}{date}/daily_summary.json.
func (l Layout) ReportKey(date string) string {
	return l.ReportsDir(date) + ReportFilename
}

// SnapshotFilename is {asset}_{HH-MM}.json.
func SnapshotFilename(asset string, at time.Time) string {
	return fmt.Sprintf("%s_%s%s", asset, at.UTC().Format(minuteLayout), RecordSuffix)
}

// Filename returns the last "/" separated element of a key.
func Filename(key string) string {
	return path.Base(key)
}

// IsRecord reports whether a listed key is a record object.
func IsRecord(key string) bool {
	return strings.HasSuffix(key, RecordSuffix)
}

// ParseDate validates a partition date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid partition date %q: %w", date, err)
	}
	return t, nil
}

// CanonicalDate validates date and returns it in the form used inside keys.
func CanonicalDate(date string) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// Dates expands an inclusive date range into partition dates.
func Dates(from, to time.Time) []string {
	from = from.UTC().Truncate(24 * time.Hour)
	to = to.UTC().Truncate(24 * time.Hour)
	var out []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		out = append(out, d.Format(DateLayout))
	}
	return out
}
