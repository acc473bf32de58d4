package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/storage"
)

// LoadReport reads the stored report for date. A missing report wraps storage.ErrNotFound.
func LoadReport(ctx context.Context, store storage.BlobStore, layout partition.Layout, date string) (DailyReport, error) {
	key := layout.ReportKey(date)
	body, err := store.Get(ctx, key)
	if err != nil {
		return DailyReport{}, fmt.Errorf("read %s: %w", key, err)
	}
	var report DailyReport
	if err := json.Unmarshal(body, &report); err != nil {
		return DailyReport{}, &InvalidRecordError{Key: key, Reason: "malformed report", Err: err}
	}
	return report, nil
}

// LoadCleaned reads every cleaned record for date in key order.
func LoadCleaned(ctx context.Context, store storage.BlobStore, layout partition.Layout, date string) ([]CleanedRecord, error) {
	prefix := layout.CleanedDir(date)
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}

	records := make([]CleanedRecord, 0, len(keys))
	for _, key := range keys {
		if !partition.IsRecord(key) {
			continue
		}
		body, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var rec CleanedRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, &InvalidRecordError{Key: key, Reason: "malformed cleaned record", Err: err}
		}
		records = append(records, rec)
	}
	return records, nil
}
