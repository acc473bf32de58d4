package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/storage"
)

// Fields every raw snapshot must carry to be cleaned.
const (
	FieldAsset           = "asset"
	FieldTimestamp       = "timestamp_utc"
	FieldPricePerUnit    = "derived_price_per_unit"
	FieldPricePer10Units = "derived_price_per_10_units"
	FieldProvider        = "provider"
)

var requiredRawFields = []string{
	FieldAsset,
	FieldTimestamp,
	FieldPricePerUnit,
	FieldPricePer10Units,
	FieldProvider,
}

// NormalizeOptions controls how bad raw records are handled.
type NormalizeOptions struct {
	// Strict aborts the run on the first bad record instead of skipping it.
	Strict bool
}

// Normalizer validates one raw partition into the matching cleaned partition.
type Normalizer struct {
	store  storage.BlobStore
	layout partition.Layout
	opts   NormalizeOptions
	logger zerolog.Logger
}

// NewNormalizer wires a normalizer.
func NewNormalizer(store storage.BlobStore, layout partition.Layout, opts NormalizeOptions, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		store:  store,
		layout: layout,
		opts:   opts,
		logger: logger.With().Str("component", "normalize").Logger(),
	}
}

// Run cleans every record under the raw partition for date.
// An empty partition yields NO_DATA and writes nothing.
func (n *Normalizer) Run(ctx context.Context, date string) (NormalizeResult, error) {
	date, err := partition.CanonicalDate(date)
	if err != nil {
		return NormalizeResult{}, err
	}

	prefix := n.layout.RawDir(date)
	logger := n.logger.With().Str("date", date).Str("prefix", prefix).Logger()

	keys, err := n.store.List(ctx, prefix)
	if err != nil {
		logger.Error().Err(err).Msg("列出原始数据失败")
		return NormalizeResult{}, fmt.Errorf("list %s: %w", prefix, err)
	}

	result := NormalizeResult{Status: StatusSuccess, Date: date}
	if len(keys) == 0 {
		logger.Info().Msg("no raw data for date")
		result.Status = StatusNoData
		return result, nil
	}

	for _, key := range keys {
		if !partition.IsRecord(key) {
			result.IgnoredFiles++
			continue
		}

		body, err := n.store.Get(ctx, key)
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("读取原始数据失败")
			return result, fmt.Errorf("read %s: %w", key, err)
		}

		cleaned, err := CleanRecord(key, body)
		if err != nil {
			if n.opts.Strict {
				logger.Error().Err(err).Str("key", key).Msg("record rejected, aborting")
				return result, err
			}
			logger.Warn().Err(err).Str("key", key).Msg("record skipped")
			result.SkippedFiles++
			result.Skipped = append(result.Skipped, key)
			continue
		}

		out, err := json.Marshal(cleaned)
		if err != nil {
			return result, fmt.Errorf("encode cleaned %s: %w", key, err)
		}
		target := n.layout.CleanedKey(date, key)
		if err := n.store.Put(ctx, target, out, storage.ContentTypeJSON); err != nil {
			logger.Error().Err(err).Str("key", target).Msg("写入清洗数据失败")
			return result, fmt.Errorf("write %s: %w", target, err)
		}
		result.ProcessedFiles++
	}

	logger.Info().
		Int("processed", result.ProcessedFiles).
		Int("skipped", result.SkippedFiles).
		Int("ignored", result.IgnoredFiles).
		Msg("normalization complete")
	return result, nil
}

// CleanRecord validates one raw record body and projects it onto a CleanedRecord.
func CleanRecord(key string, body []byte) (CleanedRecord, error) {
	fields, err := decodeFields(key, body)
	if err != nil {
		return CleanedRecord{}, err
	}
	for _, name := range requiredRawFields {
		if err := requireField(key, fields, name); err != nil {
			return CleanedRecord{}, err
		}
	}

	var rec CleanedRecord
	if err := decodeString(key, fields, FieldAsset, &rec.Asset); err != nil {
		return CleanedRecord{}, err
	}
	if err := decodeString(key, fields, FieldProvider, &rec.Provider); err != nil {
		return CleanedRecord{}, err
	}
	if err := decodeString(key, fields, FieldTimestamp, &rec.TimestampUTC); err != nil {
		return CleanedRecord{}, err
	}
	if _, err := time.Parse(partition.TimestampLayout, rec.TimestampUTC); err != nil {
		return CleanedRecord{}, &InvalidRecordError{Key: key, Reason: "bad " + FieldTimestamp, Err: err}
	}
	if rec.PricePerUnit, err = decodePrice(key, fields, FieldPricePerUnit); err != nil {
		return CleanedRecord{}, err
	}
	if rec.PricePer10Units, err = decodePrice(key, fields, FieldPricePer10Units); err != nil {
		return CleanedRecord{}, err
	}

	rec.QualityCheck = QualityPass
	return rec, nil
}

func decodeFields(key string, body []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &InvalidRecordError{Key: key, Reason: "malformed json", Err: err}
	}
	if fields == nil {
		return nil, &InvalidRecordError{Key: key, Reason: "record is not an object"}
	}
	return fields, nil
}

// requireField treats absent, null and empty-string values alike.
func requireField(key string, fields map[string]json.RawMessage, name string) error {
	raw, ok := fields[name]
	if !ok {
		return &MissingFieldError{Key: key, Field: name}
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return &MissingFieldError{Key: key, Field: name}
	}
	return nil
}

func decodeString(key string, fields map[string]json.RawMessage, name string, dst *string) error {
	if err := json.Unmarshal(fields[name], dst); err != nil {
		return &InvalidRecordError{Key: key, Reason: name + " is not a string", Err: err}
	}
	return nil
}

func decodePrice(key string, fields map[string]json.RawMessage, name string) (Amount, error) {
	var a Amount
	if err := json.Unmarshal(fields[name], &a); err != nil {
		return Amount{}, &InvalidRecordError{Key: key, Reason: name + " is not a decimal", Err: err}
	}
	if !a.IsPositive() {
		return Amount{}, &InvalidRecordError{Key: key, Reason: fmt.Sprintf("%s must be positive, got %s", name, a.String())}
	}
	return a, nil
}
