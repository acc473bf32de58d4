package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bullion-pipeline/internal/partition"
	"bullion-pipeline/internal/pipeline"
)

// ExportResult describes what Export wrote.
type ExportResult struct {
	Date     string `json:"date"`
	Total    int    `json:"total"`
	Exported int    `json:"exported"`
	CSVPath  string `json:"csv_path,omitempty"`
	PNGPath  string `json:"png_path,omitempty"`
}

// Export renders one day's cleaned series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) (ExportResult, error) {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return ExportResult{}, errors.New("at least one of --csv or --png must be provided")
	}

	date, err := a.Config.ResolveDate(opts.Date)
	if err != nil {
		return ExportResult{}, err
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	defer closeStore()

	records, err := pipeline.LoadCleaned(ctx, store, a.Config.Storage.Layout(), date)
	if err != nil {
		return ExportResult{}, err
	}
	out := ExportResult{Date: date, Total: len(records)}
	if len(records) == 0 {
		a.Logger.Info().Str("date", date).Msg("no cleaned records found for export")
		return out, nil
	}

	points, err := toPoints(records)
	if err != nil {
		return out, err
	}
	downsampled := downsamplePoints(points, opts.MaxPoints)
	out.Exported = len(downsampled)
	a.Logger.Info().Int("total", len(points)).Int("exported", len(downsampled)).Msg("exporting cleaned series")

	if opts.CSVPath != "" {
		if err := writePointsCSV(opts.CSVPath, downsampled); err != nil {
			return out, err
		}
		out.CSVPath = opts.CSVPath
	}

	if opts.PNGPath != "" {
		title := fmt.Sprintf("%s %s", a.Config.Pipeline.Asset, date)
		if err := writePointsPNG(opts.PNGPath, title, downsampled); err != nil {
			return out, err
		}
		out.PNGPath = opts.PNGPath
	}

	return out, nil
}

type point struct {
	at     time.Time
	record pipeline.CleanedRecord
}

// toPoints parses timestamps and orders records by them.
func toPoints(records []pipeline.CleanedRecord) ([]point, error) {
	points := make([]point, 0, len(records))
	for _, rec := range records {
		at, err := time.Parse(partition.TimestampLayout, rec.TimestampUTC)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", rec.TimestampUTC, err)
		}
		points = append(points, point{at: at, record: rec})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].at.Before(points[j].at)
	})
	return points, nil
}

func downsamplePoints(points []point, max int) []point {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]point, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}

func writePointsCSV(path string, points []point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp_utc", "asset", "price_per_unit", "price_per_10_units", "provider", "quality_check"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range points {
		rec := p.record
		row := []string{
			rec.TimestampUTC,
			rec.Asset,
			rec.PricePerUnit.String(),
			rec.PricePer10Units.String(),
			rec.Provider,
			string(rec.QualityCheck),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writePointsPNG(path, title string, points []point) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(points))
	per10 := make([]float64, len(points))
	for i, p := range points {
		x[i] = p.at
		per10[i] = p.record.PricePer10Units.InexactFloat64()
	}
	if len(points) == 1 {
		// go-chart needs two points to establish a range
		x = append(x, x[0].Add(time.Minute))
		per10 = append(per10, per10[0])
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price per 10 g",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Per 10 g",
				XValues: x,
				YValues: per10,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
