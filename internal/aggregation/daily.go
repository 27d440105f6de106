// Package aggregation rolls saved batches up into per-device daily summaries.
package aggregation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/grading"
	"github.com/smukkama/egg-grader/internal/history"
)

const dateLayout = "2006-01-02"

// DailySummary is the statistics of every batch a device saved on one UTC day.
type DailySummary struct {
	DeviceID    string                   `json:"device_id" bson:"device_id"`
	Date        string                   `json:"date" bson:"date"`
	Batches     int                      `json:"batches" bson:"batches"`
	TotalEggs   int                      `json:"total_eggs" bson:"total_eggs"`
	SizeCounts  map[grading.Category]int `json:"size_counts" bson:"size_counts"`
	PeeweeCount int                      `json:"peewee_count" bson:"peewee_count"`
	ErrorCount  int                      `json:"error_count" bson:"error_count"`
	ErrorRate   float64                  `json:"error_rate" bson:"error_rate"`
	AvgWeight   float64                  `json:"avg_weight" bson:"avg_weight"`
	Status      grading.Status           `json:"status" bson:"status"`
	GeneratedAt time.Time                `json:"generated_at" bson:"generated_at"`
}

// Period returns what a later day needs to compute its trend.
func (s DailySummary) Period() grading.PeriodSummary {
	return grading.PeriodSummary{TotalEggs: s.TotalEggs, ErrorRate: s.ErrorRate}
}

// BatchSource lists saved batches by creation time.
type BatchSource interface {
	ListBatchesBetween(ctx context.Context, from, to time.Time) ([]history.Batch, error)
}

// SummaryStore persists daily summaries, replacing any earlier run for the
// same device and date.
type SummaryStore interface {
	UpsertDailySummary(ctx context.Context, s DailySummary) error
}

// RowWriter appends a row to a report spreadsheet.
type RowWriter interface {
	WriteRow(ctx context.Context, sheetRange string, values []interface{}) error
}

// Summarize groups batches by device and aggregates the readings of each
// group as one population. Results are ordered by device ID.
func Summarize(date string, batches []history.Batch, generatedAt time.Time) []DailySummary {
	byDevice := make(map[string][]history.Batch)
	for _, b := range batches {
		byDevice[b.DeviceID] = append(byDevice[b.DeviceID], b)
	}

	devices := make([]string, 0, len(byDevice))
	for d := range byDevice {
		devices = append(devices, d)
	}
	sort.Strings(devices)

	summaries := make([]DailySummary, 0, len(devices))
	for _, d := range devices {
		var readings []float64
		for _, b := range byDevice[d] {
			readings = append(readings, b.Weights...)
		}
		stats := grading.Aggregate(readings)
		summaries = append(summaries, DailySummary{
			DeviceID:    d,
			Date:        date,
			Batches:     len(byDevice[d]),
			TotalEggs:   stats.TotalEggs,
			SizeCounts:  stats.SizeCounts,
			PeeweeCount: stats.PeeweeCount,
			ErrorCount:  stats.ErrorCount,
			ErrorRate:   stats.ErrorRate,
			AvgWeight:   stats.AvgWeight,
			Status:      stats.Status,
			GeneratedAt: generatedAt,
		})
	}
	return summaries
}

// SheetRow lays a summary out as a spreadsheet row.
func SheetRow(s DailySummary) []interface{} {
	row := []interface{}{
		s.Date,
		s.DeviceID,
		s.Batches,
		s.TotalEggs,
		fmt.Sprintf("%.1f", s.AvgWeight),
		fmt.Sprintf("%.1f", s.ErrorRate),
		string(s.Status),
	}
	for _, c := range grading.Sizes() {
		row = append(row, s.SizeCounts[c])
	}
	return append(row, s.ErrorCount)
}

// DailyAggregator performs daily aggregation
type DailyAggregator struct {
	batches    BatchSource
	store      SummaryStore
	sheet      RowWriter
	sheetRange string
	log        *zap.Logger
	now        func() time.Time
}

// NewDailyAggregator creates a new daily aggregator. sheet may be nil.
func NewDailyAggregator(batches BatchSource, store SummaryStore, sheet RowWriter, sheetRange string, log *zap.Logger) *DailyAggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyAggregator{
		batches:    batches,
		store:      store,
		sheet:      sheet,
		sheetRange: sheetRange,
		log:        log,
		now:        time.Now,
	}
}

// Aggregate summarises the UTC calendar day containing targetDate
func (d *DailyAggregator) Aggregate(ctx context.Context, targetDate time.Time) ([]DailySummary, error) {
	t := targetDate.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	date := start.Format(dateLayout)

	d.log.Info("running daily aggregation", zap.String("date", date))

	batches, err := d.batches.ListBatchesBetween(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches for %s: %w", date, err)
	}

	summaries := Summarize(date, batches, d.now().UTC())
	for _, s := range summaries {
		if err := d.store.UpsertDailySummary(ctx, s); err != nil {
			return nil, fmt.Errorf("failed to store summary for %s on %s: %w", s.DeviceID, date, err)
		}
		if d.sheet != nil {
			if err := d.sheet.WriteRow(ctx, d.sheetRange, SheetRow(s)); err != nil {
				// the spreadsheet is a convenience copy
				d.log.Warn("failed to export summary row", zap.String("device_id", s.DeviceID), zap.Error(err))
			}
		}
	}

	d.log.Info("daily aggregation completed",
		zap.String("date", date),
		zap.Int("batches", len(batches)),
		zap.Int("devices", len(summaries)))
	return summaries, nil
}

// AggregatePreviousDay summarises yesterday (UTC)
func (d *DailyAggregator) AggregatePreviousDay(ctx context.Context) ([]DailySummary, error) {
	return d.Aggregate(ctx, d.now().UTC().AddDate(0, 0, -1))
}

// PreviousDate returns the UTC date string of the day before t.
func PreviousDate(t time.Time) string {
	return t.UTC().AddDate(0, 0, -1).Format(dateLayout)
}
