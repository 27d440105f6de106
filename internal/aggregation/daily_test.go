package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smukkama/egg-grader/internal/grading"
	"github.com/smukkama/egg-grader/internal/history"
)

type fakeBatches struct {
	batches  []history.Batch
	from, to time.Time
}

func (f *fakeBatches) ListBatchesBetween(ctx context.Context, from, to time.Time) ([]history.Batch, error) {
	f.from, f.to = from, to
	var out []history.Batch
	for _, b := range f.batches {
		if !b.CreatedAt.Before(from) && b.CreatedAt.Before(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

type fakeSummaries struct {
	saved []DailySummary
}

func (f *fakeSummaries) UpsertDailySummary(ctx context.Context, s DailySummary) error {
	f.saved = append(f.saved, s)
	return nil
}

type fakeSheet struct {
	rows [][]interface{}
	err  error
}

func (f *fakeSheet) WriteRow(ctx context.Context, sheetRange string, values []interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, values)
	return nil
}

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func TestSummarize_GroupsByDevice(t *testing.T) {
	batches := []history.Batch{
		{ID: "b1", DeviceID: "grader-02", CreatedAt: at(14, 9), Weights: []float64{52, 0, 0}},
		{ID: "b2", DeviceID: "grader-01", CreatedAt: at(14, 10), Weights: []float64{3, 5, 52, 500}},
		{ID: "b3", DeviceID: "grader-01", CreatedAt: at(14, 11), Weights: []float64{70}},
	}

	summaries := Summarize("2026-03-14", batches, at(15, 0))
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(summaries))
	}

	s := summaries[0]
	if s.DeviceID != "grader-01" || s.Batches != 2 {
		t.Errorf("Unexpected first summary: %+v", s)
	}
	if s.TotalEggs != 4 || s.ErrorCount != 1 || s.ErrorRate != 25 || s.Status != grading.StatusCritical {
		t.Errorf("Unexpected statistics: %+v", s)
	}
	if s.AvgWeight != 156.75 {
		t.Errorf("Expected avg 156.75, got %v", s.AvgWeight)
	}
	if summaries[1].DeviceID != "grader-02" || summaries[1].TotalEggs != 1 {
		t.Errorf("Unexpected second summary: %+v", summaries[1])
	}
}

func TestDailyAggregator_PreviousDay(t *testing.T) {
	source := &fakeBatches{batches: []history.Batch{
		{ID: "late", DeviceID: "grader-01", CreatedAt: at(14, 23), Weights: []float64{55}},
		{ID: "today", DeviceID: "grader-01", CreatedAt: at(15, 0), Weights: []float64{600}},
		{ID: "early", DeviceID: "grader-01", CreatedAt: at(14, 0), Weights: []float64{30}},
	}}
	store := &fakeSummaries{}
	sheet := &fakeSheet{}

	agg := NewDailyAggregator(source, store, sheet, "Daily!A:N", nil)
	agg.now = func() time.Time { return time.Date(2026, 3, 15, 0, 5, 0, 0, time.UTC) }

	summaries, err := agg.AggregatePreviousDay(context.Background())
	if err != nil {
		t.Fatalf("AggregatePreviousDay failed: %v", err)
	}

	if !source.from.Equal(at(14, 0)) || !source.to.Equal(at(15, 0)) {
		t.Errorf("Unexpected window %s - %s", source.from, source.to)
	}
	if len(summaries) != 1 || summaries[0].Date != "2026-03-14" || summaries[0].TotalEggs != 2 {
		t.Fatalf("Unexpected summaries: %+v", summaries)
	}
	if summaries[0].ErrorCount != 0 || summaries[0].PeeweeCount != 1 {
		t.Errorf("Batch from the next day leaked into the summary: %+v", summaries[0])
	}
	if len(store.saved) != 1 {
		t.Errorf("Expected 1 stored summary, got %d", len(store.saved))
	}
	if len(sheet.rows) != 1 || sheet.rows[0][0] != "2026-03-14" {
		t.Errorf("Unexpected sheet rows: %v", sheet.rows)
	}
}

func TestDailyAggregator_SheetFailureIsNotFatal(t *testing.T) {
	source := &fakeBatches{batches: []history.Batch{
		{ID: "b1", DeviceID: "grader-01", CreatedAt: at(14, 12), Weights: []float64{55}},
	}}
	store := &fakeSummaries{}

	agg := NewDailyAggregator(source, store, &fakeSheet{err: errors.New("quota")}, "Daily!A:N", nil)
	if _, err := agg.Aggregate(context.Background(), at(14, 12)); err != nil {
		t.Fatalf("Expected sheet failure to be ignored, got %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("Expected summary to be stored, got %d", len(store.saved))
	}
}

func TestSheetRow(t *testing.T) {
	s := Summarize("2026-03-14", []history.Batch{
		{DeviceID: "grader-01", Weights: []float64{30, 52, 57, 62, 66, 70, 600}},
	}, time.Time{})[0]

	row := SheetRow(s)
	if len(row) != 14 {
		t.Fatalf("Expected 14 columns, got %d", len(row))
	}
	if row[4] != "133.9" || row[5] != "14.3" || row[6] != "Moderate" {
		t.Errorf("Unexpected formatted columns: %v", row[4:7])
	}
	for i, want := range []int{1, 1, 1, 1, 1, 1, 1} {
		if row[7+i] != want {
			t.Errorf("column %d: expected %d, got %v", 7+i, want, row[7+i])
		}
	}
}

func TestPreviousDate(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	if got := PreviousDate(time.Date(2026, 3, 15, 5, 0, 0, 0, tokyo)); got != "2026-03-13" {
		t.Errorf("Expected UTC-based previous date 2026-03-13, got %s", got)
	}
}
