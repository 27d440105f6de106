package grading

import (
	"math"
	"reflect"
	"testing"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		weight float64
		want   Category
	}{
		{0, CategoryEmpty},
		{4.9, CategoryEmpty},
		{-3, CategoryEmpty},
		{math.NaN(), CategoryEmpty},
		{5, CategoryPeewee},
		{49, CategoryPeewee},
		{49.5, CategoryPeewee},
		{50, CategorySmall},
		{54, CategorySmall},
		{54.99, CategorySmall},
		{55, CategoryMedium},
		{60, CategoryMedium},
		{61, CategoryLarge},
		{64, CategoryLarge},
		{65, CategoryExtraLarge},
		{68, CategoryExtraLarge},
		{69, CategoryJumbo},
		{499, CategoryJumbo},
		{499.9, CategoryJumbo},
		{500, CategoryOverweight},
		{10000, CategoryOverweight},
	}

	for _, tt := range tests {
		if got := Classify(tt.weight); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.weight, got, tt.want)
		}
	}
}

func TestClassify_PartitionsDomain(t *testing.T) {
	seen := make(map[Category]bool)
	for w := 0.0; w < 600; w += 0.25 {
		c := Classify(w)
		if c == "" {
			t.Fatalf("Classify(%v) returned no category", w)
		}
		seen[c] = true

		inRanges := 0
		if w < EmptyBelow {
			inRanges++
		}
		if w >= OverweightFrom {
			inRanges++
		}
		if c.IsSize() {
			inRanges++
		}
		if inRanges != 1 {
			t.Fatalf("Classify(%v) = %s matched %d partitions", w, c, inRanges)
		}
	}

	if len(seen) != 8 {
		t.Errorf("Expected all 8 categories to be reachable, got %d", len(seen))
	}
}

func TestClassify_TableOrderIsAscending(t *testing.T) {
	table := sizeTable
	for i := 1; i < len(table); i++ {
		if table[i].Min != table[i-1].Max+1 {
			t.Errorf("Gap between %s and %s", table[i-1].Category, table[i].Category)
		}
	}
	if table[0].Min != EmptyBelow {
		t.Errorf("First size should start at %v, got %v", EmptyBelow, table[0].Min)
	}
	if table[len(table)-1].Max != OverweightFrom-1 {
		t.Errorf("Last size should end at %v, got %v", OverweightFrom-1, table[len(table)-1].Max)
	}
}

func TestCategoryPredicates(t *testing.T) {
	if !CategoryPeewee.IsWarning() || CategoryPeewee.IsStandard() {
		t.Error("Peewee should be a warning and not a standard size")
	}
	if !CategoryJumbo.IsStandard() {
		t.Error("Jumbo should be a standard size")
	}
	if !CategoryOverweight.IsError() || CategoryOverweight.IsSize() || !CategoryOverweight.IsEgg() {
		t.Error("Overweight should be an egg and an error but not a size")
	}
	if CategoryEmpty.IsEgg() {
		t.Error("Empty should not be an egg")
	}
}

func TestClassifyStability(t *testing.T) {
	tests := []struct {
		rate float64
		want Status
	}{
		{0, StatusStable},
		{10, StatusStable},
		{10.01, StatusModerate},
		{15, StatusModerate},
		{15.01, StatusCritical},
		{100, StatusCritical},
	}

	for _, tt := range tests {
		if got := ClassifyStability(tt.rate); got != tt.want {
			t.Errorf("ClassifyStability(%v) = %s, want %s", tt.rate, got, tt.want)
		}
	}

	if StatusCritical.Color() != "#F44336" || StatusStable.Color() != "#4CAF50" || StatusModerate.Color() != "#FFC107" {
		t.Error("Unexpected status colours")
	}
}

func TestAggregate_Empty(t *testing.T) {
	stats := Aggregate(nil)

	if stats.TotalEggs != 0 || stats.AvgWeight != 0 || stats.ErrorRate != 0 {
		t.Errorf("Expected zero stats, got %+v", stats)
	}
	if stats.Status != StatusStable {
		t.Errorf("Expected Stable, got %s", stats.Status)
	}
	if len(stats.SizeCounts) != 6 {
		t.Errorf("Expected 6 zero-initialised buckets, got %d", len(stats.SizeCounts))
	}
}

func TestAggregate_MixedScenario(t *testing.T) {
	stats := Aggregate([]float64{3, 5, 52, 500, 70})

	if stats.EmptyCount != 1 {
		t.Errorf("Expected 1 empty slot, got %d", stats.EmptyCount)
	}
	if stats.TotalEggs != 4 {
		t.Errorf("Expected 4 eggs, got %d", stats.TotalEggs)
	}
	want := map[Category]int{
		CategoryPeewee: 1, CategorySmall: 1, CategoryMedium: 0,
		CategoryLarge: 0, CategoryExtraLarge: 0, CategoryJumbo: 1,
	}
	if !reflect.DeepEqual(stats.SizeCounts, want) {
		t.Errorf("Unexpected size counts: %v", stats.SizeCounts)
	}
	if stats.ErrorCount != 1 {
		t.Errorf("Expected 1 error, got %d", stats.ErrorCount)
	}
	if stats.ErrorRate != 25 {
		t.Errorf("Expected 25%% error rate, got %v", stats.ErrorRate)
	}
	if stats.AvgWeight != 156.75 {
		t.Errorf("Expected avg 156.75, got %v", stats.AvgWeight)
	}
	if stats.Status != StatusCritical || stats.StatusColor != "#F44336" {
		t.Errorf("Expected Critical, got %s (%s)", stats.Status, stats.StatusColor)
	}
}

func TestAggregate_AllStandard(t *testing.T) {
	stats := Aggregate([]float64{55, 56, 60})

	if stats.TotalEggs != 3 {
		t.Errorf("Expected 3 eggs, got %d", stats.TotalEggs)
	}
	if stats.SizeCounts[CategoryMedium] != 3 {
		t.Errorf("Expected 3 medium eggs, got %d", stats.SizeCounts[CategoryMedium])
	}
	if stats.ErrorRate != 0 || stats.Status != StatusStable {
		t.Errorf("Expected 0%% Stable, got %v %s", stats.ErrorRate, stats.Status)
	}
}

func TestAggregate_CountInvariant(t *testing.T) {
	inputs := [][]float64{
		{},
		{0, 0, 0},
		{5, 49, 50, 54, 55, 60, 61, 64, 65, 68, 69, 499, 500, 501},
		{4.99, 12.5, 57.3, 900, 1200, 66.6, 0},
	}

	for _, readings := range inputs {
		stats := Aggregate(readings)
		got := stats.PeeweeCount + stats.StandardCount() + stats.ErrorCount
		if got != stats.TotalEggs {
			t.Errorf("%v: peewee+standard+errors = %d, total = %d", readings, got, stats.TotalEggs)
		}
		if stats.TotalEggs+stats.EmptyCount != len(readings) {
			t.Errorf("%v: eggs+empty = %d, readings = %d", readings, stats.TotalEggs+stats.EmptyCount, len(readings))
		}
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	readings := []float64{12.25, 58.1, 63.7, 520, 3, 71.4}

	first := Aggregate(readings)
	second := Aggregate(readings)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Aggregate is not deterministic: %+v vs %+v", first, second)
	}
	if readings[0] != 12.25 || readings[3] != 520 {
		t.Error("Aggregate mutated its input")
	}
}

func TestAggregateWithTrend(t *testing.T) {
	stats := AggregateWithTrend([]float64{55, 56, 600, 0}, PeriodSummary{TotalEggs: 5, ErrorRate: 40})

	if stats.Trend == nil {
		t.Fatal("Expected trend to be set")
	}
	if stats.Trend.EggTrend != -2 {
		t.Errorf("Expected egg trend -2, got %d", stats.Trend.EggTrend)
	}
	wantErr := stats.ErrorRate - 40
	if stats.Trend.ErrorTrend != wantErr {
		t.Errorf("Expected error trend %v, got %v", wantErr, stats.Trend.ErrorTrend)
	}
	if Aggregate([]float64{55}).Trend != nil {
		t.Error("Plain Aggregate should not set a trend")
	}
}
