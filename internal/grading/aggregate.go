package grading

// Statistics is the derived view of one snapshot or batch of readings.
type Statistics struct {
	TotalEggs   int              `json:"total_eggs"`
	SizeCounts  map[Category]int `json:"size_counts"`
	PeeweeCount int              `json:"peewee_count"`
	ErrorCount  int              `json:"error_count"`
	EmptyCount  int              `json:"empty_count"`
	ErrorRate   float64          `json:"error_rate"`
	AvgWeight   float64          `json:"avg_weight"`
	Status      Status           `json:"status"`
	StatusColor string           `json:"status_color"`
	Trend       *Trend           `json:"trend,omitempty"`
}

// Trend holds signed deltas against a prior period.
type Trend struct {
	EggTrend   int     `json:"egg_trend"`
	ErrorTrend float64 `json:"error_trend"`
}

// PeriodSummary is the part of a prior period's statistics needed to
// compute a trend.
type PeriodSummary struct {
	TotalEggs int     `json:"total_eggs"`
	ErrorRate float64 `json:"error_rate"`
}

// Aggregate computes batch statistics over readings. Empty slots (<5g) are
// ignored; overweight readings count as eggs and as errors.
func Aggregate(readings []float64) Statistics {
	stats := Statistics{SizeCounts: make(map[Category]int, len(sizeTable))}
	for _, c := range Sizes() {
		stats.SizeCounts[c] = 0
	}

	var sum float64
	for _, w := range readings {
		c := Classify(w)
		switch {
		case c == CategoryEmpty:
			stats.EmptyCount++
			continue
		case c == CategoryOverweight:
			stats.ErrorCount++
		default:
			stats.SizeCounts[c]++
			if c == CategoryPeewee {
				stats.PeeweeCount++
			}
		}
		stats.TotalEggs++
		sum += w
	}

	if stats.TotalEggs > 0 {
		stats.ErrorRate = float64(stats.ErrorCount) / float64(stats.TotalEggs) * 100
		stats.AvgWeight = sum / float64(stats.TotalEggs)
	}
	stats.Status = ClassifyStability(stats.ErrorRate)
	stats.StatusColor = stats.Status.Color()
	return stats
}

// AggregateWithTrend is Aggregate plus deltas against prior. Deltas are not
// clamped.
func AggregateWithTrend(readings []float64, prior PeriodSummary) Statistics {
	stats := Aggregate(readings)
	stats.Trend = &Trend{
		EggTrend:   stats.TotalEggs - prior.TotalEggs,
		ErrorTrend: stats.ErrorRate - prior.ErrorRate,
	}
	return stats
}

// StandardCount is the number of marketable eggs (S through Jumbo).
func (s Statistics) StandardCount() int {
	n := 0
	for c, count := range s.SizeCounts {
		if c.IsStandard() {
			n += count
		}
	}
	return n
}
