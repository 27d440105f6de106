// Package history filters, sorts, groups and exports saved grading batches.
package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/smukkama/egg-grader/internal/grading"
)

const (
	dateKeyLayout = "2006-01-02"
	displayDate   = "Jan 2, 2006"
	displayTime   = "03:04:05 PM"
)

// Batch is a saved snapshot of load-cell readings.
type Batch struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
	Weights   []float64 `json:"weights"`
}

// Entry is a batch together with its display strings and statistics.
type Entry struct {
	Batch
	Date  string             `json:"date"`
	Time  string             `json:"time"`
	Stats grading.Statistics `json:"stats"`
}

// DateKey returns the UTC calendar date of the batch (YYYY-MM-DD).
func (b Batch) DateKey() string {
	return b.CreatedAt.UTC().Format(dateKeyLayout)
}

// NewEntry derives display strings in loc (UTC when nil) and recomputes the
// batch statistics.
func NewEntry(b Batch, loc *time.Location) Entry {
	if loc == nil {
		loc = time.UTC
	}
	local := b.CreatedAt.In(loc)
	return Entry{
		Batch: b,
		Date:  local.Format(displayDate),
		Time:  local.Format(displayTime),
		Stats: grading.Aggregate(b.Weights),
	}
}

// DateFilter restricts batches to a calendar window.
type DateFilter string

const (
	FilterAll   DateFilter = "all"
	FilterToday DateFilter = "today"
	FilterWeek  DateFilter = "week"
	FilterMonth DateFilter = "month"
)

// SortKey selects the metric batches are ordered by.
type SortKey string

const (
	SortTimestamp SortKey = "timestamp"
	SortEggs      SortKey = "eggs"
	SortErrorRate SortKey = "errorRate"
	SortAvgWeight SortKey = "avgWeight"
)

// ParseDateFilter validates a filter name. Empty means FilterAll.
func ParseDateFilter(s string) (DateFilter, error) {
	switch f := DateFilter(s); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterToday, FilterWeek, FilterMonth:
		return f, nil
	default:
		return "", fmt.Errorf("unknown date filter: %s", s)
	}
}

// ParseSortKey validates a sort key. Empty means SortTimestamp.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(s); k {
	case "":
		return SortTimestamp, nil
	case SortTimestamp, SortEggs, SortErrorRate, SortAvgWeight:
		return k, nil
	default:
		return "", fmt.Errorf("unknown sort key: %s", s)
	}
}

// Query describes a history listing.
type Query struct {
	DateFilter DateFilter
	Search     string
	SortKey    SortKey
	Ascending  bool

	// Now anchors the date filter. Zero means time.Now().
	Now time.Time
	// Location is used for the formatted date and time the search runs
	// against. Date filtering always uses UTC dates.
	Location *time.Location
}

// FilterAndSort returns the entries matching q in the requested order.
// Ties keep newest-first order. batches is not modified.
func FilterAndSort(batches []Batch, q Query) []Entry {
	now := q.Now
	if now.IsZero() {
		now = time.Now()
	}
	lowerBound, exact := dateBounds(q.DateFilter, now.UTC())
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	entries := make([]Entry, 0, len(batches))
	for _, b := range batches {
		key := b.DateKey()
		if exact != "" && key != exact {
			continue
		}
		if lowerBound != "" && key < lowerBound {
			continue
		}

		e := NewEntry(b, q.Location)
		if needle != "" && !matches(e, needle) {
			continue
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	key := q.SortKey
	if key == "" {
		key = SortTimestamp
	}
	sort.SliceStable(entries, func(i, j int) bool {
		c := compare(entries[i], entries[j], key)
		if q.Ascending {
			return c < 0
		}
		return c > 0
	})

	return entries
}

func dateBounds(f DateFilter, now time.Time) (lowerBound, exact string) {
	switch f {
	case FilterToday:
		return "", now.Format(dateKeyLayout)
	case FilterWeek:
		return now.AddDate(0, 0, -7).Format(dateKeyLayout), ""
	case FilterMonth:
		return now.AddDate(0, -1, 0).Format(dateKeyLayout), ""
	default:
		return "", ""
	}
}

func matches(e Entry, needle string) bool {
	return strings.Contains(strings.ToLower(e.Date), needle) ||
		strings.Contains(strings.ToLower(e.Time), needle) ||
		strings.Contains(strings.ToLower(e.ID), needle)
}

func compare(a, b Entry, key SortKey) int {
	var x, y float64
	switch key {
	case SortEggs:
		x, y = float64(a.Stats.TotalEggs), float64(b.Stats.TotalEggs)
	case SortErrorRate:
		x, y = a.Stats.ErrorRate, b.Stats.ErrorRate
	case SortAvgWeight:
		x, y = a.Stats.AvgWeight, b.Stats.AvgWeight
	default:
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Summary is the header block shown above a history listing.
type Summary struct {
	Batches       int     `json:"batches"`
	TotalEggs     int     `json:"total_eggs"`
	MeanErrorRate float64 `json:"mean_error_rate"`
}

// Summarize totals a listing. The mean error rate is the unweighted mean of
// per-batch rates.
func Summarize(entries []Entry) Summary {
	s := Summary{Batches: len(entries)}
	var rates float64
	for _, e := range entries {
		s.TotalEggs += e.Stats.TotalEggs
		rates += e.Stats.ErrorRate
	}
	if len(entries) > 0 {
		s.MeanErrorRate = rates / float64(len(entries))
	}
	return s
}
