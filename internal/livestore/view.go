package livestore

import (
	"fmt"
	"time"

	"github.com/smukkama/egg-grader/internal/grading"
)

// SlotFilter narrows the slots included in a View.
type SlotFilter string

const (
	SlotsAll    SlotFilter = "all"
	SlotsActive SlotFilter = "active"
	SlotsErrors SlotFilter = "errors"
	SlotsEmpty  SlotFilter = "empty"
)

// ParseSlotFilter validates a filter name. Empty means SlotsAll.
func ParseSlotFilter(s string) (SlotFilter, error) {
	switch f := SlotFilter(s); f {
	case "":
		return SlotsAll, nil
	case SlotsAll, SlotsActive, SlotsErrors, SlotsEmpty:
		return f, nil
	default:
		return "", fmt.Errorf("unknown slot filter %q", s)
	}
}

func (f SlotFilter) keep(c grading.Category) bool {
	switch f {
	case SlotsActive:
		return c.IsEgg()
	case SlotsErrors:
		return c.IsError()
	case SlotsEmpty:
		return c == grading.CategoryEmpty
	default:
		return true
	}
}

// SlotView is one load cell as shown on a dashboard. Index is zero-based;
// Row and Slot are one-based positions on the tray.
type SlotView struct {
	Index    int              `json:"index"`
	Row      int              `json:"row"`
	Slot     int              `json:"slot"`
	Weight   float64          `json:"weight"`
	Category grading.Category `json:"category"`
}

// View is a snapshot rendered for clients.
type View struct {
	DeviceID  string             `json:"device_id"`
	Timestamp time.Time          `json:"timestamp"`
	UpdatedAt time.Time          `json:"updated_at"`
	Filter    SlotFilter         `json:"filter"`
	Slots     []SlotView         `json:"slots"`
	Stats     grading.Statistics `json:"stats"`
}

// BuildView classifies every slot of snap. Statistics always cover all slots;
// the filter only affects which slot views are listed. When prior is non-nil
// the statistics carry a trend against it.
func BuildView(snap *Snapshot, slotsPerRow int, filter SlotFilter, prior *grading.PeriodSummary) View {
	if slotsPerRow <= 0 {
		slotsPerRow = len(snap.Weights)
		if slotsPerRow == 0 {
			slotsPerRow = 1
		}
	}

	v := View{
		DeviceID:  snap.DeviceID,
		Timestamp: snap.Timestamp,
		UpdatedAt: snap.UpdatedAt,
		Filter:    filter,
		Slots:     []SlotView{},
	}
	for i, w := range snap.Weights {
		c := grading.Classify(w)
		if !filter.keep(c) {
			continue
		}
		v.Slots = append(v.Slots, SlotView{
			Index:    i,
			Row:      i/slotsPerRow + 1,
			Slot:     i%slotsPerRow + 1,
			Weight:   w,
			Category: c,
		})
	}

	if prior != nil {
		v.Stats = grading.AggregateWithTrend(snap.Weights, *prior)
	} else {
		v.Stats = grading.Aggregate(snap.Weights)
	}
	return v
}
