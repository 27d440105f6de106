package history

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/smukkama/egg-grader/internal/grading"
)

var csvHeader = []string{
	"Batch ID", "Date", "Time", "Total Eggs", "Average Weight (g)", "Peewee",
	"Errors", "Error Rate (%)", "Status",
	"Peewee", "S", "M", "L", "XL", "Jumbo", "Overweight (>=500g)",
}

// WriteCSV writes one row per entry, in order, after a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, e := range entries {
		s := e.Stats
		row := []string{
			e.ID,
			e.Date,
			e.Time,
			strconv.Itoa(s.TotalEggs),
			strconv.FormatFloat(s.AvgWeight, 'f', 1, 64),
			strconv.Itoa(s.PeeweeCount),
			strconv.Itoa(s.ErrorCount),
			strconv.FormatFloat(s.ErrorRate, 'f', 1, 64),
			string(s.Status),
		}
		for _, c := range grading.Sizes() {
			row = append(row, strconv.Itoa(s.SizeCounts[c]))
		}
		row = append(row, strconv.Itoa(s.ErrorCount))

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
