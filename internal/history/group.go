package history

import "sort"

// DateGroup holds the entries saved on one UTC calendar date.
type DateGroup struct {
	Date    string  `json:"date"`
	Entries []Entry `json:"entries"`
}

// GroupByDate buckets entries by UTC date, newest date first. Entries keep
// the order they had in the input.
func GroupByDate(entries []Entry) []DateGroup {
	index := make(map[string]int)
	var groups []DateGroup

	for _, e := range entries {
		key := e.DateKey()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DateGroup{Date: key})
		}
		groups[i].Entries = append(groups[i].Entries, e)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Date > groups[j].Date
	})
	return groups
}
