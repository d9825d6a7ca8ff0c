package trend

import (
	"sort"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

// Label is the coarse trend direction derived from a count.
type Label string

const (
	Rising  Label = "rising"
	Flat    Label = "flat"
	Falling Label = "falling"
)

// Symbol returns a short arrow for terminal and chat output.
func (l Label) Symbol() string {
	switch l {
	case Rising:
		return "↑"
	case Flat:
		return "→"
	default:
		return "↓"
	}
}

// Row is one line of a ranking. Rank starts at 1.
type Row struct {
	Rank    int    `json:"rank" db:"rank"`
	Symptom string `json:"symptom" db:"symptom"`
	Count   int    `json:"count" db:"count"`
	Trend   Label  `json:"trend" db:"trend"`
}

// Classify maps a count to a label: above Rising is rising, above Flat is
// flat, anything else falling.
func Classify(count int, th taxonomy.Thresholds) Label {
	switch {
	case count > th.Rising:
		return Rising
	case count > th.Flat:
		return Flat
	default:
		return Falling
	}
}

// Rank orders counts by descending count. Ties keep the position in order;
// names absent from order come after every declared name, sorted by name.
// Every name in order appears in the result even with a zero count.
func Rank(counts map[string]int, order []string, th taxonomy.Thresholds) []Row {
	pos := make(map[string]int, len(order))
	names := make([]string, 0, len(order)+len(counts))
	for i, name := range order {
		if _, dup := pos[name]; dup {
			continue
		}
		pos[name] = i
		names = append(names, name)
	}

	var extra []string
	for name := range counts {
		if _, ok := pos[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for i, name := range extra {
		pos[name] = len(order) + i
		names = append(names, name)
	}

	sort.SliceStable(names, func(i, j int) bool {
		ci, cj := counts[names[i]], counts[names[j]]
		if ci != cj {
			return ci > cj
		}
		return pos[names[i]] < pos[names[j]]
	})

	rows := make([]Row, len(names))
	for i, name := range names {
		c := counts[name]
		rows[i] = Row{Rank: i + 1, Symptom: name, Count: c, Trend: Classify(c, th)}
	}
	return rows
}

// Top returns at most n rows; n <= 0 returns all of them.
func Top(rows []Row, n int) []Row {
	if n <= 0 || n >= len(rows) {
		return rows
	}
	return rows[:n]
}
