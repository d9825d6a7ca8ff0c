package trend

import (
	"sync"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

// Aggregator accumulates per-symptom counts for one run.
type Aggregator struct {
	mu         sync.Mutex
	order      []string
	thresholds taxonomy.Thresholds
	counts     map[string]int
}

// NewAggregator creates an aggregator whose ranking lists every entry of t,
// zero counts included. A zero thresholds value falls back to t.Thresholds.
func NewAggregator(t *taxonomy.Taxonomy, thresholds taxonomy.Thresholds) *Aggregator {
	if thresholds == (taxonomy.Thresholds{}) {
		thresholds = t.Thresholds
	}
	return &Aggregator{
		order:      t.Names(),
		thresholds: thresholds,
		counts:     make(map[string]int),
	}
}

// Add increments symptom by n. Negative n is ignored; counts never go down.
func (a *Aggregator) Add(symptom string, n int) {
	if n <= 0 {
		return
	}
	a.mu.Lock()
	a.counts[symptom] += n
	a.mu.Unlock()
}

// Count returns the current count for symptom.
func (a *Aggregator) Count(symptom string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[symptom]
}

// Counts returns a copy of the raw counts.
func (a *Aggregator) Counts() map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int, len(a.counts))
	for k, v := range a.counts {
		out[k] = v
	}
	return out
}

// Ranking returns the current ranked rows.
func (a *Aggregator) Ranking() []Row {
	return Rank(a.Counts(), a.order, a.thresholds)
}
