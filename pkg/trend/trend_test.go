package trend

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

var coldTh = taxonomy.Thresholds{Rising: 50, Flat: 20}

func TestRankOrdersByCountThenDeclaration(t *testing.T) {
	order := []string{"咳", "鼻水", "発熱", "頭痛"}
	counts := map[string]int{"咳": 21, "鼻水": 60, "発熱": 21, "頭痛": 3}

	want := []Row{
		{Rank: 1, Symptom: "鼻水", Count: 60, Trend: Rising},
		{Rank: 2, Symptom: "咳", Count: 21, Trend: Flat},
		{Rank: 3, Symptom: "発熱", Count: 21, Trend: Flat},
		{Rank: 4, Symptom: "頭痛", Count: 3, Trend: Falling},
	}
	if diff := cmp.Diff(want, Rank(counts, order, coldTh)); diff != "" {
		t.Errorf("Rank() mismatch (-want +got):\n%s", diff)
	}
}

func TestRankIncludesZeroCounts(t *testing.T) {
	rows := Rank(map[string]int{"b": 2}, []string{"a", "b", "c"}, coldTh)
	require.Len(t, rows, 3)
	assert.Equal(t, "b", rows[0].Symptom)
	assert.Equal(t, []string{"a", "c"}, []string{rows[1].Symptom, rows[2].Symptom})
	assert.Equal(t, 0, rows[1].Count)
}

func TestRankUnknownNamesComeLast(t *testing.T) {
	rows := Rank(map[string]int{"zz": 5, "aa": 5, "x": 5}, []string{"x"}, coldTh)
	var names []string
	for _, r := range rows {
		names = append(names, r.Symptom)
	}
	assert.Equal(t, []string{"x", "aa", "zz"}, names)
}

func TestRankIsStableUnderInputPermutation(t *testing.T) {
	order := []string{"a", "b", "c", "d", "e"}
	counts := map[string]int{"a": 3, "b": 7, "c": 3, "d": 0, "e": 7}
	first := Rank(counts, order, coldTh)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := make(map[string]int, len(counts))
		keys := append([]string(nil), order...)
		rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for _, k := range keys {
			shuffled[k] = counts[k]
		}
		if diff := cmp.Diff(first, Rank(shuffled, order, coldTh)); diff != "" {
			t.Fatalf("ranking changed (-first +got):\n%s", diff)
		}
	}
}

func TestClassifyBoundaries(t *testing.T) {
	pollen := taxonomy.Thresholds{Rising: 20, Flat: 10}
	cases := []struct {
		count int
		want  Label
	}{
		{0, Falling},
		{10, Falling},
		{11, Flat},
		{20, Flat},
		{21, Rising},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.count, pollen), "count %d", tc.count)
	}
}

func TestAggregator(t *testing.T) {
	tax := taxonomy.Cold()
	a := NewAggregator(tax, taxonomy.Thresholds{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Add("咳", 6)
		}()
	}
	wg.Wait()
	a.Add("咳", -100)

	rows := a.Ranking()
	require.Len(t, rows, len(tax.Entries))
	assert.Equal(t, Row{Rank: 1, Symptom: "咳", Count: 60, Trend: Rising}, rows[0])
	assert.Equal(t, 60, a.Count("咳"))
	assert.Equal(t, map[string]int{"咳": 60}, a.Counts())
}

func TestAggregatorThresholdOverride(t *testing.T) {
	a := NewAggregator(taxonomy.Cold(), taxonomy.Thresholds{Rising: 2, Flat: 1})
	a.Add("発熱", 3)
	assert.Equal(t, Rising, a.Ranking()[0].Trend)
}

func TestTop(t *testing.T) {
	rows := Rank(nil, []string{"a", "b", "c"}, coldTh)
	assert.Len(t, Top(rows, 2), 2)
	assert.Len(t, Top(rows, 0), 3)
	assert.Len(t, Top(rows, 10), 3)
}
