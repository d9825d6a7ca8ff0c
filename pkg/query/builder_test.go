package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

func sampleTaxonomy(t *testing.T) *taxonomy.Taxonomy {
	t.Helper()
	tax := &taxonomy.Taxonomy{
		Name:     "sample",
		Language: "en",
		Entries: []taxonomy.Entry{
			{Name: "cough", Variants: []string{"cough", "hacking cough"}},
			{
				Name:     "headache",
				Variants: []string{"headache"},
				Context:  &taxonomy.Rule{Positive: []string{"cold", "runny nose"}, Negative: []string{"migraine"}},
			},
			{Name: "itch", Variants: []string{`"itchy"`}, Context: &taxonomy.Rule{Negative: []string{"mosquito"}}},
		},
	}
	require.NoError(t, tax.Normalize())
	return tax
}

func TestBuild(t *testing.T) {
	tax := sampleTaxonomy(t)
	b := NewBuilder(tax)

	tests := []struct {
		entry string
		mode  Mode
		want  string
	}{
		{"cough", ModeStrict, `(cough OR "hacking cough") lang:en -is:retweet`},
		{"cough", ModeBroad, `(cough OR "hacking cough") lang:en -is:retweet`},
		{"headache", ModeStrict, `headache (cold OR "runny nose") lang:en -is:retweet`},
		{"headache", ModeBroad, `headache lang:en -is:retweet`},
		{"itch", ModeStrict, `itchy lang:en -is:retweet`},
	}

	for _, tt := range tests {
		t.Run(tt.entry+"/"+string(tt.mode), func(t *testing.T) {
			e, ok := tax.Entry(tt.entry)
			require.True(t, ok)
			assert.Equal(t, tt.want, b.Build(e, tt.mode))
		})
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	tax, err := taxonomy.Preset("cold")
	require.NoError(t, err)
	b := NewBuilder(tax)

	for i := range tax.Entries {
		e := &tax.Entries[i]
		first := b.Build(e, ModeStrict)
		for n := 0; n < 20; n++ {
			assert.Equal(t, first, NewBuilder(tax).Build(e, ModeStrict))
		}
	}

	headache, _ := tax.Entry("頭痛")
	assert.Equal(t,
		"(頭痛 OR 頭が痛い) 風邪 (風邪 OR 熱 OR 鼻水 OR 喉 OR のど OR 咳 OR 寒気) lang:ja -is:retweet",
		b.Build(headache, ModeStrict))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStrict, m)

	m, err = ParseMode(" Broad ")
	require.NoError(t, err)
	assert.Equal(t, ModeBroad, m)

	_, err = ParseMode("fuzzy")
	assert.Error(t, err)
}
