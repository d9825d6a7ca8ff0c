package taxonomy

import (
	"fmt"
	"sort"
)

var commonNoise = []string{
	"治った", "良くなった", "演技", "フリ", "嘘", "冗談",
	"昨日", "去年", "先週", "RT @", "歌詞", "小説", "ドラマ",
	"映画", "アニメ", "ゲーム", "漫画",
}

var pollenIndicators = []string{
	"花粉", "花粉症", "アレルギー", "スギ", "ヒノキ", "イネ",
	"ブタクサ", "ヨモギ", "外に出ると", "マスクしても",
}

var coldExclusions = []string{
	"風邪", "発熱", "のど", "喉", "体調悪い", "寒気", "関節痛",
}

var presets = map[string]func() *Taxonomy{
	"cold":   Cold,
	"pollen": Pollen,
}

// Preset returns a fresh copy of a built-in taxonomy.
func Preset(name string) (*Taxonomy, error) {
	build, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown taxonomy preset %q (available: %v)", name, PresetNames())
	}
	t := build()
	if err := t.Normalize(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return t, nil
}

// PresetNames lists the built-in taxonomies.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cold tracks common-cold symptoms. Every query is narrowed to posts that
// also mention 風邪; headaches additionally need a cold-like context.
func Cold() *Taxonomy {
	return &Taxonomy{
		Name:         "cold",
		Language:     "ja",
		RequireTerms: []string{"風邪"},
		Noise:        clone(commonNoise),
		Predicates: map[string]Predicate{
			"cold_headache": {AllOf: []Rule{
				{
					Positive: []string{"風邪", "熱", "鼻水", "喉", "のど", "咳", "寒気"},
					Negative: []string{"片頭痛", "偏頭痛", "二日酔い", "眼精疲労", "肩こり", "低気圧"},
				},
			}},
		},
		Thresholds: Thresholds{Rising: 50, Flat: 20},
		Entries: []Entry{
			{Name: "咳", Variants: []string{"咳", "せき", "咳が止まらない"}},
			{Name: "鼻水", Variants: []string{"鼻水", "はなみず"}},
			{Name: "鼻づまり", Variants: []string{"鼻づまり", "鼻が詰まる"}},
			{Name: "のどの痛み", Variants: []string{"のどの痛み", "喉が痛い", "喉の痛み", "のどが痛い"}},
			{Name: "発熱", Variants: []string{"発熱", "熱が出た", "熱がある"}},
			{Name: "頭痛", Variants: []string{"頭痛", "頭が痛い"}, Predicate: "cold_headache"},
			{Name: "倦怠感", Variants: []string{"倦怠感", "だるい", "体がだるい"}},
		},
	}
}

// Pollen tracks hay-fever symptoms. Each entry needs pollen context and is
// rejected when the post reads like a cold instead.
func Pollen() *Taxonomy {
	rule := func() *Rule {
		return &Rule{Positive: clone(pollenIndicators), Negative: clone(coldExclusions)}
	}
	return &Taxonomy{
		Name:       "pollen",
		Language:   "ja",
		Noise:      append(clone(commonNoise), "bot"),
		Thresholds: Thresholds{Rising: 20, Flat: 10},
		Entries: []Entry{
			{
				Name:     "くしゃみ",
				Variants: []string{"くしゃみ", "ハクション", "連続くしゃみ", "くしゃみが止まらない"},
				Context:  rule(),
			},
			{
				Name:     "鼻水",
				Variants: []string{"鼻水", "水っぽい鼻水", "透明な鼻水", "はなみず"},
				Context:  rule(),
			},
			{
				Name:     "目のかゆみ",
				Variants: []string{"目がかゆい", "目のかゆみ", "目が痒い", "涙が出る"},
				Context:  rule(),
			},
			{
				Name:     "鼻づまり",
				Variants: []string{"鼻づまり", "鼻が詰まる", "鼻が通らない", "鼻がムズムズ"},
				Context:  rule(),
			},
		},
	}
}

func clone(s []string) []string {
	return append([]string(nil), s...)
}
