// Package taxonomy declares which symptoms are counted and how a post is
// attributed to one. Everything here is data: adding a symptom or a context
// rule never requires touching the classifier.
package taxonomy

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid taxonomy")

// DefaultReshareMarkers are the prefixes that mark a post as a reshare or a reply.
var DefaultReshareMarkers = []string{"RT ", "RT:", "RT@", "@"}

// Rule accepts text that contains at least one Positive indicator and none of
// the Negative ones. An empty Positive list is vacuously satisfied.
type Rule struct {
	Positive []string `yaml:"positive,omitempty" json:"positive,omitempty"`
	Negative []string `yaml:"negative,omitempty" json:"negative,omitempty"`
}

// Empty reports whether the rule declares no indicators at all.
func (r Rule) Empty() bool {
	return len(r.Positive) == 0 && len(r.Negative) == 0
}

// Predicate is a named compound rule: text is valid only if every clause holds.
type Predicate struct {
	AllOf []Rule `yaml:"all_of" json:"all_of"`
}

// Entry is one canonical symptom.
type Entry struct {
	Name      string   `yaml:"name" json:"name"`
	Variants  []string `yaml:"variants" json:"variants"`
	Context   *Rule    `yaml:"context,omitempty" json:"context,omitempty"`
	Predicate string   `yaml:"predicate,omitempty" json:"predicate,omitempty"`
}

// Thresholds map a run's count onto a trend label: above Rising is rising,
// above Flat is flat, anything else is falling.
type Thresholds struct {
	Rising int `yaml:"rising" json:"rising"`
	Flat   int `yaml:"flat" json:"flat"`
}

// Taxonomy is an ordered set of entries plus the shared noise configuration.
// Entry order is significant: it breaks ranking ties.
type Taxonomy struct {
	Name           string               `yaml:"name" json:"name"`
	Language       string               `yaml:"language" json:"language"`
	RequireTerms   []string             `yaml:"require_terms,omitempty" json:"require_terms,omitempty"`
	Noise          []string             `yaml:"noise" json:"noise"`
	ReshareMarkers []string             `yaml:"reshare_markers,omitempty" json:"reshare_markers,omitempty"`
	Predicates     map[string]Predicate `yaml:"predicates,omitempty" json:"predicates,omitempty"`
	Thresholds     Thresholds           `yaml:"thresholds" json:"thresholds"`
	Entries        []Entry              `yaml:"entries" json:"entries"`
}

// Load reads and validates a taxonomy YAML file.
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("taxonomy %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates a taxonomy document.
func Parse(data []byte) (*Taxonomy, error) {
	var t Taxonomy
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}
	if err := t.Normalize(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Normalize trims and de-duplicates every keyword list, fills defaults and
// validates the result.
func (t *Taxonomy) Normalize() error {
	t.Name = strings.TrimSpace(t.Name)
	t.Language = strings.TrimSpace(t.Language)
	t.RequireTerms = cleanList(t.RequireTerms)
	t.Noise = cleanList(t.Noise)
	if t.ReshareMarkers == nil {
		t.ReshareMarkers = append([]string(nil), DefaultReshareMarkers...)
	}
	t.ReshareMarkers = cleanMarkers(t.ReshareMarkers)

	for name, p := range t.Predicates {
		for i := range p.AllOf {
			p.AllOf[i] = cleanRule(p.AllOf[i])
		}
		t.Predicates[name] = p
	}
	for i := range t.Entries {
		e := &t.Entries[i]
		e.Name = strings.TrimSpace(e.Name)
		e.Variants = cleanList(e.Variants)
		e.Predicate = strings.TrimSpace(e.Predicate)
		if e.Context != nil {
			r := cleanRule(*e.Context)
			e.Context = &r
		}
	}
	return t.Validate()
}

// Validate checks the structural invariants of the taxonomy.
func (t *Taxonomy) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if t.Language == "" {
		return fmt.Errorf("%w: language is required", ErrInvalid)
	}
	if len(t.Entries) == 0 {
		return fmt.Errorf("%w: at least one entry is required", ErrInvalid)
	}
	if t.Thresholds.Flat < 0 || t.Thresholds.Rising < t.Thresholds.Flat {
		return fmt.Errorf("%w: thresholds need 0 <= flat <= rising, got flat=%d rising=%d",
			ErrInvalid, t.Thresholds.Flat, t.Thresholds.Rising)
	}

	for name, p := range t.Predicates {
		if len(p.AllOf) == 0 {
			return fmt.Errorf("%w: predicate %q has no clauses", ErrInvalid, name)
		}
		for i, r := range p.AllOf {
			if r.Empty() {
				return fmt.Errorf("%w: predicate %q clause %d has no indicators", ErrInvalid, name, i)
			}
		}
	}

	seen := make(map[string]bool, len(t.Entries))
	for i, e := range t.Entries {
		if e.Name == "" {
			return fmt.Errorf("%w: entry %d has no name", ErrInvalid, i)
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: duplicate entry %q", ErrInvalid, e.Name)
		}
		seen[e.Name] = true

		if len(e.Variants) == 0 {
			return fmt.Errorf("%w: entry %q has no variants", ErrInvalid, e.Name)
		}
		if e.Context != nil && e.Predicate != "" {
			return fmt.Errorf("%w: entry %q declares both context and predicate", ErrInvalid, e.Name)
		}
		if e.Context != nil && e.Context.Empty() {
			return fmt.Errorf("%w: entry %q has an empty context rule", ErrInvalid, e.Name)
		}
		if e.Predicate != "" {
			if _, ok := t.Predicates[e.Predicate]; !ok {
				return fmt.Errorf("%w: entry %q references unknown predicate %q", ErrInvalid, e.Name, e.Predicate)
			}
		}
	}
	return nil
}

// Entry looks up an entry by canonical name.
func (t *Taxonomy) Entry(name string) (*Entry, bool) {
	for i := range t.Entries {
		if t.Entries[i].Name == name {
			return &t.Entries[i], true
		}
	}
	return nil, false
}

// Names returns the entry names in declaration order.
func (t *Taxonomy) Names() []string {
	names := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		names[i] = e.Name
	}
	return names
}

// Rules returns the clauses an entry must satisfy: its predicate's clauses,
// its single context rule, or nothing when the entry is unconditional.
func (t *Taxonomy) Rules(e *Entry) []Rule {
	if e.Predicate != "" {
		return t.Predicates[e.Predicate].AllOf
	}
	if e.Context != nil {
		return []Rule{*e.Context}
	}
	return nil
}

// StreamKey is the stable cursor key for an entry.
func (t *Taxonomy) StreamKey(e *Entry) string {
	return t.Name + "/" + e.Name
}

func cleanRule(r Rule) Rule {
	return Rule{Positive: cleanList(r.Positive), Negative: cleanList(r.Negative)}
}

// cleanList trims entries, drops empties and removes duplicates while keeping
// the first occurrence's position.
func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// cleanMarkers is cleanList without trimming, since "RT " relies on its space.
func cleanMarkers(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
