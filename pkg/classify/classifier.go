package classify

import (
	"strings"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

// Reason explains a verdict.
type Reason string

const (
	ReasonAccepted        Reason = "accepted"
	ReasonNoise           Reason = "noise"
	ReasonReshare         Reason = "reshare"
	ReasonMissingContext  Reason = "missing_context"
	ReasonExcludedContext Reason = "excluded_context"
	ReasonPredicate       Reason = "predicate"
)

// Verdict is the outcome of classifying one post against one entry.
type Verdict struct {
	Valid  bool
	Reason Reason
}

// Classifier decides whether a post is a genuine first-person symptom report.
// It is safe for concurrent use and never panics, whatever the input text.
type Classifier struct {
	noise   []string
	markers []string
	rules   map[string][]rule
	hasPred map[string]bool
}

// rule is a lowered taxonomy.Rule.
type rule struct {
	positive []string
	negative []string
}

// New precomputes lowered keyword lists for every entry of t.
func New(t *taxonomy.Taxonomy) *Classifier {
	c := &Classifier{
		noise:   lowerAll(t.Noise),
		markers: lowerAll(t.ReshareMarkers),
		rules:   make(map[string][]rule, len(t.Entries)),
		hasPred: make(map[string]bool, len(t.Entries)),
	}
	for i := range t.Entries {
		e := &t.Entries[i]
		c.hasPred[e.Name] = e.Predicate != ""
		for _, r := range t.Rules(e) {
			c.rules[e.Name] = append(c.rules[e.Name], rule{
				positive: lowerAll(r.Positive),
				negative: lowerAll(r.Negative),
			})
		}
	}
	return c
}

// IsValid reports whether text counts towards the named entry.
func (c *Classifier) IsValid(text, entry string) bool {
	return c.Classify(text, entry).Valid
}

// Classify runs the checks cheapest first and stops at the first rejection:
// noise patterns, reshare/mention prefixes, then the entry's context rules.
// An entry name unknown to the taxonomy has no rules and only gets the
// noise and prefix checks.
func (c *Classifier) Classify(text, entry string) Verdict {
	lower := strings.ToLower(text)

	if containsAny(lower, c.noise) {
		return Verdict{Reason: ReasonNoise}
	}
	if hasAnyPrefix(strings.TrimLeft(lower, " \t\r\n"), c.markers) {
		return Verdict{Reason: ReasonReshare}
	}

	for _, r := range c.rules[entry] {
		if reason, ok := r.check(lower); !ok {
			if c.hasPred[entry] {
				reason = ReasonPredicate
			}
			return Verdict{Reason: reason}
		}
	}
	return Verdict{Valid: true, Reason: ReasonAccepted}
}

// check applies the AND-then-NOT shape: one positive hit is required (when
// positives exist) and any negative hit rejects.
func (r rule) check(lower string) (Reason, bool) {
	if len(r.positive) > 0 && !containsAny(lower, r.positive) {
		return ReasonMissingContext, false
	}
	if containsAny(lower, r.negative) {
		return ReasonExcludedContext, false
	}
	return ReasonAccepted, true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// lowerAll lowercases keywords and drops empties, which would otherwise match
// every text.
func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
