package query

import (
	"fmt"
	"strings"

	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

// Mode selects how much filtering is pushed to the search backend.
type Mode string

const (
	// ModeBroad matches on surface forms only.
	ModeBroad Mode = "broad"
	// ModeStrict also requires one positive context term server-side.
	ModeStrict Mode = "strict"
)

// ParseMode accepts "broad" or "strict"; empty means strict.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStrict:
		return ModeStrict, nil
	case ModeBroad:
		return ModeBroad, nil
	}
	return "", fmt.Errorf("unknown query mode %q", s)
}

// Builder turns taxonomy entries into search expressions.
type Builder struct {
	tax *taxonomy.Taxonomy
}

// NewBuilder creates a query builder for t.
func NewBuilder(t *taxonomy.Taxonomy) *Builder {
	return &Builder{tax: t}
}

// Build returns the search expression for e:
//
//	(v1 OR "v 2") require... [(ctx1 OR ctx2)] lang:xx -is:retweet
//
// The output depends only on e, mode and the taxonomy, never on map order.
func (b *Builder) Build(e *taxonomy.Entry, mode Mode) string {
	parts := []string{group(e.Variants)}

	for _, term := range b.tax.RequireTerms {
		parts = append(parts, quote(term))
	}

	if mode == ModeStrict {
		if ctx := b.contextTerms(e); len(ctx) > 0 {
			parts = append(parts, group(ctx))
		}
	}

	parts = append(parts, "lang:"+b.tax.Language, "-is:retweet")
	return strings.Join(parts, " ")
}

// contextTerms are the positive indicators of the entry's first rule. Later
// predicate clauses stay client-side to keep queries short.
func (b *Builder) contextTerms(e *taxonomy.Entry) []string {
	rules := b.tax.Rules(e)
	if len(rules) == 0 {
		return nil
	}
	return rules[0].Positive
}

func group(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if q := quote(t); q != "" {
			quoted = append(quoted, q)
		}
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return "(" + strings.Join(quoted, " OR ") + ")"
}

// quote wraps multi-word terms in double quotes. Embedded quotes are dropped
// since the search syntax has no escape for them.
func quote(term string) string {
	term = strings.TrimSpace(strings.ReplaceAll(term, `"`, ""))
	if strings.ContainsAny(term, " \t") {
		return `"` + term + `"`
	}
	return term
}
