// Package sourcetest provides an in-memory search backend for tests.
package sourcetest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/symptomradar/pkg/source"
)

// Fake serves Posts newest-first with offset-based page tokens. Queries are
// matched by Match when set; otherwise every post matches every query.
type Fake struct {
	mu sync.Mutex

	Posts []source.Post
	// Match decides whether a post is returned for a query.
	Match func(query string, p source.Post) bool
	// Fail, when set, is consulted before every call; a non-nil error is
	// returned instead of results. call counts from 1.
	Fail func(req source.SearchRequest, call int) error

	calls []source.SearchRequest
}

func (f *Fake) Name() source.Provider { return "fake" }

func (f *Fake) Search(ctx context.Context, req source.SearchRequest) (source.Page, error) {
	if err := ctx.Err(); err != nil {
		return source.Page{}, err
	}

	f.mu.Lock()
	f.calls = append(f.calls, req)
	n := len(f.calls)
	fail := f.Fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(req, n); err != nil {
			return source.Page{}, err
		}
	}

	var matched []source.Post
	for _, p := range f.Posts {
		if f.Match != nil && !f.Match(req.Query, p) {
			continue
		}
		if req.Window != nil && !req.Window.Contains(p.CreatedAt) {
			continue
		}
		matched = append(matched, p)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	offset := 0
	if req.PageToken != "" {
		offset, _ = strconv.Atoi(req.PageToken)
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	end := len(matched)
	if req.Limit > 0 && offset+req.Limit < end {
		end = offset + req.Limit
	}

	page := source.Page{Posts: append([]source.Post(nil), matched[offset:end]...)}
	if end < len(matched) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

// Calls returns a copy of every request received so far.
func (f *Fake) Calls() []source.SearchRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]source.SearchRequest(nil), f.calls...)
}

// ContainsAnyVariant matches a post when its text contains any bare or quoted
// term of the query's first group, which is where the builder puts variants.
func ContainsAnyVariant(query string, p source.Post) bool {
	first := query
	if strings.HasPrefix(query, "(") {
		if i := strings.Index(query, ")"); i > 0 {
			first = query[1:i]
		}
	} else if i := strings.Index(query, " "); i > 0 {
		first = query[:i]
	}
	text := strings.ToLower(p.Text)
	for _, term := range strings.Split(first, " OR ") {
		term = strings.ToLower(strings.Trim(term, `"`))
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// Posts builds n posts with descending IDs starting at top, spaced step apart
// in time ending at newest.
func Posts(top int64, n int, newest time.Time, step time.Duration, text string) []source.Post {
	out := make([]source.Post, n)
	for i := 0; i < n; i++ {
		out[i] = source.Post{
			ID:        top - int64(i),
			CreatedAt: newest.Add(-time.Duration(i) * step),
			Text:      text,
		}
	}
	return out
}
