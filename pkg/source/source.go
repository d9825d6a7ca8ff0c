package source

import (
	"context"
	"errors"
	"time"
)

// Provider identifies which search backend a post came from.
type Provider string

const (
	ProviderX      Provider = "x"
	ProviderNitter Provider = "nitter"
)

var (
	// ErrRateLimited is returned when the backend rejects a call for exceeding its rate budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers network failures, timeouts and 5xx responses.
	ErrTransient = errors.New("transient source error")
	// ErrUnauthorized means the credentials were rejected. Retrying cannot help.
	ErrUnauthorized = errors.New("unauthorized")
)

// Metrics holds engagement counters reported by the backend.
type Metrics struct {
	Reshares int `json:"reshares" db:"reshares"`
	Likes    int `json:"likes" db:"likes"`
	Replies  int `json:"replies" db:"replies"`
}

// Post is a single short social-media post. IDs are assigned by the backend
// and increase monotonically with creation time.
type Post struct {
	ID             int64     `json:"id" db:"post_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	Text           string    `json:"text" db:"text"`
	AuthorLocation string    `json:"author_location,omitempty" db:"author_location"`
	Metrics
}

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// SearchRequest is one page request against a backend.
type SearchRequest struct {
	Query     string
	Window    *Window
	Limit     int
	PageToken string
}

// Page is one newest-first batch of results. An empty NextToken means the
// backend has nothing older to return.
type Page struct {
	Posts     []Post
	NextToken string
}

// Searcher is the interface every search backend must implement.
type Searcher interface {
	Name() Provider
	Search(ctx context.Context, req SearchRequest) (Page, error)
}
