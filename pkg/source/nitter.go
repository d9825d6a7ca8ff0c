package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Nitter searches posts through a Nitter instance's search RSS feed.
type Nitter struct {
	client    *http.Client
	parser    *gofeed.Parser
	nitterURL string
}

// NewNitter creates a new search client backed by Nitter RSS.
func NewNitter(nitterURL string, timeout time.Duration) *Nitter {
	if nitterURL == "" {
		nitterURL = "https://nitter.net"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Nitter{
		client:    &http.Client{Timeout: timeout},
		parser:    gofeed.NewParser(),
		nitterURL: strings.TrimRight(nitterURL, "/"),
	}
}

func (n *Nitter) Name() Provider { return ProviderNitter }

func (n *Nitter) Search(ctx context.Context, req SearchRequest) (Page, error) {
	params := url.Values{}
	params.Set("f", "tweets")
	params.Set("q", req.Query)
	if req.Window != nil {
		// Day granularity only; until is exclusive.
		params.Set("since", req.Window.Start.UTC().Format(time.DateOnly))
		params.Set("until", req.Window.End.UTC().AddDate(0, 0, 1).Format(time.DateOnly))
	}
	if req.PageToken != "" {
		params.Set("cursor", req.PageToken)
	}

	feedURL := n.nitterURL + "/search/rss?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("create nitter request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "symptomradar/1.0")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, fmt.Errorf("nitter search: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	if err := statusError("nitter search", resp.StatusCode); err != nil {
		return Page{}, err
	}

	feed, err := n.parser.Parse(resp.Body)
	if err != nil {
		return Page{}, fmt.Errorf("parse nitter feed: %v: %w", err, ErrTransient)
	}

	var posts []Post
	pastWindow := false
	for _, entry := range feed.Items {
		id, ok := parseStatusID(entry.GUID)
		if !ok {
			if id, ok = parseStatusID(entry.Link); !ok {
				continue
			}
		}

		created := time.Time{}
		if entry.PublishedParsed != nil {
			created = *entry.PublishedParsed
		}
		if req.Window != nil && !created.IsZero() && !req.Window.Contains(created) {
			if created.Before(req.Window.Start) {
				pastWindow = true
			}
			continue
		}

		posts = append(posts, Post{
			ID:        id,
			CreatedAt: created,
			Text:      entry.Title,
		})
	}
	sortNewestFirst(posts)

	if req.Limit > 0 && len(posts) > req.Limit {
		posts = posts[:req.Limit]
	}

	// Nitter hands out the next-page cursor in the Min-Id header. Results are
	// newest-first, so once a page reaches behind the window nothing later can
	// fall inside it.
	next := ""
	if len(feed.Items) > 0 && !pastWindow {
		next = resp.Header.Get("Min-Id")
	}
	return Page{Posts: posts, NextToken: next}, nil
}

// parseStatusID extracts the numeric status ID from a GUID or a
// ".../status/<id>#m" link.
func parseStatusID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "/status/"); i >= 0 {
		s = s[i+len("/status/"):]
	}
	if i := strings.IndexAny(s, "#?/"); i >= 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
