package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const xBaseURL = "https://api.twitter.com"

const (
	// Recent search rejects an end_time later than 10s before the request.
	xEndTimeLag = 10 * time.Second
	// Recent search only reaches back seven days.
	xSearchHorizon = 7 * 24 * time.Hour
)

// X searches recent posts through the X API v2 recent-search endpoint.
type X struct {
	client      *http.Client
	baseURL     string
	bearerToken string
	now         func() time.Time
}

// NewX creates a new X API client. The bearer token is used only as a request
// header and is never logged.
func NewX(bearerToken, baseURL string, timeout time.Duration) *X {
	if baseURL == "" {
		baseURL = xBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &X{
		client:      &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		bearerToken: bearerToken,
		now:         time.Now,
	}
}

func (x *X) Name() Provider { return ProviderX }

func (x *X) Search(ctx context.Context, req SearchRequest) (Page, error) {
	if x.bearerToken == "" {
		return Page{}, fmt.Errorf("x search: missing bearer token: %w", ErrUnauthorized)
	}

	// The endpoint accepts 10..100 results per page.
	limit := req.Limit
	if limit < 10 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	var start, end time.Time
	if req.Window != nil {
		var ok bool
		if start, end, ok = x.clampWindow(*req.Window); !ok {
			return Page{}, nil
		}
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("max_results", strconv.Itoa(limit))
	params.Set("tweet.fields", "created_at,public_metrics,author_id")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "location")
	if req.Window != nil {
		params.Set("start_time", start.UTC().Format(time.RFC3339))
		params.Set("end_time", end.UTC().Format(time.RFC3339))
	}
	if req.PageToken != "" {
		params.Set("next_token", req.PageToken)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		x.baseURL+"/2/tweets/search/recent?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("create x request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+x.bearerToken)
	httpReq.Header.Set("User-Agent", "symptomradar/1.0")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Page{}, ctx.Err()
		}
		return Page{}, fmt.Errorf("x search: %v: %w", err, ErrTransient)
	}
	defer resp.Body.Close()

	if err := statusError("x search", resp.StatusCode); err != nil {
		return Page{}, err
	}

	var body xSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Page{}, fmt.Errorf("decode x search: %v: %w", err, ErrTransient)
	}

	locations := make(map[string]string, len(body.Includes.Users))
	for _, u := range body.Includes.Users {
		locations[u.ID] = u.Location
	}

	posts := make([]Post, 0, len(body.Data))
	for _, tw := range body.Data {
		id, err := strconv.ParseInt(tw.ID, 10, 64)
		if err != nil {
			continue
		}
		posts = append(posts, Post{
			ID:             id,
			CreatedAt:      tw.CreatedAt,
			Text:           tw.Text,
			AuthorLocation: locations[tw.AuthorID],
			Metrics: Metrics{
				Reshares: tw.PublicMetrics.RetweetCount,
				Likes:    tw.PublicMetrics.LikeCount,
				Replies:  tw.PublicMetrics.ReplyCount,
			},
		})
	}
	sortNewestFirst(posts)

	if len(posts) > req.Limit && req.Limit > 0 {
		posts = posts[:req.Limit]
	}

	return Page{Posts: posts, NextToken: body.Meta.NextToken}, nil
}

// clampWindow fits w into the range recent search accepts. ok is false when
// nothing of w is searchable yet or any more.
func (x *X) clampWindow(w Window) (start, end time.Time, ok bool) {
	now := x.now()
	start, end = w.Start, w.End
	if latest := now.Add(-xEndTimeLag); end.After(latest) {
		end = latest
	}
	// RFC3339 drops sub-second precision, so keep a minute of slack.
	if earliest := now.Add(-xSearchHorizon + time.Minute); start.Before(earliest) {
		start = earliest
	}
	return start, end, start.Before(end)
}

// statusError maps HTTP status codes onto the package sentinel errors.
func statusError(op string, code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%s status %d: %w", op, code, ErrRateLimited)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s status %d: %w", op, code, ErrUnauthorized)
	case code >= 500:
		return fmt.Errorf("%s status %d: %w", op, code, ErrTransient)
	default:
		return fmt.Errorf("%s unexpected status %d", op, code)
	}
}

func sortNewestFirst(posts []Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].ID > posts[j].ID
	})
}

type xSearchResponse struct {
	Data []struct {
		ID            string    `json:"id"`
		Text          string    `json:"text"`
		AuthorID      string    `json:"author_id"`
		CreatedAt     time.Time `json:"created_at"`
		PublicMetrics struct {
			RetweetCount int `json:"retweet_count"`
			ReplyCount   int `json:"reply_count"`
			LikeCount    int `json:"like_count"`
		} `json:"public_metrics"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Location string `json:"location"`
		} `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}
