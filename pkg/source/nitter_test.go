package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nitterFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>search</title>
    <item>
      <title>喉が痛い</title>
      <guid>https://nitter.net/alice/status/200#m</guid>
      <link>https://nitter.net/alice/status/200#m</link>
      <pubDate>Wed, 15 Jan 2025 11:00:00 GMT</pubDate>
    </item>
    <item>
      <title>咳が止まらない</title>
      <guid>https://nitter.net/bob/status/300#m</guid>
      <link>https://nitter.net/bob/status/300#m</link>
      <pubDate>Wed, 15 Jan 2025 12:00:00 GMT</pubDate>
    </item>
    <item>
      <title>old</title>
      <guid>https://nitter.net/bob/status/100#m</guid>
      <link>https://nitter.net/bob/status/100#m</link>
      <pubDate>Tue, 14 Jan 2025 08:00:00 GMT</pubDate>
    </item>
    <item>
      <title>no id</title>
      <guid>not-a-status</guid>
      <link>https://nitter.net/about</link>
    </item>
  </channel>
</rss>`

func TestNitterSearch(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Min-Id", "next-cursor")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(nitterFeed))
	}))
	defer srv.Close()

	n := NewNitter(srv.URL+"/", time.Second)
	page, err := n.Search(context.Background(), SearchRequest{
		Query: "咳",
		Window: &Window{
			Start: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC),
		},
		PageToken: "c1",
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/search/rss", got.URL.Path)
	assert.Equal(t, "咳", got.URL.Query().Get("q"))
	assert.Equal(t, "c1", got.URL.Query().Get("cursor"))
	assert.Equal(t, "2025-01-15", got.URL.Query().Get("since"))
	assert.Equal(t, "2025-01-17", got.URL.Query().Get("until"))

	assert.Empty(t, page.NextToken, "the feed already reached behind the window")
	require.Len(t, page.Posts, 2, "outside-window and id-less items are dropped")
	assert.Equal(t, int64(300), page.Posts[0].ID)
	assert.Equal(t, "咳が止まらない", page.Posts[0].Text)
	assert.Equal(t, int64(200), page.Posts[1].ID)
}

type feedItem struct {
	id int64
	at time.Time
}

func rssFeed(items ...feedItem) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>search</title>`)
	for _, it := range items {
		fmt.Fprintf(&b, `<item><title>post %d</title><guid>https://nitter.net/u/status/%d#m</guid><pubDate>%s</pubDate></item>`,
			it.id, it.id, it.at.Format(time.RFC1123Z))
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func TestNitterOlderWindowStopsPaging(t *testing.T) {
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	window := &Window{Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour)}

	// Newest-first pages keyed by cursor; the instance would keep serving
	// older pages forever.
	pages := map[string][]feedItem{
		"":   {{900, base.Add(-10 * time.Minute)}, {899, base.Add(-20 * time.Minute)}},
		"p1": {{898, base.Add(-70 * time.Minute)}, {897, base.Add(-80 * time.Minute)}},
		"p2": {{896, base.Add(-110 * time.Minute)}, {895, base.Add(-130 * time.Minute)}},
		"p3": {{894, base.Add(-150 * time.Minute)}},
	}
	nextCursor := map[string]string{"": "p1", "p1": "p2", "p2": "p3", "p3": "p4"}

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		cur := r.URL.Query().Get("cursor")
		w.Header().Set("Min-Id", nextCursor[cur])
		_, _ = w.Write([]byte(rssFeed(pages[cur]...)))
	}))
	defer srv.Close()

	n := NewNitter(srv.URL, time.Second)
	var ids []int64
	token := ""
	for i := 0; i < 10; i++ {
		page, err := n.Search(context.Background(), SearchRequest{Query: "q", Window: window, PageToken: token})
		require.NoError(t, err)
		for _, p := range page.Posts {
			ids = append(ids, p.ID)
		}
		if page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	assert.Equal(t, 3, calls, "paging must end at the first page behind the window")
	assert.Equal(t, []int64{898, 897, 896}, ids)
}

func TestNitterRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewNitter(srv.URL, time.Second).Search(context.Background(), SearchRequest{Query: "q"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestParseStatusID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"https://nitter.net/a/status/42#m", 42, true},
		{"https://nitter.net/a/status/42/photo/1", 42, true},
		{" 77 ", 77, true},
		{"https://nitter.net/about", 0, false},
		{"0", 0, false},
	}
	for _, tt := range tests {
		id, ok := parseStatusID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, id, tt.in)
	}
}
