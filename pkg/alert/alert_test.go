package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

func sampleRun() *pipeline.RunResult {
	return &pipeline.RunResult{
		ID:        "run-1",
		Taxonomy:  "cold",
		Status:    pipeline.StatusSuccess,
		StartedAt: time.Date(2025, 1, 10, 3, 0, 0, 0, time.UTC),
		Ranking: []trend.Row{
			{Rank: 1, Symptom: "咳", Count: 62, Trend: trend.Rising},
			{Rank: 2, Symptom: "鼻水", Count: 25, Trend: trend.Flat},
			{Rank: 3, Symptom: "発熱", Count: 4, Trend: trend.Falling},
		},
	}
}

func TestFromRun(t *testing.T) {
	n := FromRun(sampleRun(), 2)
	assert.Equal(t, 91, n.TotalValid)
	require.Len(t, n.Rows, 2)
	assert.Equal(t, []string{"1. 咳 62 ↑", "2. 鼻水 25 →"}, n.Lines())
	assert.Equal(t, "cold symptom ranking 2025-01-10 03:00 UTC", n.Title())
	assert.True(t, strings.HasPrefix(n.Text(), n.Title()+"\n"))
}

func TestShouldNotify(t *testing.T) {
	res := sampleRun()
	assert.True(t, ShouldNotify(res))

	res.Status = pipeline.StatusFatal
	assert.False(t, ShouldNotify(res))

	empty := &pipeline.RunResult{Status: pipeline.StatusSuccess, Ranking: []trend.Row{{Symptom: "咳"}}}
	assert.False(t, ShouldNotify(empty))
}

func TestWebhookSignsBody(t *testing.T) {
	var (
		got     RunEnvelope
		headers http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get(SignatureHeader) != Sign("s3cret", body) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad signature"))
			return
		}
		headers = r.Header.Clone()
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sentAt := time.Date(2025, 1, 10, 3, 5, 0, 0, time.UTC)
	wh := NewWebhook(srv.URL, "s3cret")
	wh.now = func() time.Time { return sentAt }

	require.NoError(t, wh.Send(context.Background(), FromRun(sampleRun(), 5)))
	assert.Equal(t, RunEvent, got.Event)
	assert.Equal(t, RunEvent, headers.Get(EventHeader))
	assert.Equal(t, got.ID, headers.Get(DeliveryHeader))
	assert.NotEmpty(t, got.ID)
	assert.True(t, sentAt.Equal(got.SentAt))
	assert.False(t, got.Partial)
	assert.True(t, strings.HasPrefix(got.Summary, "cold symptom ranking"))
	require.NotNil(t, got.Run)
	assert.Equal(t, "run-1", got.Run.RunID)
	assert.Len(t, got.Run.Rows, 3)

	err := NewWebhook(srv.URL, "wrong").Send(context.Background(), FromRun(sampleRun(), 5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401: bad signature")
}

func TestWebhookMarksPartialRuns(t *testing.T) {
	res := sampleRun()
	res.Status = pipeline.StatusPartial
	env := NewWebhook("http://unused", "").envelope(FromRun(res, 1))
	assert.True(t, env.Partial)
	assert.Contains(t, env.Summary, "(partial)")
}

func TestSlackAndDiscordPayloads(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := FromRun(sampleRun(), 3)
	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), n))
	require.NoError(t, NewDiscord(srv.URL).Send(context.Background(), n))

	require.Len(t, bodies, 2)
	assert.Contains(t, bodies[0], `"blocks"`)
	assert.Contains(t, bodies[0], "咳 62")
	assert.Contains(t, bodies[1], `"embeds"`)
	assert.Contains(t, bodies[1], "鼻水 25")
}

func TestSlackRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	assert.Error(t, NewSlack(srv.URL).Send(context.Background(), FromRun(sampleRun(), 1)))
}

type stubNotifier struct {
	name string
	err  error
	sent int
}

func (s *stubNotifier) Name() string { return s.name }

func (s *stubNotifier) Send(context.Context, *Notification) error {
	s.sent++
	return s.err
}

func TestManagerBroadcastsToAll(t *testing.T) {
	bad := &stubNotifier{name: "bad", err: errors.New("boom")}
	good := &stubNotifier{name: "good"}
	m := NewManager([]Notifier{bad, good}, nil)

	err := m.Broadcast(context.Background(), FromRun(sampleRun(), 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, 1, good.sent, "a failing notifier must not block the rest")
	assert.Equal(t, []string{"bad", "good"}, m.Names())
	assert.True(t, m.HasNotifiers())
	assert.NoError(t, m.Close())
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
	closed  bool
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	var out kgo.ProduceResults
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func (f *fakeProducer) Close() { f.closed = true }

func TestKafkaPublishesKeyedRecord(t *testing.T) {
	fp := &fakeProducer{}
	k := &Kafka{client: fp, topic: "reports"}

	require.NoError(t, k.Send(context.Background(), FromRun(sampleRun(), 2)))
	require.Len(t, fp.records, 1)
	rec := fp.records[0]
	assert.Equal(t, "reports", rec.Topic)
	assert.Equal(t, "cold", string(rec.Key))

	var n Notification
	require.NoError(t, json.Unmarshal(rec.Value, &n))
	assert.Len(t, n.Rows, 2)

	fp.err = errors.New("leader not available")
	assert.ErrorContains(t, k.Send(context.Background(), FromRun(sampleRun(), 2)), "leader not available")

	m := NewManager([]Notifier{k}, nil)
	require.NoError(t, m.Close())
	assert.True(t, fp.closed)
}
