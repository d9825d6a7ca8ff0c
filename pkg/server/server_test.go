package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/symptomradar/internal/metrics"
	"github.com/elonfeng/symptomradar/internal/scheduler"
	"github.com/elonfeng/symptomradar/internal/store"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/source"
	"github.com/elonfeng/symptomradar/pkg/taxonomy"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

func seededStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	res := &pipeline.RunResult{
		ID:         "run-1",
		Taxonomy:   "cold",
		Mode:       pipeline.ModeIncremental,
		Status:     pipeline.StatusSuccess,
		StartedAt:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2025, 1, 10, 0, 1, 0, 0, time.UTC),
		Ranking:    []trend.Row{{Rank: 1, Symptom: "咳", Count: 1, Trend: trend.Falling}},
		ValidPosts: []pipeline.ValidPost{{Symptom: "咳", Post: source.Post{ID: 9, CreatedAt: time.Now().UTC(), Text: "咳"}}},
	}
	require.NoError(t, s.SaveRun(context.Background(), res))
	return s
}

func get(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	h := New(nil, nil, nil, nil, nil, 0).Handler()
	rec, body := get(t, h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRankingsAndRuns(t *testing.T) {
	h := New(seededStore(t), taxonomy.Cold(), nil, nil, nil, 0).Handler()

	rec, body := get(t, h, http.MethodGet, "/api/v1/rankings")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", body["run_id"])
	assert.EqualValues(t, 1, body["count"])

	rec, _ = get(t, h, http.MethodGet, "/api/v1/rankings?taxonomy=pollen")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = get(t, h, http.MethodGet, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, body = get(t, h, http.MethodGet, "/api/v1/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cold", body["taxonomy"])

	rec, body = get(t, h, http.MethodGet, "/api/v1/runs/run-1/posts")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = get(t, h, http.MethodGet, "/api/v1/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = get(t, h, http.MethodPost, "/api/v1/runs")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestTaxonomyEndpoint(t *testing.T) {
	tax, err := taxonomy.Preset("cold")
	require.NoError(t, err)
	h := New(nil, tax, nil, nil, nil, 0).Handler()

	rec, body := get(t, h, http.MethodGet, "/api/v1/taxonomy?mode=broad")
	require.Equal(t, http.StatusOK, rec.Code)
	queries := body["queries"].(map[string]any)
	assert.Equal(t, "(咳 OR せき OR 咳が止まらない) 風邪 lang:ja -is:retweet", queries["咳"])

	rec, _ = get(t, h, http.MethodGet, "/api/v1/taxonomy?mode=fuzzy")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCollect(t *testing.T) {
	calls := 0
	collect := func(context.Context) (*pipeline.RunResult, error) {
		calls++
		if calls > 1 {
			return nil, scheduler.ErrBusy
		}
		return &pipeline.RunResult{ID: "new", Status: pipeline.StatusPartial}, errors.New("window failed")
	}
	h := New(nil, nil, collect, nil, nil, 0).Handler()

	rec, body := get(t, h, http.MethodPost, "/api/v1/collect")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "window failed", body["error"])

	rec, _ = get(t, h, http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = get(t, h, http.MethodGet, "/api/v1/collect")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = get(t, New(nil, nil, nil, nil, nil, 0).Handler(), http.MethodPost, "/api/v1/collect")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RunFinished("success", time.Now())

	h := New(nil, nil, nil, reg, nil, 0).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "symptomradar_runs_total")
}
