package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/elonfeng/symptomradar/internal/scheduler"
	"github.com/elonfeng/symptomradar/internal/store"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/query"
	"github.com/elonfeng/symptomradar/pkg/taxonomy"
)

// CollectFunc triggers one collection pass.
type CollectFunc func(ctx context.Context) (*pipeline.RunResult, error)

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	tax      *taxonomy.Taxonomy
	collect  CollectFunc
	gatherer prometheus.Gatherer
	log      logrus.FieldLogger
	port     int
}

// New creates a new HTTP server. collect and gatherer may be nil, which
// disables POST /api/v1/collect and /metrics respectively.
func New(s store.Store, tax *taxonomy.Taxonomy, collect CollectFunc, gatherer prometheus.Gatherer, log logrus.FieldLogger, port int) *Server {
	if port == 0 {
		port = 8080
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	return &Server{
		store:    s,
		tax:      tax,
		collect:  collect,
		gatherer: gatherer,
		log:      log,
		port:     port,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/rankings", s.handleRankings)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRun)
	mux.HandleFunc("/api/v1/taxonomy", s.handleTaxonomy)
	mux.HandleFunc("/api/v1/collect", s.handleCollect)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.WithField("addr", srv.Addr).Info("symptomradar server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	taxonomyName := r.URL.Query().Get("taxonomy")
	if taxonomyName == "" && s.tax != nil {
		taxonomyName = s.tax.Name
	}
	run, err := s.store.LatestRun(r.Context(), taxonomyName)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs yet"})
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"taxonomy":   run.Taxonomy,
		"status":     run.Status,
		"started_at": run.StartedAt,
		"data":       run.Ranking,
		"count":      len(run.Ranking),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := store.RunListOpts{
		Taxonomy: r.URL.Query().Get("taxonomy"),
		Status:   r.URL.Query().Get("status"),
		Limit:    20,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			opts.Limit = n
		}
	}

	runs, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  runs,
		"count": len(runs),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	wantPosts := strings.HasSuffix(id, "/posts")
	id = strings.TrimSuffix(id, "/posts")
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if wantPosts {
		posts, err := s.store.ListPosts(r.Context(), id)
		if err != nil {
			s.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": posts, "count": len(posts)})
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return
	}
	if err != nil {
		s.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleTaxonomy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.tax == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no taxonomy loaded"})
		return
	}

	mode, err := query.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	b := query.NewBuilder(s.tax)
	queries := make(map[string]string, len(s.tax.Entries))
	for i := range s.tax.Entries {
		e := &s.tax.Entries[i]
		queries[e.Name] = b.Build(e, mode)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"taxonomy": s.tax,
		"queries":  queries,
	})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if s.collect == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "collection disabled"})
		return
	}

	res, err := s.collect(r.Context())
	if res == nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrBusy) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": errString(err)})
		return
	}

	resp := map[string]any{"data": res}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) serverError(w http.ResponseWriter, err error) {
	s.log.WithError(err).Error("api request failed")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func errString(err error) string {
	if err == nil {
		return "collection returned no result"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
