package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so tests and one-shot CLI runs can skip registration.
type Metrics struct {
	sourceCalls   *prometheus.CounterVec
	postsFetched  *prometheus.CounterVec
	verdicts      *prometheus.CounterVec
	streamStops   *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	cursorSaves   *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_source_calls_total",
			Help: "Search backend calls by outcome",
		}, []string{"provider", "outcome"}),
		postsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_posts_fetched_total",
			Help: "Posts yielded by the fetcher",
		}, []string{"symptom"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_classifier_verdicts_total",
			Help: "Classifier verdicts by reason",
		}, []string{"symptom", "reason"}),
		streamStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_stream_stops_total",
			Help: "Fetch streams by stop reason",
		}, []string{"reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_runs_total",
			Help: "Pipeline runs by status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symptomradar_run_duration_seconds",
			Help:    "Wall time of a pipeline run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		cursorSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_cursor_saves_total",
			Help: "Cursor writes by result",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symptomradar_notifications_total",
			Help: "Report broadcasts by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.sourceCalls, m.postsFetched, m.verdicts, m.streamStops,
		m.runs, m.runDuration, m.cursorSaves, m.notifications,
	)
	return m
}

func (m *Metrics) SourceCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.sourceCalls.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) PostFetched(symptom string) {
	if m == nil {
		return
	}
	m.postsFetched.WithLabelValues(symptom).Inc()
}

func (m *Metrics) Verdict(symptom, reason string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(symptom, reason).Inc()
}

func (m *Metrics) StreamStopped(reason string) {
	if m == nil {
		return
	}
	m.streamStops.WithLabelValues(reason).Inc()
}

func (m *Metrics) RunFinished(status string, started time.Time) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) CursorSaved(ok bool) {
	if m == nil {
		return
	}
	m.cursorSaves.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Notified(ok bool) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
