package pipeline

import (
	"time"

	"github.com/elonfeng/symptomradar/pkg/fetch"
	"github.com/elonfeng/symptomradar/pkg/source"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

// Status summarises a run.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartial means at least one window failed or the run was
	// cancelled; counts cover only the windows that completed.
	StatusPartial Status = "partial"
	// StatusFatal means the run was aborted and no cursor was written.
	StatusFatal Status = "fatal"
)

// StreamOutcome describes one window of one collection stream.
type StreamOutcome struct {
	Stream  string           `json:"stream" db:"stream"`
	Symptom string           `json:"symptom" db:"symptom"`
	Window  string           `json:"window,omitempty" db:"window_range"`
	Query   string           `json:"query" db:"query"`
	Fetched int              `json:"fetched" db:"fetched"`
	Valid   int              `json:"valid" db:"valid"`
	Calls   int              `json:"calls" db:"calls"`
	Stop    fetch.StopReason `json:"stop" db:"stop"`
	// Counted is false when the window's posts were discarded.
	Counted bool   `json:"counted" db:"counted"`
	Error   string `json:"error,omitempty" db:"error"`
}

// CursorUpdate records what happened to a stream's cursor at the end of a run.
type CursorUpdate struct {
	Stream string `json:"stream"`
	Before int64  `json:"before"`
	// HadCursor is false on a first run.
	HadCursor bool   `json:"had_cursor"`
	After     int64  `json:"after"`
	Saved     bool   `json:"saved"`
	Note      string `json:"note,omitempty"`
}

// ValidPost is a post the classifier accepted for a symptom.
type ValidPost struct {
	Symptom string `json:"symptom" db:"symptom"`
	source.Post
}

// RunResult is the structured outcome of one Run.
type RunResult struct {
	ID         string          `json:"id"`
	Taxonomy   string          `json:"taxonomy"`
	Mode       Mode            `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Status     Status          `json:"status"`
	Err        error           `json:"-"`
	Error      string          `json:"error,omitempty"`
	Ranking    []trend.Row     `json:"ranking"`
	Outcomes   []StreamOutcome `json:"outcomes"`
	Cursors    []CursorUpdate  `json:"cursors"`
	ValidPosts []ValidPost     `json:"-"`
}

// TotalValid is the sum of all counted valid posts.
func (r *RunResult) TotalValid() int {
	n := 0
	for _, row := range r.Ranking {
		n += row.Count
	}
	return n
}

// Duration is how long the run took.
func (r *RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
