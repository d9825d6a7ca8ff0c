package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elonfeng/symptomradar/internal/metrics"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

// Notification is the run report sent to alert destinations.
type Notification struct {
	RunID      string      `json:"run_id"`
	Taxonomy   string      `json:"taxonomy"`
	Status     string      `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	TotalValid int         `json:"total_valid"`
	Rows       []trend.Row `json:"rows"`
}

// FromRun builds a notification carrying the top n ranking rows.
func FromRun(res *pipeline.RunResult, n int) *Notification {
	return &Notification{
		RunID:      res.ID,
		Taxonomy:   res.Taxonomy,
		Status:     string(res.Status),
		StartedAt:  res.StartedAt,
		TotalValid: res.TotalValid(),
		Rows:       trend.Top(res.Ranking, n),
	}
}

// ShouldNotify reports whether a run is worth broadcasting: it was not
// aborted and found at least one valid post.
func ShouldNotify(res *pipeline.RunResult) bool {
	return res.Status != pipeline.StatusFatal && res.TotalValid() > 0
}

// Title is a one-line headline.
func (n *Notification) Title() string {
	title := fmt.Sprintf("%s symptom ranking %s", n.Taxonomy, n.StartedAt.UTC().Format("2006-01-02 15:04 MST"))
	if n.Status == string(pipeline.StatusPartial) {
		title += " (partial)"
	}
	return title
}

// Lines renders one line per row, e.g. "1. 咳 62 ↑".
func (n *Notification) Lines() []string {
	lines := make([]string, len(n.Rows))
	for i, r := range n.Rows {
		lines[i] = fmt.Sprintf("%d. %s %d %s", r.Rank, r.Symptom, r.Count, r.Trend.Symbol())
	}
	return lines
}

// Text is Title followed by Lines.
func (n *Notification) Text() string {
	return n.Title() + "\n" + strings.Join(n.Lines(), "\n")
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
	metrics   *metrics.Metrics
}

// NewManager creates a new alert manager. m may be nil.
func NewManager(notifiers []Notifier, m *metrics.Metrics) *Manager {
	return &Manager{notifiers: notifiers, metrics: m}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Names lists the configured notifiers.
func (m *Manager) Names() []string {
	names := make([]string, len(m.notifiers))
	for i, n := range m.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Broadcast sends a notification to all registered notifiers. A failing
// notifier does not stop the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		err := notifier.Send(ctx, n)
		m.metrics.Notified(err == nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", notifier.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close releases notifiers that hold connections.
func (m *Manager) Close() error {
	var errs []error
	for _, n := range m.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
