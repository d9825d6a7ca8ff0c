package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/elonfeng/symptomradar/internal/store"
	"github.com/elonfeng/symptomradar/pkg/alert"
	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

type fakeRunner struct {
	calls  atomic.Int32
	status pipeline.Status
	err    error
	block  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (*pipeline.RunResult, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	status := f.status
	if status == "" {
		status = pipeline.StatusSuccess
	}
	return &pipeline.RunResult{
		ID:        "run",
		Taxonomy:  "cold",
		Status:    status,
		StartedAt: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Ranking:   []trend.Row{{Rank: 1, Symptom: "咳", Count: 3, Trend: trend.Falling}},
	}, f.err
}

type memStore struct {
	store.Store
	mu   sync.Mutex
	runs []*pipeline.RunResult
}

func (m *memStore) SaveRun(_ context.Context, res *pipeline.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, res)
	return nil
}

func (m *memStore) saved() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

type countingNotifier struct{ sent atomic.Int32 }

func (c *countingNotifier) Name() string { return "count" }

func (c *countingNotifier) Send(context.Context, *alert.Notification) error {
	c.sent.Add(1)
	return nil
}

func TestRunOnceReportsEverywhere(t *testing.T) {
	dir := t.TempDir()
	st := &memStore{}
	n := &countingNotifier{}
	log, _ := logtest.NewNullLogger()
	s := New(&fakeRunner{}, st, alert.NewManager([]alert.Notifier{n}, nil), Options{ExportDir: dir, Log: log})

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, res.Status)
	assert.Equal(t, 1, st.saved())
	assert.Equal(t, int32(1), n.sent.Load())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestFatalRunIsPersistedButNotBroadcast(t *testing.T) {
	st := &memStore{}
	n := &countingNotifier{}
	runner := &fakeRunner{status: pipeline.StatusFatal, err: errors.New("unauthorized")}
	s := New(runner, st, alert.NewManager([]alert.Notifier{n}, nil), Options{})

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "unauthorized")
	assert.Equal(t, 1, st.saved())
	assert.Zero(t, n.sent.Load())
}

func TestRunsDoNotOverlap(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(runner, nil, nil, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RunOnce(context.Background())
	}()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(runner.block)
	<-done
}

func TestRunLoopStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	runner := &fakeRunner{}
	s := New(runner, &memStore{}, nil, Options{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
