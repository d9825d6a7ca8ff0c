package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/symptomradar/pkg/pipeline"
	"github.com/elonfeng/symptomradar/pkg/trend"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is a persisted pipeline run. Ranking and Outcomes are only filled by
// GetRun and LatestRun.
type Run struct {
	ID          string                   `db:"id" json:"id"`
	Taxonomy    string                   `db:"taxonomy" json:"taxonomy"`
	Mode        string                   `db:"mode" json:"mode"`
	Status      string                   `db:"status" json:"status"`
	Error       string                   `db:"error" json:"error,omitempty"`
	TotalValid  int                      `db:"total_valid" json:"total_valid"`
	CursorsJSON string                   `db:"cursors" json:"-"`
	Cursors     []pipeline.CursorUpdate  `db:"-" json:"cursors,omitempty"`
	StartedAt   time.Time                `db:"started_at" json:"started_at"`
	FinishedAt  time.Time                `db:"finished_at" json:"finished_at"`
	Ranking     []trend.Row              `db:"-" json:"ranking,omitempty"`
	Outcomes    []pipeline.StreamOutcome `db:"-" json:"outcomes,omitempty"`
}

// RunListOpts controls run listing.
type RunListOpts struct {
	Taxonomy string
	Status   string
	Limit    int
}

// Store is the persistence interface.
type Store interface {
	SaveRun(ctx context.Context, res *pipeline.RunResult) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRun(ctx context.Context, taxonomy string) (*Run, error)
	ListRuns(ctx context.Context, opts RunListOpts) ([]Run, error)
	ListPosts(ctx context.Context, runID string) ([]pipeline.ValidPost, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun writes the run, its ranking, outcomes and valid posts in one
// transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, res *pipeline.RunResult) error {
	cursorsJSON, _ := json.Marshal(res.Cursors)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save run %s: %w", res.ID, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, taxonomy, mode, status, error, total_valid, cursors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, res.ID, res.Taxonomy, string(res.Mode), string(res.Status), res.Error,
		res.TotalValid(), string(cursorsJSON), res.StartedAt.UTC(), res.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", res.ID, err)
	}

	for _, row := range res.Ranking {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO symptom_counts (run_id, rank, symptom, count, trend)
			VALUES (?, ?, ?, ?, ?)
		`, res.ID, row.Rank, row.Symptom, row.Count, string(row.Trend))
		if err != nil {
			return fmt.Errorf("insert count %s/%s: %w", res.ID, row.Symptom, err)
		}
	}

	for i, o := range res.Outcomes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_outcomes (run_id, seq, stream, symptom, window_range, query, fetched, valid, calls, stop, counted, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, res.ID, i, o.Stream, o.Symptom, o.Window, o.Query, o.Fetched, o.Valid,
			o.Calls, string(o.Stop), o.Counted, o.Error)
		if err != nil {
			return fmt.Errorf("insert outcome %s/%d: %w", res.ID, i, err)
		}
	}

	for _, p := range res.ValidPosts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO posts (run_id, symptom, post_id, created_at, text, author_location, reshares, likes, replies)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, symptom, post_id) DO NOTHING
		`, res.ID, p.Symptom, p.ID, p.CreatedAt.UTC(), p.Text, p.AuthorLocation,
			p.Reshares, p.Likes, p.Replies)
		if err != nil {
			return fmt.Errorf("insert post %s/%d: %w", res.ID, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", res.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.GetContext(ctx, &run, "SELECT * FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	if err := s.fill(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRun returns the most recent run of a taxonomy, or of any taxonomy
// when taxonomy is empty.
func (s *SQLiteStore) LatestRun(ctx context.Context, taxonomy string) (*Run, error) {
	runs, err := s.ListRuns(ctx, RunListOpts{Taxonomy: taxonomy, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	run := runs[0]
	if err := s.fill(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts RunListOpts) ([]Run, error) {
	query := "SELECT * FROM runs WHERE 1=1"
	var args []any

	if opts.Taxonomy != "" {
		query += " AND taxonomy = ?"
		args = append(args, opts.Taxonomy)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}

	query += " ORDER BY started_at DESC, rowid DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var runs []Run
	if err := s.db.SelectContext(ctx, &runs, query, args...); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	for i := range runs {
		json.Unmarshal([]byte(runs[i].CursorsJSON), &runs[i].Cursors)
	}
	return runs, nil
}

// ListPosts returns a run's valid posts, most liked first.
func (s *SQLiteStore) ListPosts(ctx context.Context, runID string) ([]pipeline.ValidPost, error) {
	var posts []pipeline.ValidPost
	err := s.db.SelectContext(ctx, &posts, `
		SELECT symptom, post_id, created_at, text, author_location, reshares, likes, replies
		FROM posts WHERE run_id = ?
		ORDER BY likes DESC, reshares DESC, post_id DESC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list posts %s: %w", runID, err)
	}
	return posts, nil
}

func (s *SQLiteStore) fill(ctx context.Context, run *Run) error {
	json.Unmarshal([]byte(run.CursorsJSON), &run.Cursors)

	err := s.db.SelectContext(ctx, &run.Ranking,
		"SELECT rank, symptom, count, trend FROM symptom_counts WHERE run_id = ? ORDER BY rank", run.ID)
	if err != nil {
		return fmt.Errorf("get ranking %s: %w", run.ID, err)
	}

	err = s.db.SelectContext(ctx, &run.Outcomes, `
		SELECT stream, symptom, window_range, query, fetched, valid, calls, stop, counted, error
		FROM stream_outcomes WHERE run_id = ? ORDER BY seq
	`, run.ID)
	if err != nil {
		return fmt.Errorf("get outcomes %s: %w", run.ID, err)
	}
	return nil
}
