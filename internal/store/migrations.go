package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    taxonomy     TEXT NOT NULL,
    mode         TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT NOT NULL DEFAULT '',
    total_valid  INTEGER NOT NULL DEFAULT 0,
    cursors      TEXT NOT NULL DEFAULT '[]',
    started_at   DATETIME NOT NULL,
    finished_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_taxonomy ON runs(taxonomy);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS symptom_counts (
    run_id   TEXT NOT NULL REFERENCES runs(id),
    rank     INTEGER NOT NULL,
    symptom  TEXT NOT NULL,
    count    INTEGER NOT NULL DEFAULT 0,
    trend    TEXT NOT NULL,
    PRIMARY KEY (run_id, symptom)
);

CREATE TABLE IF NOT EXISTS stream_outcomes (
    run_id       TEXT NOT NULL REFERENCES runs(id),
    seq          INTEGER NOT NULL,
    stream       TEXT NOT NULL,
    symptom      TEXT NOT NULL,
    window_range TEXT NOT NULL DEFAULT '',
    query        TEXT NOT NULL,
    fetched      INTEGER NOT NULL DEFAULT 0,
    valid        INTEGER NOT NULL DEFAULT 0,
    calls        INTEGER NOT NULL DEFAULT 0,
    stop         TEXT NOT NULL,
    counted      BOOLEAN NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS posts (
    run_id          TEXT NOT NULL REFERENCES runs(id),
    symptom         TEXT NOT NULL,
    post_id         INTEGER NOT NULL,
    created_at      DATETIME NOT NULL,
    text            TEXT NOT NULL,
    author_location TEXT NOT NULL DEFAULT '',
    reshares        INTEGER NOT NULL DEFAULT 0,
    likes           INTEGER NOT NULL DEFAULT 0,
    replies         INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, symptom, post_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
`
