package cursor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
)

// FileStore keeps one file per stream under Dir. Saves are atomic: the value is
// written to a temp file in the same directory, synced and renamed over the
// target, so a crash leaves either the old or the new cursor.
type FileStore struct {
	Dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cursor dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the file backing key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.Dir, url.PathEscape(key)+".cursor")
}

func (s *FileStore) Load(_ context.Context, key string) (int64, bool, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read cursor %s: %w", key, err)
	}
	id, err := parse(key, string(data))
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *FileStore) Save(_ context.Context, key string, id int64) error {
	target := s.Path(key)
	tmp, err := os.CreateTemp(s.Dir, ".cursor-*")
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.WriteString(format(id)); err != nil {
		tmp.Close()
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("save cursor %s: %w", key, err)
	}
	return nil
}
