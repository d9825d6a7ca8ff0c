// Package cursor persists the highest processed post id per collection stream.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrCorrupt is returned when a stored cursor is not a decimal integer.
var ErrCorrupt = errors.New("cursor: corrupt value")

// Store loads and saves cursors by stream key. Load reports ok=false when no
// cursor exists yet; that is a first run, not an error.
type Store interface {
	Load(ctx context.Context, key string) (id int64, ok bool, err error)
	Save(ctx context.Context, key string, id int64) error
}

func parse(key, raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: %s: %q", ErrCorrupt, key, s)
	}
	return id, nil
}

func format(id int64) string {
	return strconv.FormatInt(id, 10) + "\n"
}
