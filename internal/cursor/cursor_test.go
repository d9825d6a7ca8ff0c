package cursor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "cursors"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"file":  fs,
		"redis": NewRedisStore(client, ""),
	}
}

func TestMissingCursor(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			id, ok, err := s.Load(context.Background(), "cold/咳")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Zero(t, id)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, "cold/咳", 1834567890123456789))
			require.NoError(t, s.Save(ctx, "cold/頭痛", 42))

			id, ok, err := s.Load(ctx, "cold/咳")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, int64(1834567890123456789), id)

			require.NoError(t, s.Save(ctx, "cold/咳", 1834567890123456999))
			id, _, err = s.Load(ctx, "cold/咳")
			require.NoError(t, err)
			assert.Equal(t, int64(1834567890123456999), id)

			id, _, err = s.Load(ctx, "cold/頭痛")
			require.NoError(t, err)
			assert.Equal(t, int64(42), id, "streams must not share a cursor")
		})
	}
}

func TestCorruptFileCursor(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("cold/咳"), []byte("not-a-number\n"), 0o644))

	_, ok, err := s.Load(context.Background(), "cold/咳")
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.False(t, ok)
}

func TestCorruptRedisCursor(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("test:pollen/鼻水", "-7"))

	s := NewRedisStore(client, "test:")
	_, _, err := s.Load(context.Background(), "pollen/鼻水")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileCursorToleratesWhitespace(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path("k"), []byte("  123 \r\n"), 0o644))

	id, ok, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(123), id)
}

func TestFileSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.Save(context.Background(), "cold/発熱", i))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(s.Path("cold/発熱")), entries[0].Name())

	data, err := os.ReadFile(s.Path("cold/発熱"))
	require.NoError(t, err)
	assert.Equal(t, "5\n", string(data))
}

func TestFileKeysAreEscaped(t *testing.T) {
	s := &FileStore{Dir: "/tmp/c"}
	assert.Equal(t, "/tmp/c", filepath.Dir(s.Path("cold/咳")), "key separators must not create subdirectories")
}
