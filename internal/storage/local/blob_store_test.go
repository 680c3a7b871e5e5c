package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStore_PutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "tenders.csv", "text/csv", []byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "tenders.csv"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "tenders.csv"))
	require.NoError(t, err)
	require.Equal(t, "a,b\n1,2\n", string(data))
}

func TestBlobStore_CreatesNestedDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "exports/2026/tenders.csv", "text/csv", []byte("x"))
	require.NoError(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "exports", "2026", "tenders.csv"))
	require.NoError(t, statErr)
}

func TestBlobStore_RejectsPathEscape(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.csv", "text/csv", []byte("x"))
	require.Error(t, err)
}

func TestBlobStore_RejectsEmptyConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "  ", "text/csv", []byte("x"))
	require.Error(t, err)
}

func TestBlobStore_ResolvePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "tenders.csv"), store.ResolvePath("tenders.csv"))
}
