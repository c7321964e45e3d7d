package core

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	cacheurl "github.com/always-cache/cproxy/pkg/cache-url"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreWriterCommit(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/a/b/c.txt"})
	require.NoError(t, err)

	_, ok, err := store.Stat(loc)
	require.NoError(t, err)
	assert.False(t, ok)

	w := store.Writer(loc)
	out, err := w.Open()
	require.NoError(t, err)
	_, err = io.WriteString(out, "cached")
	require.NoError(t, err)

	// nothing visible before commit
	_, ok, _ = store.Stat(loc)
	assert.False(t, ok)

	size, err := w.Commit()
	require.NoError(t, err)
	assert.Equal(t, int64(6), size)
	w.Abort()

	size, ok, err = store.Stat(loc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(6), size)

	data, err := os.ReadFile(loc.FullPath)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(data))
}

func TestStoreWriterAbortLeavesNothing(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/x.bin"})
	require.NoError(t, err)

	w := store.Writer(loc)
	out, err := w.Open()
	require.NoError(t, err)
	io.WriteString(out, "partial")
	w.Abort()

	entries, err := os.ReadDir(loc.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStoreCommitWithoutOpen(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/x"})
	require.NoError(t, err)
	_, err = store.Writer(loc).Commit()
	assert.ErrorIs(t, err, ErrFileWriteFailed)
}

func TestStoreDirectoryConflict(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	// a file where a directory is needed
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "example.com", "a"), []byte("file"), 0644))

	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/a/b.txt"})
	require.NoError(t, err)
	_, err = store.Writer(loc).Open()
	assert.Error(t, err)
}

func TestStoreStatDirectory(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "example.com", "dir"), 0755))

	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/dir"})
	require.NoError(t, err)
	_, _, err = store.Stat(loc)
	assert.ErrorIs(t, err, ErrFileReadFailed)
}

type recordingDirMaker struct {
	paths []string
	err   error
}

func (d *recordingDirMaker) MkdirAll(path string, perm os.FileMode) error {
	d.paths = append(d.paths, path)
	if d.err != nil {
		return d.err
	}
	return os.MkdirAll(path, perm)
}

func TestStoreUsesDirMaker(t *testing.T) {
	root := t.TempDir()
	dirs := &recordingDirMaker{}
	store := NewStore(root, dirs)
	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/a/b.txt"})
	require.NoError(t, err)

	w := store.Writer(loc)
	_, err = w.Open()
	require.NoError(t, err)
	w.Abort()
	assert.Equal(t, []string{filepath.Join(root, "example.com", "a")}, dirs.paths)

	dirs.err = errors.New("read-only")
	_, err = store.Writer(loc).Open()
	assert.Error(t, err)
}

func TestStoreRemove(t *testing.T) {
	store := NewStore(t.TempDir(), nil)
	loc, err := store.Locate(cacheurl.URL{Host: "example.com", Port: 80, Path: "/gone"})
	require.NoError(t, err)
	assert.NoError(t, store.Remove(loc))
}
