package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	cachepath "github.com/always-cache/cproxy/pkg/cache-path"
	cacheurl "github.com/always-cache/cproxy/pkg/cache-url"
)

// DirMaker makes sure the directories leading to a cache file exist.
// It must be idempotent and fail if a path component is not a directory.
type DirMaker interface {
	MkdirAll(path string, perm os.FileMode) error
}

type osDirMaker struct{}

func (osDirMaker) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Store is the on-disk cache, a directory tree mirroring host and URL path.
type Store struct {
	root string
	dirs DirMaker
}

// NewStore creates a store below root. An empty root means the working directory.
func NewStore(root string, dirs DirMaker) *Store {
	if dirs == nil {
		dirs = osDirMaker{}
	}
	return &Store{root: root, dirs: dirs}
}

func (s *Store) Root() string {
	return s.root
}

// Locate resolves where the resource for u is cached.
func (s *Store) Locate(u cacheurl.URL) (cachepath.Location, error) {
	return cachepath.Resolve(s.root, u.Host, u.Path)
}

// Stat reports whether loc is cached and the size of the cached file.
func (s *Store) Stat(loc cachepath.Location) (int64, bool, error) {
	info, err := os.Stat(loc.FullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s", ErrFileReadFailed, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, fmt.Errorf("%w: %s is not a regular file", ErrFileReadFailed, loc.FullPath)
	}
	return info.Size(), true, nil
}

// Open opens a cached file for reading.
func (s *Store) Open(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrFileReadFailed, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("%w: %s", ErrFileReadFailed, err)
	}
	return f, info.Size(), nil
}

// Remove deletes a cached file. Removing a missing file is not an error.
func (s *Store) Remove(loc cachepath.Location) error {
	if err := os.Remove(loc.FullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrFileWriteFailed, err)
	}
	return nil
}

// Writer returns a sink that writes loc through a temporary file.
// Nothing is created on disk until the sink is opened.
func (s *Store) Writer(loc cachepath.Location) *FileWriter {
	return &FileWriter{loc: loc, dirs: s.dirs}
}

// FileWriter writes a cache file atomically: the body goes into a
// temporary file next to the target which is renamed on Commit.
type FileWriter struct {
	loc  cachepath.Location
	dirs DirMaker
	file *os.File
}

func (w *FileWriter) Open() (io.Writer, error) {
	if w.file != nil {
		return nil, fmt.Errorf("cache file %s already open", w.loc.FullPath)
	}
	if err := w.dirs.MkdirAll(w.loc.Dir(), 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(w.loc.Dir(), "."+w.loc.Name()+".tmp-*")
	if err != nil {
		return nil, err
	}
	w.file = f
	return f, nil
}

// Opened reports whether Open was called successfully.
func (w *FileWriter) Opened() bool {
	return w.file != nil
}

// Commit moves the written file into place and returns its size.
func (w *FileWriter) Commit() (int64, error) {
	if w.file == nil {
		return 0, fmt.Errorf("%w: nothing written for %s", ErrFileWriteFailed, w.loc.FullPath)
	}
	f := w.file
	w.file = nil
	info, err := f.Stat()
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(f.Name(), 0644)
	}
	if err == nil {
		err = os.Rename(f.Name(), w.loc.FullPath)
	}
	if err != nil {
		os.Remove(f.Name())
		return 0, fmt.Errorf("%w: %s", ErrFileWriteFailed, err)
	}
	return info.Size(), nil
}

// Abort discards anything written so far. It is safe to call after Commit.
func (w *FileWriter) Abort() {
	if w.file == nil {
		return
	}
	w.file.Close()
	os.Remove(w.file.Name())
	w.file = nil
}
