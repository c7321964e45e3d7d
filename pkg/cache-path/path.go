package cachepath

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	ErrPathTooLong = errors.New("cache path too long")
	ErrUnsafePath  = errors.New("unsafe cache path")
)

const (
	// MaxPathLength bounds the host-relative cache path.
	MaxPathLength = 4096
	// MaxSegmentLength bounds a single file or directory name.
	MaxSegmentLength = 255
	// IndexFile is the file name used when the URL path is just "/".
	IndexFile = "index.html"
)

// Location is where a resource lives in the cache directory tree.
type Location struct {
	Root     string
	Host     string
	Segments []string
	// Path is the slash separated path relative to Root, starting with the host.
	Path string
	// FullPath is Path joined to Root using the OS separator.
	FullPath string
}

// Dir returns the directory that will contain the cached file.
func (l Location) Dir() string {
	return filepath.Dir(l.FullPath)
}

// Name returns the cached file name.
func (l Location) Name() string {
	return filepath.Base(l.FullPath)
}

// Segments splits a URL path on slashes, dropping empty segments.
func Segments(urlPath string) []string {
	segments := make([]string, 0, strings.Count(urlPath, "/")+1)
	for _, s := range strings.Split(urlPath, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Resolve maps a host and URL path to a location below root.
// The last segment is the file name; all others become directories.
func Resolve(root, host, urlPath string) (Location, error) {
	loc := Location{
		Root:     root,
		Host:     host,
		Segments: Segments(urlPath),
	}
	if err := checkSegment(host); err != nil {
		return Location{}, err
	}
	for _, s := range loc.Segments {
		if err := checkSegment(s); err != nil {
			return Location{}, err
		}
	}

	names := loc.Segments
	if len(names) == 0 {
		names = []string{IndexFile}
	}
	loc.Path = host + "/" + strings.Join(names, "/")
	if len(loc.Path) > MaxPathLength {
		return Location{}, fmt.Errorf("%w: %d bytes (max %d)", ErrPathTooLong, len(loc.Path), MaxPathLength)
	}
	loc.FullPath = filepath.Join(root, filepath.FromSlash(loc.Path))
	return loc, nil
}

func checkSegment(s string) error {
	switch {
	case s == "" || s == "." || s == "..":
		return fmt.Errorf("%w: segment %q", ErrUnsafePath, s)
	case strings.ContainsAny(s, "\x00\\"):
		return fmt.Errorf("%w: segment %q", ErrUnsafePath, s)
	case len(s) > MaxSegmentLength:
		return fmt.Errorf("%w: segment of %d bytes (max %d)", ErrPathTooLong, len(s), MaxSegmentLength)
	}
	return nil
}
