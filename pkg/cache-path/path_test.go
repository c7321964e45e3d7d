package cachepath

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentsDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c.ext"}, Segments("/a//b/c.ext"))
	assert.Equal(t, []string{"posts", "1"}, Segments("/posts/1/"))
	assert.Empty(t, Segments("/"))
	assert.Empty(t, Segments("///"))
}

func TestResolve(t *testing.T) {
	loc, err := Resolve("", "example.com", "/A/B/C.ext")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C.ext"}, loc.Segments)
	assert.Equal(t, "example.com/A/B/C.ext", loc.Path)
	assert.Equal(t, filepath.FromSlash("example.com/A/B/C.ext"), loc.FullPath)
	assert.Equal(t, "C.ext", loc.Name())
	assert.Equal(t, filepath.FromSlash("example.com/A/B"), loc.Dir())
}

func TestResolveWithRoot(t *testing.T) {
	root := t.TempDir()
	loc, err := Resolve(root, "example.com", "/index.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "example.com", "index.html"), loc.FullPath)
}

func TestResolveRootPath(t *testing.T) {
	loc, err := Resolve("cache", "example.com", "/")
	require.NoError(t, err)
	assert.Empty(t, loc.Segments)
	assert.Equal(t, "example.com/index.html", loc.Path)
	assert.Equal(t, filepath.Join("cache", "example.com", "index.html"), loc.FullPath)
}

func TestResolveRejectsTraversal(t *testing.T) {
	for _, p := range []string{"/../etc/passwd", "/a/./b", "/a/../../b"} {
		_, err := Resolve("", "example.com", p)
		assert.ErrorIs(t, err, ErrUnsafePath, p)
	}
	_, err := Resolve("", "..", "/x")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestResolveTooLong(t *testing.T) {
	_, err := Resolve("", "example.com", "/"+strings.Repeat("a", MaxSegmentLength+1))
	assert.ErrorIs(t, err, ErrPathTooLong)

	long := strings.Repeat("/"+strings.Repeat("d", 200), 25)
	_, err = Resolve("", "example.com", long)
	assert.ErrorIs(t, err, ErrPathTooLong)
}
