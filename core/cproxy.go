package core

import (
	"context"
	"fmt"
	"io"
	"time"

	cacheurl "github.com/always-cache/cproxy/pkg/cache-url"
	serializer "github.com/always-cache/cproxy/pkg/response-serializer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Root of the cache directory tree. Empty means the working directory.
	Root string
	// Index of stored artifacts. An in-memory index is used if nil.
	Index Index
	// Creates the directories leading to a cache file. os.MkdirAll if nil.
	Dirs DirMaker
	// Opens obtained files for the user. Nothing is opened if nil.
	Viewer Viewer
	// Network settings for origin requests.
	Fetcher FetcherConfig
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Artifact is the local file representing a fetched resource.
type Artifact struct {
	URL  string `json:"url"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	// Hit is true if the file was already cached and no request was made.
	Hit bool `json:"hit"`
}

type CProxy struct {
	store   *Store
	fetcher *Fetcher
	index   Index
	viewer  Viewer
	log     zerolog.Logger
}

// CreateProxy sets up the cache store, the fetcher and the index.
func CreateProxy(config Config) *CProxy {
	c := &CProxy{
		store:  NewStore(config.Root, config.Dirs),
		index:  config.Index,
		viewer: config.Viewer,
		log:    log.Logger,
	}
	if config.Logger != nil {
		c.log = *config.Logger
	}
	if c.index == nil {
		c.index = NewMemIndex()
	}
	if config.Fetcher.Logger == nil {
		config.Fetcher.Logger = &c.log
	}
	c.fetcher = NewFetcher(config.Fetcher)
	return c
}

// Obtain returns the cached file for the URL, fetching it from the origin on a miss.
// A hit never touches the network, the file or the index.
// On failure no partial file is left behind.
func (c *CProxy) Obtain(ctx context.Context, rawURL string) (Artifact, error) {
	u, err := cacheurl.Parse(rawURL)
	if err != nil {
		return Artifact{}, err
	}
	loc, err := c.store.Locate(u)
	if err != nil {
		return Artifact{}, err
	}
	key := u.String()
	logger := c.log.With().Str("url", key).Logger()

	size, ok, err := c.store.Stat(loc)
	if err != nil {
		return Artifact{}, err
	}
	if ok {
		logger.Debug().Str("path", loc.FullPath).Int64("size", size).Msg("Cache hit")
		return Artifact{URL: key, Path: loc.FullPath, Size: size, Hit: true}, nil
	}

	logger.Debug().Str("path", loc.FullPath).Msg("Cache miss, fetching from origin")
	w := c.store.Writer(loc)
	defer w.Abort()

	start := time.Now()
	outcome, err := c.fetcher.Fetch(ctx, u.Host, u.Port, u.Path, w)
	if err != nil {
		logger.Warn().Err(err).Int("status", outcome.StatusCode).Msg("Could not fetch from origin")
		return Artifact{}, err
	}
	size, err = w.Commit()
	if err != nil {
		return Artifact{}, err
	}
	logger.Info().
		Str("path", loc.FullPath).
		Int64("size", size).
		Dur("elapsed", time.Since(start)).
		Msg("File saved locally")

	entry := IndexEntry{
		Key:        key,
		Path:       loc.FullPath,
		Size:       size,
		StatusCode: outcome.StatusCode,
		FetchedAt:  time.Now(),
	}
	if outcome.Header != nil {
		entry.ContentType = outcome.Header.Get("Content-Type")
	}
	if err := c.index.Put(entry); err != nil {
		// the file is in place, a stale index only affects listings
		logger.Error().Err(err).Msg("Could not write to index")
	}
	return Artifact{URL: key, Path: loc.FullPath, Size: size}, nil
}

// WriteArtifact writes the synthetic HTTP/1.0 response for a cached file.
func (c *CProxy) WriteArtifact(w io.Writer, a Artifact) (int64, error) {
	f, size, err := c.store.Open(a.Path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := serializer.WriteResponse(w, size, f)
	if err != nil {
		return n, fmt.Errorf("writing response for %s: %w", a.Path, err)
	}
	return n, nil
}

// Serve obtains the URL and writes its synthetic response to w.
func (c *CProxy) Serve(ctx context.Context, w io.Writer, rawURL string) (Artifact, error) {
	a, err := c.Obtain(ctx, rawURL)
	if err != nil {
		return a, err
	}
	n, err := c.WriteArtifact(w, a)
	if err != nil {
		return a, err
	}
	c.log.Debug().Str("url", a.URL).Int64("bytes", n).Msg("Total response bytes")
	return a, nil
}

// View opens the artifact with the configured viewer.
// Failures are reported but never touch the cached file.
func (c *CProxy) View(a Artifact) error {
	if c.viewer == nil {
		return nil
	}
	if err := c.viewer.View(a.Path); err != nil {
		c.log.Warn().Err(err).Str("path", a.Path).Msg("Could not open viewer")
		return err
	}
	return nil
}

// Entries lists the indexed artifacts whose URL starts with prefix.
func (c *CProxy) Entries(prefix string) ([]IndexEntry, error) {
	return c.index.All(prefix)
}

// Evict removes the cached file for the URL and its index entry.
func (c *CProxy) Evict(rawURL string) error {
	u, err := cacheurl.Parse(rawURL)
	if err != nil {
		return err
	}
	loc, err := c.store.Locate(u)
	if err != nil {
		return err
	}
	if err := c.store.Remove(loc); err != nil {
		return err
	}
	c.log.Debug().Str("url", u.String()).Str("path", loc.FullPath).Msg("Evicted")
	return c.index.Purge(u.String())
}

func (c *CProxy) Close() error {
	return c.index.Close()
}
