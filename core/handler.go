package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/always-cache/cproxy/rfc9211"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Router exposes the cache over HTTP.
//
//	GET    /fetch?url=<url>    cached body, fetched from the origin on a miss
//	GET    /entries?prefix=<p> indexed artifacts as JSON
//	DELETE /entries?url=<url>  evict an artifact
func (c *CProxy) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(c.log))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Handled request")
	}))
	r.Get("/fetch", c.handleFetch)
	r.Get("/entries", c.handleEntries)
	r.Delete("/entries", c.handleEvict)
	return r
}

func (c *CProxy) handleFetch(w http.ResponseWriter, r *http.Request) {
	logger := c.getLogger(r)
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	var cacheStatus rfc9211.CacheStatus
	a, err := c.Obtain(r.Context(), rawURL)
	if err != nil {
		status := HTTPStatus(err)
		cacheStatus.Forward(rfc9211.FwdReasonUriMiss)
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			cacheStatus.ForwardStatus(upstream.StatusCode)
		} else if status == http.StatusNotFound {
			cacheStatus.ForwardStatus(http.StatusNotFound)
		}
		w.Header().Set("Cache-Status", cacheStatus.String())
		http.Error(w, err.Error(), status)
		logger.Warn().Err(err).Str("url", rawURL).Int("status", status).Msg("Could not obtain resource")
		return
	}
	if a.Hit {
		cacheStatus.Hit()
	} else {
		cacheStatus.Forward(rfc9211.FwdReasonUriMiss)
		cacheStatus.ForwardStatus(http.StatusOK)
		cacheStatus.Stored()
	}

	f, size, err := c.store.Open(a.Path)
	if err != nil {
		http.Error(w, "Could not read cached file", HTTPStatus(err))
		logger.Error().Err(err).Str("path", a.Path).Msg("Could not read cached file")
		return
	}
	defer f.Close()
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Cache-Status", cacheStatus.String())
	if entry, ok, _ := c.index.Get(a.URL); ok && entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, f, size); err != nil {
		logger.Error().Err(err).Str("path", a.Path).Msg("Error writing to client")
	}
}

func (c *CProxy) handleEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := c.Entries(r.URL.Query().Get("prefix"))
	if err != nil {
		c.getLogger(r).Error().Err(err).Msg("Could not list index")
		http.Error(w, "Could not list index", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (c *CProxy) handleEvict(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	if err := c.Evict(rawURL); err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getLogger returns the logger from the request context.
// If no logger is found, it will return the proxy logger.
func (c *CProxy) getLogger(r *http.Request) *zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		logger = &c.log
	}
	return logger
}
