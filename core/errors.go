package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cachepath "github.com/always-cache/cproxy/pkg/cache-path"
	cacheurl "github.com/always-cache/cproxy/pkg/cache-url"
	framer "github.com/always-cache/cproxy/pkg/response-framer"
)

var (
	ErrResolutionFailed = errors.New("host resolution failed")
	ErrConnectFailed    = errors.New("connection failed")
	ErrSendFailed       = errors.New("sending request failed")
	ErrRecvFailed       = errors.New("receiving response failed")
	ErrNotFound         = errors.New("not found (HTTP 404)")
	ErrResponseTooLarge = errors.New("response too large")
	ErrFileWriteFailed  = errors.New("writing cache file failed")
	ErrFileReadFailed   = errors.New("reading cache file failed")
)

// UpstreamError is returned for any status other than 200 and 404.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.StatusCode)
}

// HTTPStatus maps an Obtain error to the status code returned in serve mode.
func HTTPStatus(err error) int {
	var upstream *UpstreamError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, cacheurl.ErrMalformedURL),
		errors.Is(err, cacheurl.ErrInvalidPort),
		errors.Is(err, cachepath.ErrUnsafePath),
		errors.Is(err, cachepath.ErrPathTooLong):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream),
		errors.Is(err, ErrResolutionFailed),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrSendFailed),
		errors.Is(err, ErrRecvFailed),
		errors.Is(err, ErrResponseTooLarge),
		errors.Is(err, framer.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
