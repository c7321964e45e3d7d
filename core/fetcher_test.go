package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	framer "github.com/always-cache/cproxy/pkg/response-framer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferSink records whether it was opened and what was written to it.
type bufferSink struct {
	opened bool
	buf    bytes.Buffer
}

func (s *bufferSink) Open() (io.Writer, error) {
	s.opened = true
	return &s.buf, nil
}

func testFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		ConnectTimeout: time.Second,
		ReadTimeout:    2 * time.Second,
	})
}

func TestFetchSendsMinimalRequest(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 2\r\n\r\nok")
	sink := &bufferSink{}

	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/a/b.txt", sink)
	require.NoError(t, err)

	assert.Equal(t, "GET /a/b.txt HTTP/1.0\r\nHost: 127.0.0.1\r\n\r\n", <-origin.requests)
}

func TestFetchBodyAcrossReads(t *testing.T) {
	// the connection stays open, so only the declared length can end the body
	origin := startHoldingOrigin(t,
		"HTTP/1.0 200 OK\r\nContent-Length: 5\r\n\r\nhe",
		"llo",
	)
	sink := &bufferSink{}

	outcome, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	require.NoError(t, err)
	assert.Equal(t, "hello", sink.buf.String())
	assert.Equal(t, 200, outcome.StatusCode)
	assert.Equal(t, int64(5), outcome.ContentLength)
	assert.Equal(t, int64(5), outcome.BodyBytes)
}

func TestFetchHeaderSplitAcrossReads(t *testing.T) {
	origin := startOrigin(t,
		"HTTP/1.0 200 OK\r\nContent-",
		"Length: 5\r\nContent-Type: text/plain\r\n\r",
		"\nhel",
		"lo",
	)
	sink := &bufferSink{}

	outcome, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	require.NoError(t, err)
	assert.Equal(t, "hello", sink.buf.String())
	assert.Equal(t, "text/plain", outcome.Header.Get("Content-Type"))
}

func TestFetchNotFound(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 404 Not Found\r\n\r\n")
	sink := &bufferSink{}

	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/missing", sink)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, sink.opened)
}

func TestFetchUpstreamError(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 503 Service Unavailable\r\nContent-Length: 4\r\n\r\n", "busy")
	sink := &bufferSink{}

	outcome, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream), "error is %v", err)
	assert.Equal(t, 503, upstream.StatusCode)
	assert.Equal(t, int64(4), outcome.ContentLength)
	assert.False(t, sink.opened)
}

func TestFetchUnknownLength(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 200 OK\r\nServer: test\r\n\r\nfirst ", "second ", "third")
	sink := &bufferSink{}

	outcome, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	require.NoError(t, err)
	assert.Equal(t, "first second third", sink.buf.String())
	assert.Equal(t, int64(-1), outcome.ContentLength)
}

func TestFetchZeroLength(t *testing.T) {
	origin := startHoldingOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 0\r\n\r\n")
	sink := &bufferSink{}

	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	require.NoError(t, err)
	assert.True(t, sink.opened)
	assert.Zero(t, sink.buf.Len())
}

func TestFetchTruncatedBody(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 10\r\n\r\nabc")
	sink := &bufferSink{}

	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	assert.ErrorIs(t, err, ErrRecvFailed)
}

func TestFetchMalformedResponse(t *testing.T) {
	origin := startOrigin(t, "SSH-2.0-OpenSSH\r\n\r\n")
	sink := &bufferSink{}

	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", sink)
	assert.ErrorIs(t, err, framer.ErrMalformedResponse)
	assert.False(t, sink.opened)
}

func TestFetchConnectFailed(t *testing.T) {
	_, err := testFetcher().Fetch(context.Background(), "127.0.0.1", closedPort(t), "/", &bufferSink{})
	assert.ErrorIs(t, err, ErrConnectFailed)
}

func TestFetchResolutionFailed(t *testing.T) {
	f := NewFetcher(FetcherConfig{
		Resolver: &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				return nil, errors.New("no dns in tests")
			},
		},
	})
	_, err := f.Fetch(context.Background(), "does-not-exist.invalid", 80, "/", &bufferSink{})
	assert.ErrorIs(t, err, ErrResolutionFailed)
}

func TestFetchTooLarge(t *testing.T) {
	origin := startOrigin(t, "HTTP/1.0 200 OK\r\n\r\n", "0123456789", "0123456789")
	f := NewFetcher(FetcherConfig{MaxBytes: 32, ReadTimeout: time.Second})

	_, err := f.Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", &bufferSink{})
	assert.ErrorIs(t, err, ErrResponseTooLarge)
}

func TestFetchReadTimeout(t *testing.T) {
	origin := startHoldingOrigin(t, "HTTP/1.0 200 OK\r\nContent-Length: 100\r\n\r\npartial")
	f := NewFetcher(FetcherConfig{ReadTimeout: 100 * time.Millisecond})

	_, err := f.Fetch(context.Background(), "127.0.0.1", origin.Port(), "/", &bufferSink{})
	assert.ErrorIs(t, err, ErrRecvFailed)
}

func TestFetchCancel(t *testing.T) {
	origin := startHoldingOrigin(t, "HTTP/1.0 200 OK\r\n\r\nstreaming")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := testFetcher().Fetch(ctx, "127.0.0.1", origin.Port(), "/", &bufferSink{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
