package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"time"

	framer "github.com/always-cache/cproxy/pkg/response-framer"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
)

const (
	readBufferSize = 8192

	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultMaxBytes       = 1 << 30
)

// Sink receives the body of a successful response.
// Open is called at most once, and only for a 200 response.
type Sink interface {
	Open() (io.Writer, error)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func() (io.Writer, error)

func (f SinkFunc) Open() (io.Writer, error) {
	return f()
}

type FetcherConfig struct {
	// Timeout for establishing the TCP connection.
	ConnectTimeout time.Duration
	// Timeout for each single read and for sending the request.
	ReadTimeout time.Duration
	// Upper bound for the total number of bytes received, header included.
	MaxBytes int64
	// Resolver used for host lookups. net.DefaultResolver if nil.
	Resolver *net.Resolver
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Outcome describes a completed exchange with the origin.
type Outcome struct {
	StatusCode    int
	Header        textproto.MIMEHeader
	ContentLength int64
	BodyBytes     int64
	Received      int64
}

// Fetcher performs single HTTP/1.0 GET requests over a plain TCP connection.
type Fetcher struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	maxBytes       int64
	resolver       *net.Resolver
	log            zerolog.Logger
}

func NewFetcher(config FetcherConfig) *Fetcher {
	f := &Fetcher{
		connectTimeout: config.ConnectTimeout,
		readTimeout:    config.ReadTimeout,
		maxBytes:       config.MaxBytes,
		resolver:       config.Resolver,
		log:            log.Logger,
	}
	if config.Logger != nil {
		f.log = *config.Logger
	}
	if f.connectTimeout == 0 {
		f.connectTimeout = DefaultConnectTimeout
	}
	if f.readTimeout == 0 {
		f.readTimeout = DefaultReadTimeout
	}
	if f.maxBytes == 0 {
		f.maxBytes = DefaultMaxBytes
	}
	if f.resolver == nil {
		f.resolver = net.DefaultResolver
	}
	return f
}

// Request returns the exact bytes sent to the origin.
func Request(host, path string) string {
	return "GET " + path + " HTTP/1.0\r\nHost: " + host + "\r\n\r\n"
}

// Fetch requests path from host:port and streams a 200 body into sink.
// A 404 fails with ErrNotFound and any other status with *UpstreamError;
// in both cases the sink is never opened.
func (f *Fetcher) Fetch(ctx context.Context, host string, port int, path string, sink Sink) (Outcome, error) {
	outcome := Outcome{ContentLength: -1}
	logger := f.log.With().Str("host", host).Int("port", port).Str("path", path).Logger()

	conn, err := f.dial(ctx, host, port)
	if err != nil {
		return outcome, err
	}
	defer conn.Close()

	// unblock a pending read or write when the context is cancelled
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-stop:
		}
	}()

	request := Request(host, path)
	logger.Trace().Str("request", request).Msg("Sending request")
	conn.SetWriteDeadline(time.Now().Add(f.readTimeout))
	if _, err := io.WriteString(conn, request); err != nil {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		return outcome, fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	frame := framer.New()
	buf := make([]byte, readBufferSize)
	var body io.Writer
	var upstream *UpstreamError

	for frame.State() != framer.Done {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		conn.SetReadDeadline(time.Now().Add(f.readTimeout))
		n, readErr := conn.Read(buf)
		outcome.Received += int64(n)
		if outcome.Received > f.maxBytes {
			return outcome, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, f.maxBytes)
		}

		if n > 0 {
			headerDone := frame.HeaderComplete()
			chunk, err := frame.Feed(buf[:n])
			if err != nil {
				return outcome, err
			}
			if !headerDone && frame.HeaderComplete() {
				outcome.StatusCode = frame.StatusCode
				outcome.Header = frame.Header
				outcome.ContentLength = frame.ContentLength
				logger.Debug().
					Int("status", frame.StatusCode).
					Int64("content-length", frame.ContentLength).
					Msg("Received response header")

				switch frame.StatusCode {
				case 200:
					if body, err = sink.Open(); err != nil {
						return outcome, fmt.Errorf("%w: %s", ErrFileWriteFailed, err)
					}
				case 404:
					return outcome, ErrNotFound
				default:
					// drain the body according to the framing, but do not keep it
					upstream = &UpstreamError{StatusCode: frame.StatusCode}
					body = io.Discard
				}
			}
			if len(chunk) > 0 {
				if _, err := body.Write(chunk); err != nil {
					return outcome, fmt.Errorf("%w: %s", ErrFileWriteFailed, err)
				}
				outcome.BodyBytes += int64(len(chunk))
			}
		}

		if readErr == io.EOF {
			if err := frame.Close(); err != nil {
				if upstream != nil {
					return outcome, upstream
				}
				if errors.Is(err, framer.ErrTruncatedBody) {
					return outcome, fmt.Errorf("%w: %s", ErrRecvFailed, err)
				}
				return outcome, err
			}
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			if upstream != nil {
				return outcome, upstream
			}
			return outcome, fmt.Errorf("%w: %s", ErrRecvFailed, readErr)
		}
	}

	if upstream != nil {
		return outcome, upstream
	}
	logger.Trace().Int64("body", outcome.BodyBytes).Int64("received", outcome.Received).Msg("Response complete")
	return outcome, nil
}

// dial resolves host and connects to the first address that accepts.
func (f *Fetcher) dial(ctx context.Context, host string, port int) (net.Conn, error) {
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		asciiHost, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrResolutionFailed, host, err)
		}
		addrs, err := f.resolver.LookupIPAddr(ctx, asciiHost)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrResolutionFailed, host, err)
		}
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s: no addresses", ErrResolutionFailed, host)
	}

	dialer := net.Dialer{Timeout: f.connectTimeout}
	portStr := strconv.Itoa(port)
	var lastErr error
	for _, ip := range ips {
		address := net.JoinHostPort(ip.String(), portStr)
		f.log.Trace().Str("host", host).Str("address", address).Msg("Connecting")
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%w: %s:%d: %s", ErrConnectFailed, host, port, lastErr)
}
