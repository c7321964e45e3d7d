// Package framer splits a raw HTTP/1.0 response stream into header and body.
//
// A Frame is fed the chunks exactly as they come off the socket. It buffers
// until the blank line ending the header, parses the status line and the
// Content-Length header, and from then on hands back only body bytes,
// never more than the declared length.
package framer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/textproto"
	"strconv"
	"strings"
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrTruncatedBody     = errors.New("truncated body")
)

// MaxHeaderBytes bounds the buffered response header.
const MaxHeaderBytes = 64 << 10

var headerTerminator = []byte("\r\n\r\n")

type State int

const (
	AwaitingHeaders State = iota
	InBody
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingHeaders:
		return "awaiting-headers"
	case InBody:
		return "in-body"
	case Done:
		return "done"
	}
	return "unknown"
}

// Frame holds the parse state of a single response.
type Frame struct {
	state  State
	header []byte

	Proto      string
	StatusCode int
	Header     textproto.MIMEHeader
	// ContentLength is -1 when the header is missing or unparsable.
	ContentLength int64
	// BodyWritten counts the body bytes handed out by Feed.
	BodyWritten int64
}

func New() *Frame {
	return &Frame{ContentLength: -1}
}

func (f *Frame) State() State {
	return f.state
}

// HeaderComplete reports whether the header terminator has been seen.
func (f *Frame) HeaderComplete() bool {
	return f.state != AwaitingHeaders
}

// LengthKnown reports whether the response declared a usable Content-Length.
func (f *Frame) LengthKnown() bool {
	return f.ContentLength >= 0
}

// Feed consumes the next chunk read from the connection and returns the
// part of it that belongs to the body. The returned slice may alias chunk.
func (f *Frame) Feed(chunk []byte) ([]byte, error) {
	switch f.state {
	case AwaitingHeaders:
		// the terminator may straddle the previous chunk
		from := len(f.header) - (len(headerTerminator) - 1)
		if from < 0 {
			from = 0
		}
		f.header = append(f.header, chunk...)
		i := bytes.Index(f.header[from:], headerTerminator)
		if i == -1 {
			if len(f.header) > MaxHeaderBytes {
				return nil, fmt.Errorf("%w: header exceeds %d bytes", ErrMalformedResponse, MaxHeaderBytes)
			}
			return nil, nil
		}
		end := from + i + len(headerTerminator)
		if err := f.parseHeader(f.header[:end]); err != nil {
			return nil, err
		}
		rest := f.header[end:]
		f.header = nil
		f.state = InBody
		return f.take(rest), nil
	case InBody:
		return f.take(chunk), nil
	}
	return nil, nil
}

// Close marks the end of the stream, i.e. the peer closed the connection.
// It fails if the header never completed or the declared length was not reached.
func (f *Frame) Close() error {
	state := f.state
	f.state = Done
	switch {
	case state == AwaitingHeaders:
		return fmt.Errorf("%w: connection closed before end of header", ErrMalformedResponse)
	case f.LengthKnown() && f.BodyWritten < f.ContentLength:
		return fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedBody, f.BodyWritten, f.ContentLength)
	}
	return nil
}

func (f *Frame) take(b []byte) []byte {
	if f.LengthKnown() {
		if remaining := f.ContentLength - f.BodyWritten; int64(len(b)) > remaining {
			b = b[:remaining]
		}
	}
	f.BodyWritten += int64(len(b))
	if f.LengthKnown() && f.BodyWritten >= f.ContentLength {
		f.state = Done
	}
	return b
}

func (f *Frame) parseHeader(raw []byte) error {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(raw)))
	line, err := tp.ReadLine()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	proto, status, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return fmt.Errorf("%w: status line %q", ErrMalformedResponse, line)
	}
	code, _, _ := strings.Cut(strings.TrimLeft(status, " "), " ")
	if len(code) != 3 {
		return fmt.Errorf("%w: status code %q", ErrMalformedResponse, code)
	}
	if f.StatusCode, err = strconv.Atoi(code); err != nil {
		return fmt.Errorf("%w: status code %q", ErrMalformedResponse, code)
	}
	f.Proto = proto

	header, err := tp.ReadMIMEHeader()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedResponse, err)
	}
	f.Header = header
	f.ContentLength = parseContentLength(header.Get("Content-Length"))
	return nil
}

// parseContentLength returns -1 for anything but a non-negative decimal.
func parseContentLength(v string) int64 {
	v = strings.TrimSpace(v)
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
