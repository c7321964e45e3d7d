// Package cacheurl splits plain http URLs into the parts needed to fetch and cache them.
package cacheurl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrMalformedURL = errors.New("malformed url")
	ErrInvalidPort  = errors.New("invalid port")
)

const (
	DefaultPort = 80
	DefaultPath = "/index.html"

	schemeSeparator = "://"
)

// URL holds the components of a parsed http URL.
// Path always starts with a slash.
type URL struct {
	Scheme string
	Host   string
	Port   int
	Path   string
}

// Parse splits the raw URL into scheme, host, port and path.
//
// A colon appearing before the first slash always introduces a port,
// which must consist of digits only. A port without a following path
// (e.g. "http://example.com:8080") is accepted and gets the default path.
func Parse(raw string) (URL, error) {
	var u URL
	raw = strings.TrimSpace(raw)

	scheme, rest, found := strings.Cut(raw, schemeSeparator)
	if !found {
		return u, fmt.Errorf("%w: missing scheme separator in %q", ErrMalformedURL, raw)
	}
	if !strings.EqualFold(scheme, "http") {
		return u, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedURL, scheme)
	}
	u.Scheme = "http"
	u.Port = DefaultPort
	u.Path = DefaultPath

	colon := strings.IndexByte(rest, ':')
	slash := strings.IndexByte(rest, '/')

	switch {
	case colon != -1 && (slash == -1 || colon < slash):
		u.Host = rest[:colon]
		portStr := rest[colon+1:]
		if slash != -1 {
			portStr = rest[colon+1 : slash]
			u.Path = rest[slash:]
		}
		port, err := parsePort(portStr)
		if err != nil {
			return URL{}, err
		}
		u.Port = port
	case slash != -1:
		u.Host = rest[:slash]
		u.Path = rest[slash:]
	default:
		u.Host = rest
	}

	if u.Host == "" {
		return URL{}, fmt.Errorf("%w: missing host in %q", ErrMalformedURL, raw)
	}
	return u, nil
}

// parsePort accepts a non-empty string of ASCII digits in the range 1-65535.
func parsePort(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty port", ErrInvalidPort)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
		}
	}
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidPort, s)
	}
	return port, nil
}

// Address returns host:port suitable for dialing.
func (u URL) Address() string {
	return u.Host + ":" + strconv.Itoa(u.Port)
}

// String reassembles the URL, omitting the default port.
func (u URL) String() string {
	if u.Port == DefaultPort {
		return u.Scheme + schemeSeparator + u.Host + u.Path
	}
	return u.Scheme + schemeSeparator + u.Address() + u.Path
}
