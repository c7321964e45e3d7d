package rfc9211

import (
	"strconv"
	"strings"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates caches' handling
// §     of the request corresponding to the response it occurs within.

// CacheName identifies this cache in Cache-Status values.
const CacheName = "cproxy"

type FwdReason string

// §  2.2.  The fwd Parameter
// §
// §     "fwd" indicates that the request went forward towards the origin, and
// §     its value indicates why.
const (
	// §  bypass:  The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// §  method:  The request method's semantics require the request to be
	// §     forwarded.
	FwdReasonMethod FwdReason = "method"
	// §  uri-miss:  The cache did not contain any responses that matched the
	// §     request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// §  miss:  The cache did not contain any responses that could be used to
	// §     satisfy this request.
	FwdReasonMiss FwdReason = "miss"
)

// CacheStatus collects the parameters of a single Cache-Status member.
type CacheStatus struct {
	hit       bool
	fwdReason FwdReason
	fwdStatus int
	stored    bool
	detail    string
}

// §  2.1.  The hit Parameter
// §
// §     "hit", when true, indicates that the request was satisfied by the
// §     cache; that is, it was not forwarded, and the response was obtained
// §     from the cache.
func (cs *CacheStatus) Hit() {
	cs.hit = true
	cs.fwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.hit = false
	cs.fwdReason = reason
}

// §  2.3.  The fwd-status Parameter
// §
// §     "fwd-status" indicates what status code the next hop server returned
// §     in response to the forwarded request.
func (cs *CacheStatus) ForwardStatus(status int) {
	cs.fwdStatus = status
}

// §  2.5.  The stored Parameter
// §
// §     "stored" indicates whether the cache stored the response.
func (cs *CacheStatus) Stored() {
	cs.stored = true
}

// §  2.8.  The detail Parameter
func (cs *CacheStatus) Detail(detail string) {
	cs.detail = detail
}

func (cs *CacheStatus) String() string {
	b := &strings.Builder{}
	b.WriteString(CacheName)
	if cs.hit {
		b.WriteString("; hit")
	} else if cs.fwdReason != "" {
		b.WriteString("; fwd=")
		b.WriteString(string(cs.fwdReason))
		if cs.fwdStatus != 0 {
			b.WriteString("; fwd-status=")
			b.WriteString(strconv.Itoa(cs.fwdStatus))
		}
	}
	if cs.stored {
		b.WriteString("; stored")
	}
	if cs.detail != "" {
		b.WriteString("; detail=")
		b.WriteString(cs.detail)
	}
	return b.String()
}

