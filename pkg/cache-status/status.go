// Package cachestatus builds the Cache-Status response field (RFC 9211)
// describing how a request was handled by the offline cache.
package cachestatus

import (
	"fmt"
	"net/http"
)

// HeaderName is the response field written by the proxy host.
const HeaderName = "Cache-Status"

// CacheName identifies this cache in the Cache-Status field.
const CacheName = "OfflineCache"

type Status string

const (
	StatusHit Status = "hit"
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdBypass FwdReason = "bypass"

	// The request method's semantics require the request to be
	// forwarded.
	FwdMethod FwdReason = "method"

	// The cache did not contain any responses that matched the
	// request URI.
	FwdUriMiss FwdReason = "uri-miss"

	// The cache was able to select a response, but the route
	// requires asking the network first.
	FwdRequest FwdReason = "request"
)

// Details used in addition to the RFC 9211 parameters.
const (
	DetailFallback = "fallback"
	DetailOffline  = "offline"
)

type CacheStatus struct {
	Status    Status
	FwdReason FwdReason
	Stored    bool
	Detail    string
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// IsHit reports whether the response came from the store.
func (cs CacheStatus) IsHit() bool {
	return cs.Status == StatusHit
}

func (cs CacheStatus) String() string {
	status := CacheName
	switch {
	case cs.Status == StatusHit:
		status += "; hit"
	case cs.Status == StatusFwd && cs.FwdReason != "":
		status = fmt.Sprintf("%s; fwd=%s", status, cs.FwdReason)
	}
	if cs.Stored {
		status += "; stored"
	}
	if cs.Detail != "" {
		status = status + "; detail=" + cs.Detail
	}
	return status
}

// Apply adds the field to the given header.
func (cs CacheStatus) Apply(h http.Header) {
	h.Add(HeaderName, cs.String())
}
