package offlinecache

import (
	"net/http"
	"net/url"
	"strings"
)

// SkipReason tells why a response was not written to the store.
type SkipReason string

const (
	SkipNonGet   SkipReason = "non-get"
	SkipMissing  SkipReason = "missing"
	SkipNonOK    SkipReason = "non-ok"
	SkipOpaque   SkipReason = "opaque"
	SkipTooLarge SkipReason = "too-large"
)

type Verdict struct {
	Cacheable bool
	Reason    SkipReason
}

// cacheability decides whether res may be persisted.
// Only complete 2xx answers to GET requests whose contents are readable by the
// application are stored; opaque cross-origin responses never are.
func (w *Worker) cacheability(req *http.Request, res *http.Response) Verdict {
	switch {
	case req.Method != http.MethodGet:
		return Verdict{Reason: SkipNonGet}
	case res == nil:
		return Verdict{Reason: SkipMissing}
	case res.StatusCode < 200 || res.StatusCode > 299:
		return Verdict{Reason: SkipNonOK}
	case w.opaque(req, res):
		return Verdict{Reason: SkipOpaque}
	case w.maxEntryBytes > 0 && res.ContentLength > w.maxEntryBytes:
		return Verdict{Reason: SkipTooLarge}
	}
	return Verdict{Cacheable: true}
}

// opaque reports whether res came from another origin without granting the
// application's origin access to it.
func (w *Worker) opaque(req *http.Request, res *http.Response) bool {
	u := req.URL
	if res.Request != nil && res.Request.URL != nil {
		u = res.Request.URL
	}
	if sameOrigin(w.scope, u) {
		return false
	}
	allowed := strings.TrimSpace(res.Header.Get("Access-Control-Allow-Origin"))
	return allowed != "*" && !strings.EqualFold(allowed, origin(w.scope))
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(origin(a), origin(b))
}

// origin serializes the scheme, host and explicit port of u.
func origin(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host
}
