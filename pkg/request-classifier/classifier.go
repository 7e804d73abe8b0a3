// Package classifier maps intercepted requests to the caching strategy that
// should serve them.
package classifier

import (
	"net/http"
	"strings"
)

// RouteClass is the caching strategy bucket of a request.
type RouteClass string

const (
	// Bypass lets the request through untouched.
	Bypass RouteClass = "bypass"
	// NetworkFirst asks the network and falls back to the store.
	NetworkFirst RouteClass = "network-first"
	// CacheFirst serves from the store and populates it on a miss.
	CacheFirst RouteClass = "cache-first"
)

// Valid reports whether c is one of the known classes.
func (c RouteClass) Valid() bool {
	return c == Bypass || c == NetworkFirst || c == CacheFirst
}

// Reason explains a classification.
type Reason string

const (
	ReasonMethod   Reason = "method"
	ReasonOrigin   Reason = "origin"
	ReasonRule     Reason = "rule"
	ReasonDocument Reason = "document"
	ReasonAsset    Reason = "asset"
)

type Decision struct {
	Class  RouteClass
	Reason Reason
}

// Config holds the classification inputs.
type Config struct {
	// Hosts (and their subdomains) that are never intercepted.
	ExcludedOrigins []string
	// Path suffixes denoting a page document, e.g. ".html".
	DocumentSuffixes []string
	// Paths that denote the application root. Defaults to "/" and "".
	RootPaths []string
	// Ordered overrides, first match wins.
	Rules Rules
}

// Classifier is immutable after construction and safe for concurrent use.
type Classifier struct {
	excluded  []string
	suffixes  []string
	rootPaths map[string]struct{}
	rules     Rules
}

func New(config Config) Classifier {
	c := Classifier{
		rootPaths: map[string]struct{}{"": {}, "/": {}},
		rules:     config.Rules,
	}
	for _, origin := range config.ExcludedOrigins {
		if origin = strings.ToLower(strings.Trim(strings.TrimSpace(origin), ".")); origin != "" {
			c.excluded = append(c.excluded, origin)
		}
	}
	for _, suffix := range config.DocumentSuffixes {
		if suffix != "" {
			c.suffixes = append(c.suffixes, strings.ToLower(suffix))
		}
	}
	for _, p := range config.RootPaths {
		c.rootPaths[p] = struct{}{}
	}
	return c
}

// Classify returns the route class of r.
func (c Classifier) Classify(r *http.Request) RouteClass {
	return c.Explain(r).Class
}

// Explain returns the route class of r together with the reason.
func (c Classifier) Explain(r *http.Request) Decision {
	if c.ExcludedHost(r.URL.Hostname()) {
		return Decision{Bypass, ReasonOrigin}
	}
	if r.Method != http.MethodGet {
		return Decision{Bypass, ReasonMethod}
	}
	if rule := c.rules.find(r); rule != nil {
		return Decision{rule.Class, ReasonRule}
	}
	if c.IsDocument(r.URL.Path) {
		return Decision{NetworkFirst, ReasonDocument}
	}
	return Decision{CacheFirst, ReasonAsset}
}

// ExcludedHost reports whether host is one of the excluded origins or a
// subdomain of one.
func (c Classifier) ExcludedHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, origin := range c.excluded {
		if host == origin || strings.HasSuffix(host, "."+origin) {
			return true
		}
	}
	return false
}

// IsDocument reports whether path denotes a page document.
func (c Classifier) IsDocument(path string) bool {
	if _, ok := c.rootPaths[path]; ok {
		return true
	}
	lower := strings.ToLower(path)
	for _, suffix := range c.suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
