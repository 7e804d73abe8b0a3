package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrMalformedKey = errors.New("malformed cache key")

const methodSeparator = " "

// CacheKeyer builds normalized request identities: the method followed by the
// absolute request URL, query included, fragment dropped.
type CacheKeyer struct {
	// Base against which relative URLs are resolved.
	// Usually this is the application scope.
	Base *url.URL
}

func NewCacheKeyer(base *url.URL) CacheKeyer {
	return CacheKeyer{Base: base}
}

// Resolve resolves a possibly relative reference (e.g. a manifest entry like "./")
// against the base.
func (c CacheKeyer) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		if c.Base == nil {
			return nil, fmt.Errorf("cannot resolve relative url %q without base", ref)
		}
		u = c.Base.ResolveReference(u)
	}
	return u, nil
}

// Key returns the cache key for the given method and URL.
func (c CacheKeyer) Key(method string, u *url.URL) string {
	if !u.IsAbs() && c.Base != nil {
		u = c.Base.ResolveReference(u)
	}
	norm := *u
	norm.Fragment = ""
	norm.RawFragment = ""
	norm.Scheme = strings.ToLower(norm.Scheme)
	norm.Host = strings.ToLower(norm.Host)
	if norm.Path == "" && norm.Host != "" {
		norm.Path = "/"
	}
	return strings.ToUpper(method) + methodSeparator + norm.String()
}

// GetKey returns the cache key for a request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.Key(r.Method, r.URL)
}

// RefKey resolves ref and returns the GET cache key for it.
func (c CacheKeyer) RefKey(ref string) (string, error) {
	u, err := c.Resolve(ref)
	if err != nil {
		return "", err
	}
	return c.Key(http.MethodGet, u), nil
}

// GetRequestFromKey generates a request equal (caching-wise) to the request that
// resulted in the provided key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || uri == "" {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, key)
	}
	return http.NewRequest(method, uri, nil)
}
