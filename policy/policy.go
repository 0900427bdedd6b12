// Package policy implements the cache policy engine: cacheability,
// freshness, and validity decisions per RFC 2616 §13/§14, plus a
// permissive pass-through policy for offline replay.
package policy

import (
	"net/http"

	"github.com/crawlkit/httpcache/storage"
)

// Policy is the common contract every cache policy implements.
type Policy interface {
	// ShouldCacheRequest reports whether req is eligible to be served from
	// or written to the cache at all.
	ShouldCacheRequest(req *http.Request) bool

	// ShouldCacheResponse reports whether resp (the result of actually
	// fetching req) should be stored.
	ShouldCacheResponse(resp *http.Response, req *http.Request) bool

	// IsCachedResponseFresh reports whether cached can be served without
	// contacting the origin. It may attach conditional validators
	// (If-Modified-Since, If-None-Match) to req when the caller should
	// revalidate instead.
	IsCachedResponseFresh(cached storage.Record, req *http.Request) bool

	// IsCachedResponseValid is called after a revalidation fetch to
	// decide whether to serve the cached record or the fresh response.
	IsCachedResponseValid(cached storage.Record, resp *http.Response, req *http.Request) bool
}

// Config holds the options recognised by every policy.
type Config struct {
	// IgnoreSchemes lists URL schemes that are never cached. Defaults to
	// {"file"} when constructed via NewConfig.
	IgnoreSchemes map[string]struct{}

	// IgnoreHTTPCodes lists status codes that are never cached. Empty by
	// default.
	IgnoreHTTPCodes map[int]struct{}
}

// NewConfig returns a Config with the documented defaults:
// ignore_schemes={"file"}, ignore_http_codes={}.
func NewConfig() Config {
	return Config{
		IgnoreSchemes:   map[string]struct{}{"file": {}},
		IgnoreHTTPCodes: map[int]struct{}{},
	}
}

func (c Config) schemeIgnored(scheme string) bool {
	_, ignored := c.IgnoreSchemes[scheme]
	return ignored
}

func (c Config) codeIgnored(code int) bool {
	_, ignored := c.IgnoreHTTPCodes[code]
	return ignored
}
