package policy

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crawlkit/httpcache/cachecontrol"
	"github.com/crawlkit/httpcache/httpdate"
	"github.com/crawlkit/httpcache/storage"
)

// maxAge is the heuristic freshness lifetime assigned to permanent
// redirects (300, 301, 308) when no explicit Cache-Control or Expires is
// present: one year in seconds.
const maxAge = 365 * 24 * 3600

// RFC2616Policy implements the faithful cacheability, freshness, and
// validation discipline described by RFC 2616 §13/§14, scoped to a
// private (non-shared) cache.
type RFC2616Policy struct {
	Config Config

	// AlwaysStore, if true, makes ShouldCacheResponse always return true
	// (subject only to the no-store/304 exclusions).
	AlwaysStore bool

	// IgnoreResponseCacheControls lists directive names stripped from the
	// response Cache-Control header before ShouldCacheResponse evaluates
	// it.
	IgnoreResponseCacheControls []string

	// Now is the clock used for freshness/age computation; defaults to
	// time.Now when nil, overridable in tests.
	Now func() time.Time

	Logger *slog.Logger
}

// NewRFC2616Policy returns an RFC2616Policy with documented defaults.
func NewRFC2616Policy() *RFC2616Policy {
	return &RFC2616Policy{
		Config: NewConfig(),
		Logger: slog.Default(),
	}
}

func (p *RFC2616Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *RFC2616Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// ShouldCacheRequest: false if scheme is ignored or if request
// Cache-Control contains no-store; else true.
func (p *RFC2616Policy) ShouldCacheRequest(req *http.Request) bool {
	if p.Config.schemeIgnored(req.URL.Scheme) {
		return false
	}
	cc := parseMemoized(req.Context(), req.Header.Get("Cache-Control"))
	return !cc.Has("no-store")
}

// ShouldCacheResponse evaluates the response Cache-Control after stripping
// IgnoreResponseCacheControls, per §4.3.2.
func (p *RFC2616Policy) ShouldCacheResponse(resp *http.Response, req *http.Request) bool {
	cc := parseMemoized(req.Context(), resp.Header.Get("Cache-Control")).Without(p.IgnoreResponseCacheControls)

	if cc.Has("no-store") {
		return false
	}
	if resp.StatusCode == http.StatusNotModified {
		return false
	}
	if p.AlwaysStore {
		return true
	}
	if _, ok := cc.Value("max-age"); ok {
		return true
	}
	if resp.Header.Get("Expires") != "" {
		return true
	}
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusMultipleChoices, http.StatusPermanentRedirect:
		return true
	case http.StatusOK, http.StatusNonAuthoritativeInfo, http.StatusUnauthorized:
		return resp.Header.Get("Last-Modified") != "" || resp.Header.Get("ETag") != ""
	default:
		return false
	}
}

// IsCachedResponseFresh implements §4.3.2's freshness test, attaching
// conditional validators to req when the cached record must be
// revalidated instead of served directly.
func (p *RFC2616Policy) IsCachedResponseFresh(cached storage.Record, req *http.Request) bool {
	ctx := req.Context()
	cachedCC := parseMemoized(ctx, cached.Header.Get("Cache-Control"))
	requestCC := parseMemoized(ctx, req.Header.Get("Cache-Control"))

	if cachedCC.Has("no-cache") || requestCC.Has("no-cache") {
		return false
	}

	now := p.now().Unix()
	freshnessLifetime := p.computeFreshnessLifetime(cached, now)
	currentAge := p.computeCurrentAge(cached, now)

	if v, ok := requestCC.Value("max-age"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			if n < 0 {
				n = 0
			}
			if n < freshnessLifetime {
				freshnessLifetime = n
			}
		}
	}

	if currentAge < freshnessLifetime {
		return true
	}

	if requestCC.Has("max-stale") && !cachedCC.Has("must-revalidate") {
		v, hasValue := requestCC.Value("max-stale")
		if !hasValue {
			return true
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			if n < 0 {
				n = 0
			}
			if currentAge < freshnessLifetime+n {
				return true
			}
		}
		// parse failure falls through to revalidation below.
	}

	attachValidators(cached, req)
	return false
}

// IsCachedResponseValid implements §4.3.2's post-revalidation decision.
func (p *RFC2616Policy) IsCachedResponseValid(cached storage.Record, resp *http.Response, _ *http.Request) bool {
	if resp.StatusCode == http.StatusNotModified {
		return true
	}
	if resp.StatusCode >= 500 {
		cachedCC := cachecontrol.Parse(cached.Header.Get("Cache-Control"))
		if !cachedCC.Has("must-revalidate") {
			return true
		}
	}
	return false
}

// computeFreshnessLifetime implements §4.3.2's compute_freshness_lifetime.
func (p *RFC2616Policy) computeFreshnessLifetime(cached storage.Record, now int64) int64 {
	cc := cachecontrol.Parse(cached.Header.Get("Cache-Control"))
	if v, ok := cc.Value("max-age"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			if n < 0 {
				n = 0
			}
			return n
		}
	}

	date := now
	if d, ok := httpdate.Parse(cached.Header.Get("Date")); ok {
		date = d
	}

	if expires := cached.Header.Get("Expires"); expires != "" {
		exp, ok := httpdate.Parse(expires)
		if !ok {
			return 0
		}
		lifetime := exp - date
		if lifetime < 0 {
			lifetime = 0
		}
		return lifetime
	}

	if lastModified := cached.Header.Get("Last-Modified"); lastModified != "" {
		if lm, ok := httpdate.Parse(lastModified); ok && lm <= date {
			return (date - lm) / 10
		}
	}

	switch cached.Status {
	case http.StatusMovedPermanently, http.StatusMultipleChoices, http.StatusPermanentRedirect:
		return maxAge
	default:
		return 0
	}
}

// computeCurrentAge implements §4.3.2's compute_current_age: the
// Date-based apparent age without request-time/response-time correction
// (a private-cache simplification appropriate when the round trip is
// negligible against content TTLs).
func (p *RFC2616Policy) computeCurrentAge(cached storage.Record, now int64) int64 {
	date := now
	if d, ok := httpdate.Parse(cached.Header.Get("Date")); ok {
		date = d
	}

	var age int64
	if now > date {
		age = now - date
	}

	if n, ok := httpdate.ParseAge(cached.Header.Get("Age")); ok && n > age {
		age = n
	}

	return age
}

// attachValidators copies Last-Modified/ETag from cached onto req as
// If-Modified-Since/If-None-Match, per §4.3.2.
func attachValidators(cached storage.Record, req *http.Request) {
	if lm := cached.Header.Get("Last-Modified"); lm != "" {
		req.Header.Set("If-Modified-Since", lm)
	}
	if etag := cached.Header.Get("ETag"); etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
}
