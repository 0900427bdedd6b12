package policy

import (
	"net/http"
	"testing"
	"time"

	"github.com/crawlkit/httpcache/httpdate"
	"github.com/crawlkit/httpcache/storage"
)

func newRecord(status int, header http.Header) storage.Record {
	if header == nil {
		header = make(http.Header)
	}
	return storage.Record{Status: status, Header: header}
}

func req(t *testing.T, method, rawURL string) *http.Request {
	t.Helper()
	r, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return r
}

func TestShouldCacheRequest(t *testing.T) {
	p := NewRFC2616Policy()

	if p.ShouldCacheRequest(req(t, http.MethodGet, "file:///etc/passwd")) {
		t.Error("file scheme must not be cacheable")
	}

	r := req(t, http.MethodGet, "https://example.com/")
	r.Header.Set("Cache-Control", "no-store")
	if p.ShouldCacheRequest(r) {
		t.Error("request with no-store must not be cacheable")
	}

	if !p.ShouldCacheRequest(req(t, http.MethodGet, "https://example.com/")) {
		t.Error("plain https request should be cacheable")
	}
}

func TestShouldCacheResponse(t *testing.T) {
	p := NewRFC2616Policy()
	r := req(t, http.MethodGet, "https://example.com/")

	tests := []struct {
		name   string
		resp   *http.Response
		expect bool
	}{
		{
			name:   "no-store",
			resp:   &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Cache-Control": {"no-store"}}},
			expect: false,
		},
		{
			name:   "304 never stored",
			resp:   &http.Response{StatusCode: http.StatusNotModified, Header: http.Header{}},
			expect: false,
		},
		{
			name:   "explicit max-age",
			resp:   &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Cache-Control": {"max-age=60"}}},
			expect: true,
		},
		{
			name:   "Expires header",
			resp:   &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Expires": {httpdate.Format(time.Now().Unix() + 60)}}},
			expect: true,
		},
		{
			name:   "permanent redirect",
			resp:   &http.Response{StatusCode: http.StatusMovedPermanently, Header: http.Header{}},
			expect: true,
		},
		{
			name:   "200 with validator",
			resp:   &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Etag": {`"v1"`}}},
			expect: true,
		},
		{
			name:   "200 with no heuristic basis",
			resp:   &http.Response{StatusCode: http.StatusOK, Header: http.Header{}},
			expect: false,
		},
		{
			name:   "404 is not cacheable by default",
			resp:   &http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}},
			expect: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ShouldCacheResponse(tc.resp, r); got != tc.expect {
				t.Errorf("ShouldCacheResponse() = %v, want %v", got, tc.expect)
			}
		})
	}
}

func TestShouldCacheResponseAlwaysStore(t *testing.T) {
	p := NewRFC2616Policy()
	p.AlwaysStore = true
	r := req(t, http.MethodGet, "https://example.com/")

	resp := &http.Response{StatusCode: http.StatusNotFound, Header: http.Header{}}
	if !p.ShouldCacheResponse(resp, r) {
		t.Error("AlwaysStore should cache a response with no explicit basis")
	}

	noStore := &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Cache-Control": {"no-store"}}}
	if p.ShouldCacheResponse(noStore, r) {
		t.Error("AlwaysStore must not override no-store")
	}
}

func TestShouldCacheResponseIgnoresConfiguredDirectives(t *testing.T) {
	p := NewRFC2616Policy()
	p.IgnoreResponseCacheControls = []string{"private"}
	r := req(t, http.MethodGet, "https://example.com/")

	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Cache-Control": {"private, max-age=60"}}}
	if !p.ShouldCacheResponse(resp, r) {
		t.Error("expected max-age to still drive caching once private is ignored")
	}
}

func TestIsCachedResponseFreshWithinMaxAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Add(-30 * time.Second).Unix())},
		"Cache-Control": {"max-age=60"},
	})
	r := req(t, http.MethodGet, "https://example.com/")

	if !p.IsCachedResponseFresh(cached, r) {
		t.Error("expected fresh: 30s old with 60s max-age")
	}
}

func TestIsCachedResponseFreshExpiredAttachesValidators(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Add(-120 * time.Second).Unix())},
		"Cache-Control": {"max-age=60"},
		"Last-Modified": {httpdate.Format(now.Add(-300 * time.Second).Unix())},
		"Etag":          {`"v1"`},
	})
	r := req(t, http.MethodGet, "https://example.com/")

	if p.IsCachedResponseFresh(cached, r) {
		t.Fatal("expected stale: 120s old with 60s max-age")
	}
	if got := r.Header.Get("If-Modified-Since"); got == "" {
		t.Error("expected If-Modified-Since to be attached on revalidation")
	}
	if got := r.Header.Get("If-None-Match"); got != `"v1"` {
		t.Errorf("expected If-None-Match = %q, got %q", `"v1"`, got)
	}
}

func TestIsCachedResponseFreshNoCacheForcesRevalidation(t *testing.T) {
	p := NewRFC2616Policy()
	cached := newRecord(http.StatusOK, http.Header{
		"Cache-Control": {"no-cache, max-age=600"},
		"Date":          {httpdate.Format(time.Now().Unix())},
	})
	r := req(t, http.MethodGet, "https://example.com/")

	if p.IsCachedResponseFresh(cached, r) {
		t.Error("no-cache on the cached record must force revalidation regardless of age")
	}
}

func TestIsCachedResponseFreshRequestMaxAgeCapsFreshness(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Add(-30 * time.Second).Unix())},
		"Cache-Control": {"max-age=600"},
	})
	r := req(t, http.MethodGet, "https://example.com/")
	r.Header.Set("Cache-Control", "max-age=10")

	if p.IsCachedResponseFresh(cached, r) {
		t.Error("request max-age=10 should cap freshness below the 30s current age")
	}
}

func TestIsCachedResponseFreshMaxStaleExtendsWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Add(-90 * time.Second).Unix())},
		"Cache-Control": {"max-age=60"},
	})
	r := req(t, http.MethodGet, "https://example.com/")
	r.Header.Set("Cache-Control", "max-stale=60")

	if !p.IsCachedResponseFresh(cached, r) {
		t.Error("max-stale=60 should admit a record that is 90s old against a 60s max-age")
	}
}

func TestIsCachedResponseFreshMaxStaleDeniedByMustRevalidate(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Add(-90 * time.Second).Unix())},
		"Cache-Control": {"max-age=60, must-revalidate"},
	})
	r := req(t, http.MethodGet, "https://example.com/")
	r.Header.Set("Cache-Control", "max-stale=60")

	if p.IsCachedResponseFresh(cached, r) {
		t.Error("must-revalidate on the cached record should override the client's max-stale")
	}
}

func TestIsCachedResponseValid(t *testing.T) {
	p := NewRFC2616Policy()
	cached := newRecord(http.StatusOK, http.Header{})
	r := req(t, http.MethodGet, "https://example.com/")

	notModified := &http.Response{StatusCode: http.StatusNotModified}
	if !p.IsCachedResponseValid(cached, notModified, r) {
		t.Error("304 response must validate the cached record")
	}

	serverError := &http.Response{StatusCode: http.StatusServiceUnavailable}
	if !p.IsCachedResponseValid(cached, serverError, r) {
		t.Error("5xx without must-revalidate should fall back to serving the cached record")
	}

	mustRevalidateCached := newRecord(http.StatusOK, http.Header{"Cache-Control": {"must-revalidate"}})
	if p.IsCachedResponseValid(mustRevalidateCached, serverError, r) {
		t.Error("must-revalidate must not permit serving stale on a 5xx")
	}

	freshResponse := &http.Response{StatusCode: http.StatusOK}
	if p.IsCachedResponseValid(cached, freshResponse, r) {
		t.Error("a successful revalidation fetch should not validate the old cached record")
	}
}

func TestComputeFreshnessLifetimeHeuristicLastModified(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	cached := newRecord(http.StatusOK, http.Header{
		"Date":          {httpdate.Format(now.Unix())},
		"Last-Modified": {httpdate.Format(now.Add(-100 * time.Second).Unix())},
	})
	lifetime := p.computeFreshnessLifetime(cached, now.Unix())
	if want := int64(10); lifetime != want {
		t.Errorf("computeFreshnessLifetime() = %d, want %d (10%% of 100s age)", lifetime, want)
	}
}

func TestIsCachedResponseFreshPermanentRedirectHeuristic(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p := NewRFC2616Policy()
	p.Now = func() time.Time { return now }

	cached := newRecord(http.StatusMovedPermanently, http.Header{
		"Date": {httpdate.Format(now.Add(-3600 * time.Second).Unix())},
	})
	r := req(t, http.MethodGet, "https://example.com/")

	if !p.IsCachedResponseFresh(cached, r) {
		t.Error("a permanent redirect an hour old should still be fresh under the one-year heuristic")
	}
}
