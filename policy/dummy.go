package policy

import (
	"net/http"

	"github.com/crawlkit/httpcache/storage"
)

// DummyPolicy is a permissive policy intended for offline replay: every
// request whose scheme is not ignored is cacheable, every response whose
// status is not ignored is storeable, and a cached record is always
// treated as fresh and valid.
type DummyPolicy struct {
	Config Config
}

// NewDummyPolicy returns a DummyPolicy with the documented defaults.
func NewDummyPolicy() *DummyPolicy {
	return &DummyPolicy{Config: NewConfig()}
}

func (p *DummyPolicy) ShouldCacheRequest(req *http.Request) bool {
	return !p.Config.schemeIgnored(req.URL.Scheme)
}

func (p *DummyPolicy) ShouldCacheResponse(resp *http.Response, _ *http.Request) bool {
	return !p.Config.codeIgnored(resp.StatusCode)
}

func (p *DummyPolicy) IsCachedResponseFresh(_ storage.Record, _ *http.Request) bool {
	return true
}

func (p *DummyPolicy) IsCachedResponseValid(_ storage.Record, _ *http.Response, _ *http.Request) bool {
	return true
}
