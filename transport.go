// Package httpcache provides an http.RoundTripper that composes a Policy
// and a Storage backend into the middleware contract described by §4.6:
// for each request it consults the policy for cacheability and freshness,
// serves from storage when fresh, attaches conditional validators and
// revalidates when stale, and stores eligible responses back.
package httpcache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/crawlkit/httpcache/policy"
	"github.com/crawlkit/httpcache/storage"
)

const (
	// XFromCache marks a response served from the cache without a network
	// round trip.
	XFromCache = "X-From-Cache"
	// XRevalidated marks a response that round-tripped to the origin for
	// revalidation and found the cached record still valid.
	XRevalidated = "X-Revalidated"
)

// Transport is an http.RoundTripper that caches responses per the policy
// and storage backend it is constructed with.
type Transport struct {
	// Transport is the underlying RoundTripper used for network fetches
	// and revalidation requests. If nil, http.DefaultTransport is used.
	Transport http.RoundTripper

	// Policy decides cacheability, freshness, and validity.
	Policy policy.Policy

	// Storage persists and retrieves cache records.
	Storage storage.Backend

	// SpiderID namespaces the storage backend's per-spider state. Default
	// "default".
	SpiderID string

	// MarkCachedResponses adds XFromCache/XRevalidated headers to
	// responses served from or validated against the cache.
	MarkCachedResponses bool

	Logger *slog.Logger
}

// NewTransport returns a Transport wired to pol and backend, with
// MarkCachedResponses true and SpiderID "default".
func NewTransport(pol policy.Policy, backend storage.Backend, opts ...Option) *Transport {
	t := &Transport{
		Policy:              pol,
		Storage:             backend,
		SpiderID:            "default",
		MarkCachedResponses: true,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			t.logger().Error("failed to apply transport option", "error", err)
		}
	}
	return t
}

// Client returns an *http.Client that caches responses through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t}
}

func (t *Transport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := policy.NewContext(req.Context())
	req = req.WithContext(ctx)

	if !t.Policy.ShouldCacheRequest(req) {
		return t.transport().RoundTrip(req)
	}

	cached, hit, err := t.Storage.Retrieve(ctx, t.SpiderID, req)
	if err != nil {
		t.logger().Warn("cache retrieve failed, falling back to network", "error", err)
		hit = false
	}

	if hit {
		if t.Policy.IsCachedResponseFresh(cached, req) {
			resp := responseFromRecord(cached, req)
			if t.MarkCachedResponses {
				resp.Header.Set(XFromCache, "1")
			}
			return resp, nil
		}
		// IsCachedResponseFresh attached conditional validators to req.
	}

	resp, err := t.transport().RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if hit && t.Policy.IsCachedResponseValid(cached, resp, req) {
		drain(resp)
		validated := responseFromRecord(cached, req)
		if t.MarkCachedResponses {
			validated.Header.Set(XFromCache, "1")
			validated.Header.Set(XRevalidated, "1")
		}
		return validated, nil
	}

	if t.Policy.ShouldCacheResponse(resp, req) {
		resp, err = t.storeResponse(ctx, req, resp)
		if err != nil {
			t.logger().Warn("cache store failed", "error", err)
		}
	}

	return resp, nil
}

// storeResponse buffers resp's body so it can both be stored and returned
// intact to the caller, matching the teacher's setupCachingBody approach.
func (t *Transport) storeResponse(ctx context.Context, req *http.Request, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(bytes.NewReader(nil))
		return resp, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	rec := recordFromResponse(resp, body)
	if err := t.Storage.Store(ctx, t.SpiderID, req, rec); err != nil {
		return resp, err
	}
	return resp, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func recordFromResponse(resp *http.Response, body []byte) storage.Record {
	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	return storage.Record{
		Status:   resp.StatusCode,
		URL:      url,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: nowUnix(),
	}
}

func responseFromRecord(rec storage.Record, req *http.Request) *http.Response {
	header := rec.Header.Clone()
	return &http.Response{
		Status:        http.StatusText(rec.Status),
		StatusCode:    rec.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(rec.Body)),
		ContentLength: int64(len(rec.Body)),
		Request:       req,
	}
}
