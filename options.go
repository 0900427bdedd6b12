package httpcache

import (
	"log/slog"
	"net/http"
)

// Option configures a Transport, mirroring the teacher's TransportOption
// functional-options pattern.
type Option func(*Transport) error

// WithMarkCachedResponses configures whether responses served from the
// cache carry the XFromCache header. Default: true.
func WithMarkCachedResponses(mark bool) Option {
	return func(t *Transport) error {
		t.MarkCachedResponses = mark
		return nil
	}
}

// WithTransport sets the underlying http.RoundTripper used for network
// fetches and revalidation. If nil, http.DefaultTransport is used.
func WithTransport(rt http.RoundTripper) Option {
	return func(t *Transport) error {
		t.Transport = rt
		return nil
	}
}

// WithLogger sets the structured logger used for backend and policy
// diagnostics. If nil, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) error {
		t.Logger = l
		return nil
	}
}

// WithSpiderID sets the per-spider namespace passed to the storage
// backend's Open/Close/Retrieve/Store calls. Default: "default".
func WithSpiderID(id string) Option {
	return func(t *Transport) error {
		t.SpiderID = id
		return nil
	}
}
