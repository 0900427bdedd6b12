// Package kvbackend adapts any kv.Store (a flat, byte-oriented
// get/set/delete contract) into the fuller storage.Backend contract by
// layering fingerprint derivation, the stable record codec, and
// expiration on top. Every concrete kv.Store in this module's
// subpackages (redis, hazelcast, natskv, memcache, freecache, memory)
// is wired into storage.Backend through this one adapter.
package kvbackend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/kv"
	"github.com/crawlkit/httpcache/storage"
)

// Adapter wraps a kv.Store to satisfy storage.Backend.
type Adapter struct {
	// KV is the underlying flat byte store.
	KV kv.Store

	// HeaderSubset lists the request headers that participate in the
	// fingerprint, per §4.1. Empty by default.
	HeaderSubset []string

	// ExpirationSecs configures §4.4's expiry check; 0 means records
	// never expire.
	ExpirationSecs int64

	// Now returns the current time as epoch seconds; defaults to the
	// wall clock, overridable in tests.
	Now func() int64

	Logger *slog.Logger
}

// New returns an Adapter wrapping store with the given options applied.
func New(store kv.Store, opts ...Opt) *Adapter {
	a := &Adapter{KV: store}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Opt configures an Adapter.
type Opt func(*Adapter)

// WithHeaderSubset sets the fingerprint header subset.
func WithHeaderSubset(headers []string) Opt {
	return func(a *Adapter) { a.HeaderSubset = headers }
}

// WithExpiration sets expiration_secs.
func WithExpiration(secs int64) Opt {
	return func(a *Adapter) { a.ExpirationSecs = secs }
}

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) Opt {
	return func(a *Adapter) { a.Logger = l }
}

func (a *Adapter) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *Adapter) now() int64 {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().Unix()
}

// Open is a no-op: kv.Store implementations open their connection at
// construction time, so spider-scoped namespacing has nothing further to
// prepare here. spiderID is accepted for interface compliance.
func (a *Adapter) Open(_ context.Context, _ string) error {
	return nil
}

// Close releases the underlying store.
func (a *Adapter) Close(_ context.Context, _ string) error {
	return a.KV.Close()
}

// Retrieve implements storage.Backend.Retrieve.
func (a *Adapter) Retrieve(ctx context.Context, spiderID string, req *http.Request) (storage.Record, bool, error) {
	key := a.key(spiderID, req)
	data, ok, err := a.KV.Get(ctx, key)
	if err != nil {
		return storage.Record{}, false, err
	}
	if !ok {
		return storage.Record{}, false, nil
	}

	rec, err := storage.Decode(data)
	if err != nil {
		a.logger().Warn("cache record decode failed, treating as miss", "key", key, "error", err)
		return storage.Record{}, false, nil
	}

	if storage.IsExpired(rec.StoredAt, a.ExpirationSecs, a.now()) {
		return storage.Record{}, false, nil
	}

	return rec, true, nil
}

// Store implements storage.Backend.Store.
func (a *Adapter) Store(ctx context.Context, spiderID string, req *http.Request, rec storage.Record) error {
	key := a.key(spiderID, req)
	if err := a.KV.Set(ctx, key, storage.Encode(rec)); err != nil {
		return fmt.Errorf("kvbackend: store failed for key %q: %w", key, storage.ErrStoreFailure)
	}
	return nil
}

func (a *Adapter) key(spiderID string, req *http.Request) string {
	return spiderID + ":" + fingerprint.Of(req, a.HeaderSubset)
}
