// Package delta also provides Backend, the delta-compressed storage.Backend
// of §4.5: it composes a kv.Store (not storage.Backend — it manages the
// <fp>|_data/<fp>|_time column suffixing itself) and holds a per-host
// mutex across every read-modify-write of that host's source group.
package delta

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/kv"
	"github.com/crawlkit/httpcache/storage"
)

// SelectSourceFunc picks which existing source a new, ungrouped target
// should be delta-encoded against. The default is the first key of the
// group in insertion order (§9).
type SelectSourceFunc func(target []byte, group *SourceGroup) string

// Backend is the delta-compressed storage.Backend. It extends an
// embedded kv.Store with per-host source/target grouping and binary
// delta encoding between a chosen source body and related target
// bodies, transparently undoing/redoing gzip/deflate Content-Encoding
// around the diff so the codec always operates on decoded text.
type Backend struct {
	// KV is the underlying flat byte store the delta graph is laid out
	// on top of.
	KV kv.Store

	// HeaderSubset lists the request headers that participate in the
	// fingerprint, per §4.1.
	HeaderSubset []string

	// ExpirationSecs configures §4.4's expiry check; 0 means records
	// never expire.
	ExpirationSecs int64

	// Now returns the current time as epoch seconds; defaults to the
	// wall clock, overridable in tests.
	Now func() int64

	// SelectSource overrides the default first-key-of-group policy.
	SelectSource SelectSourceFunc

	Logger *slog.Logger

	mu        sync.Mutex
	hostLocks map[string]*sync.Mutex
}

// Opt configures a Backend.
type Opt func(*Backend)

// WithHeaderSubset sets the fingerprint header subset.
func WithHeaderSubset(headers []string) Opt {
	return func(b *Backend) { b.HeaderSubset = headers }
}

// WithExpiration sets expiration_secs.
func WithExpiration(secs int64) Opt {
	return func(b *Backend) { b.ExpirationSecs = secs }
}

// WithSelectSource overrides the default source-selection policy.
func WithSelectSource(f SelectSourceFunc) Opt {
	return func(b *Backend) { b.SelectSource = f }
}

// WithLogger sets the backend's logger.
func WithLogger(l *slog.Logger) Opt {
	return func(b *Backend) { b.Logger = l }
}

// New wraps store as a delta-compressed storage.Backend.
func New(store kv.Store, opts ...Opt) *Backend {
	b := &Backend{KV: store, hostLocks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Backend) now() int64 {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().Unix()
}

// Open is a no-op: kv.Store implementations open their connection at
// construction time. spiderID is accepted for interface compliance.
func (b *Backend) Open(_ context.Context, _ string) error {
	return nil
}

// Close releases the underlying store.
func (b *Backend) Close(_ context.Context, _ string) error {
	return b.KV.Close()
}

func (b *Backend) lockHost(spiderID, host string) func() {
	key := spiderID + "\x00" + host

	b.mu.Lock()
	l, ok := b.hostLocks[key]
	if !ok {
		l = &sync.Mutex{}
		b.hostLocks[key] = l
	}
	b.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func hostnameOf(req *http.Request, fallback string) string {
	if req.URL != nil {
		if h := req.URL.Hostname(); h != "" {
			return h
		}
	}
	return fallback
}

func dataKey(spiderID, id string) string {
	return spiderID + ":" + id + "|_data"
}

func timeKey(spiderID, id string) string {
	return spiderID + ":" + id + "|_time"
}

func hostEntityID(host string) string {
	return "host:" + host
}

func (b *Backend) loadGroup(ctx context.Context, spiderID, host string) (*SourceGroup, error) {
	data, ok, err := b.KV.Get(ctx, dataKey(spiderID, hostEntityID(host)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return decodeGroup(data)
}

func (b *Backend) saveGroup(ctx context.Context, spiderID, host string, g *SourceGroup) error {
	return b.KV.Set(ctx, dataKey(spiderID, hostEntityID(host)), encodeGroup(g))
}

func (b *Backend) readRaw(ctx context.Context, spiderID, id string) ([]byte, bool, error) {
	return b.KV.Get(ctx, dataKey(spiderID, id))
}

func (b *Backend) writeRaw(ctx context.Context, spiderID, id string, blob []byte, storedAt int64) error {
	if err := b.KV.Set(ctx, dataKey(spiderID, id), blob); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(storedAt))
	return b.KV.Set(ctx, timeKey(spiderID, id), buf[:])
}

func (b *Backend) selectSource(target []byte, g *SourceGroup) string {
	if b.SelectSource != nil {
		return b.SelectSource(target, g)
	}
	return g.sources[0]
}

// Retrieve implements storage.Backend.Retrieve.
func (b *Backend) Retrieve(ctx context.Context, spiderID string, req *http.Request) (storage.Record, bool, error) {
	fp := fingerprint.Of(req, b.HeaderSubset)
	host := hostnameOf(req, spiderID)

	unlock := b.lockHost(spiderID, host)
	defer unlock()

	g, err := b.loadGroup(ctx, spiderID, host)
	if err != nil {
		return storage.Record{}, false, err
	}
	if g == nil {
		return storage.Record{}, false, nil
	}

	blob, ok, err := b.readRaw(ctx, spiderID, fp)
	if err != nil {
		return storage.Record{}, false, err
	}
	if !ok {
		return storage.Record{}, false, nil
	}

	var full []byte
	if g.isSource(fp) {
		full = blob
	} else {
		source, ok := g.sourceFor(fp)
		if !ok {
			return storage.Record{}, false, nil
		}
		sourceBlob, ok, err := b.readRaw(ctx, spiderID, source)
		if err != nil {
			return storage.Record{}, false, err
		}
		if !ok {
			b.logger().Warn("delta source missing for target, treating as miss", "fingerprint", fp, "source", source)
			return storage.Record{}, false, nil
		}
		full, err = Decode(blob, sourceBlob)
		if err != nil {
			b.logger().Warn("delta decode failed, treating as miss", "fingerprint", fp, "error", err)
			return storage.Record{}, false, nil
		}
	}

	rec, err := storage.Decode(full)
	if err != nil {
		b.logger().Warn("delta record decode failed, treating as miss", "fingerprint", fp, "error", err)
		return storage.Record{}, false, nil
	}

	if storage.IsExpired(rec.StoredAt, b.ExpirationSecs, b.now()) {
		return storage.Record{}, false, nil
	}

	encoding := contentEncoding(rec.Header)
	if recompressed, err := recompressBody(rec.Body, encoding); err != nil {
		b.logger().Warn("delta recompress failed, returning decompressed body", "fingerprint", fp, "error", err)
	} else {
		rec.Body = recompressed
	}

	return rec, true, nil
}

// Store implements storage.Backend.Store, following §4.5's store path.
func (b *Backend) Store(ctx context.Context, spiderID string, req *http.Request, rec storage.Record) error {
	fp := fingerprint.Of(req, b.HeaderSubset)
	host := hostnameOf(req, spiderID)

	encoding := contentEncoding(rec.Header)
	decompressed, err := decompressBody(rec.Body, encoding)
	if err != nil {
		return fmt.Errorf("delta: decompressing body for %q: %w", fp, storage.ErrStoreFailure)
	}
	targetRec := rec
	targetRec.Body = decompressed
	targetBlob := storage.Encode(targetRec)

	unlock := b.lockHost(spiderID, host)
	defer unlock()

	g, err := b.loadGroup(ctx, spiderID, host)
	if err != nil {
		return fmt.Errorf("delta: loading source group for host %q: %w", host, storage.ErrStoreFailure)
	}

	switch {
	case g == nil:
		g = newSourceGroup()
		g.addSource(fp)
		if err := b.writeRaw(ctx, spiderID, fp, targetBlob, rec.StoredAt); err != nil {
			return fmt.Errorf("delta: writing new source %q: %w", fp, storage.ErrStoreFailure)
		}

	case g.isSource(fp):
		if err := b.supersedeSource(ctx, spiderID, g, fp, targetBlob); err != nil {
			return fmt.Errorf("delta: superseding source %q: %w", fp, storage.ErrStoreFailure)
		}
		if err := b.writeRaw(ctx, spiderID, fp, targetBlob, rec.StoredAt); err != nil {
			return fmt.Errorf("delta: writing replacement source %q: %w", fp, storage.ErrStoreFailure)
		}

	default:
		source, alreadyTarget := g.sourceFor(fp)
		if !alreadyTarget {
			source = b.selectSource(targetBlob, g)
		}
		sourceBlob, ok, err := b.readRaw(ctx, spiderID, source)
		if err != nil || !ok {
			return fmt.Errorf("delta: reading source %q: %w", source, storage.ErrStoreFailure)
		}
		delta := Encode(sourceBlob, targetBlob)
		if err := b.writeRaw(ctx, spiderID, fp, delta, rec.StoredAt); err != nil {
			return fmt.Errorf("delta: writing target %q: %w", fp, storage.ErrStoreFailure)
		}
		if !alreadyTarget {
			g.addTarget(source, fp)
		}
	}

	if err := b.saveGroup(ctx, spiderID, host, g); err != nil {
		return fmt.Errorf("delta: committing source group for host %q: %w", host, storage.ErrStoreFailure)
	}
	return nil
}

// supersedeSource re-encodes every existing target of fp (currently a
// source) against newSourceBlob, before fp's own verbatim body is
// overwritten by the caller. A target whose delta no longer decodes
// against the old source is dropped from the group rather than failing
// the whole store — a broken delta record invalidates only that target.
func (b *Backend) supersedeSource(ctx context.Context, spiderID string, g *SourceGroup, fp string, newSourceBlob []byte) error {
	oldSourceBlob, ok, err := b.readRaw(ctx, spiderID, fp)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for _, t := range g.Targets(fp) {
		oldDelta, ok, err := b.readRaw(ctx, spiderID, t)
		if err != nil {
			return err
		}
		if !ok {
			b.logger().Warn("delta target missing during source supersede, dropping", "target", t)
			g.removeTarget(fp, t)
			continue
		}

		oldTargetBlob, err := Decode(oldDelta, oldSourceBlob)
		if err != nil {
			b.logger().Warn("delta decode failed during source supersede, dropping target", "target", t, "error", err)
			g.removeTarget(fp, t)
			continue
		}

		oldTargetRec, err := storage.Decode(oldTargetBlob)
		if err != nil {
			b.logger().Warn("delta target record decode failed during supersede, dropping target", "target", t, "error", err)
			g.removeTarget(fp, t)
			continue
		}

		newDelta := Encode(newSourceBlob, oldTargetBlob)
		if err := b.writeRaw(ctx, spiderID, t, newDelta, oldTargetRec.StoredAt); err != nil {
			return err
		}
	}
	return nil
}
