// Package filesystem provides a storage.Backend that lays cache records out
// as a directory tree on disk, using github.com/peterbourgon/diskv for the
// underlying file reads/writes.
//
// Each spider gets its own subtree; each record lives under
// <basedir>/<spider>/<fingerprint[0:2]>/<fingerprint>/, grounded on
// scrapy_httpcache's FilesystemCacheStorage bucketing scheme. A record is
// split into a small human-readable "meta" file (for operators poking
// around with ls/cat) and a "record" file holding the full encoded
// storage.Record used for reconstruction.
package filesystem

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peterbourgon/diskv"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/storage"
)

const metaField = "meta"
const recordField = "record"

// Backend is a storage.Backend that persists records as files under BaseDir.
type Backend struct {
	// BaseDir is the root directory cache trees are created under.
	BaseDir string

	// Gzip compresses each stored record on disk when true, mirroring
	// HTTPCACHE_GZIP.
	Gzip bool

	// HeaderSubset lists request headers that participate in the
	// fingerprint, per §4.1.
	HeaderSubset []string

	// ExpirationSecs configures §4.4's expiry check; 0 means records
	// never expire.
	ExpirationSecs int64

	// Now returns the current time as epoch seconds; defaults to the wall
	// clock, overridable in tests.
	Now func() int64

	Logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*diskv.Diskv
}

// Opt configures a Backend.
type Opt func(*Backend)

// WithGzip enables on-disk gzip compression of stored records.
func WithGzip(enabled bool) Opt {
	return func(b *Backend) { b.Gzip = enabled }
}

// WithHeaderSubset sets the fingerprint header subset.
func WithHeaderSubset(headers []string) Opt {
	return func(b *Backend) { b.HeaderSubset = headers }
}

// WithExpiration sets expiration_secs.
func WithExpiration(secs int64) Opt {
	return func(b *Backend) { b.ExpirationSecs = secs }
}

// WithLogger sets the backend's logger.
func WithLogger(l *slog.Logger) Opt {
	return func(b *Backend) { b.Logger = l }
}

// New returns a Backend rooted at baseDir.
func New(baseDir string, opts ...Opt) *Backend {
	b := &Backend{
		BaseDir: baseDir,
		stores:  make(map[string]*diskv.Diskv),
	}
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

func fingerprintOf(key string) string {
	i := strings.IndexByte(key, '.')
	if i < 0 {
		return key
	}
	return key[:i]
}

func bucketTransform(key string) []string {
	fp := fingerprintOf(key)
	if len(fp) < 2 {
		return []string{fp}
	}
	return []string{fp[0:2], fp}
}

// Open creates (idempotently) the per-spider diskv instance rooted at
// BaseDir/spiderID.
func (b *Backend) Open(_ context.Context, spiderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.stores[spiderID]; ok {
		return nil
	}

	b.stores[spiderID] = diskv.New(diskv.Options{
		BasePath:     fmt.Sprintf("%s/%s", b.BaseDir, spiderID),
		Transform:    bucketTransform,
		CacheSizeMax: 0,
	})
	return nil
}

// Close drops the in-memory handle for spiderID. diskv holds no open file
// descriptors between calls, so there is nothing further to flush.
func (b *Backend) Close(_ context.Context, spiderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stores, spiderID)
	return nil
}

func (b *Backend) storeFor(spiderID string) (*diskv.Diskv, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.stores[spiderID]
	if !ok {
		return nil, fmt.Errorf("filesystem: spider %q not open: %w", spiderID, storage.ErrBackendUnavailable)
	}
	return d, nil
}

func (b *Backend) compress(data []byte) []byte {
	if !b.Gzip {
		return data
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func (b *Backend) decompress(data []byte) ([]byte, error) {
	if !b.Gzip {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Retrieve implements storage.Backend.Retrieve.
func (b *Backend) Retrieve(ctx context.Context, spiderID string, req *http.Request) (storage.Record, bool, error) {
	d, err := b.storeFor(spiderID)
	if err != nil {
		return storage.Record{}, false, err
	}

	fp := fingerprint.Of(req, b.HeaderSubset)
	raw, err := d.Read(fp + "." + recordField)
	if err != nil {
		return storage.Record{}, false, nil
	}

	data, err := b.decompress(raw)
	if err != nil {
		b.logger().Warn("filesystem cache record decompress failed, treating as miss", "fingerprint", fp, "error", err)
		return storage.Record{}, false, nil
	}

	rec, err := storage.Decode(data)
	if err != nil {
		b.logger().Warn("filesystem cache record decode failed, treating as miss", "fingerprint", fp, "error", err)
		return storage.Record{}, false, nil
	}

	if storage.IsExpired(rec.StoredAt, b.ExpirationSecs, b.now()) {
		return storage.Record{}, false, nil
	}

	return rec, true, nil
}

// Store implements storage.Backend.Store.
func (b *Backend) Store(ctx context.Context, spiderID string, req *http.Request, rec storage.Record) error {
	d, err := b.storeFor(spiderID)
	if err != nil {
		return err
	}

	fp := fingerprint.Of(req, b.HeaderSubset)

	data := b.compress(storage.Encode(rec))
	if err := d.WriteStream(fp+"."+recordField, bytes.NewReader(data), true); err != nil {
		return fmt.Errorf("filesystem: store failed for fingerprint %q: %w", fp, storage.ErrStoreFailure)
	}

	meta := fmt.Sprintf("url: %s\nstatus: %d\nstored_at: %d\n", rec.URL, rec.Status, rec.StoredAt)
	if err := d.WriteStream(fp+"."+metaField, strings.NewReader(meta), true); err != nil {
		b.logger().Warn("filesystem meta write failed", "fingerprint", fp, "error", err)
	}

	return nil
}
