// Package mongodb provides a storage.Backend that persists cache records
// as GridFS files, one per request fingerprint.
package mongodb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/storage"
)

// ErrURIRequired is returned by New when no connection URI is configured.
var ErrURIRequired = errors.New("mongodb: URI is required")

// ErrDatabaseRequired is returned by New when no database name is configured.
var ErrDatabaseRequired = errors.New("mongodb: database name is required")

// DefaultBucketName is the GridFS bucket records are stored under when
// Sharded is false.
const DefaultBucketName = "httpcache"

// fileMeta is the GridFS metadata document attached to every uploaded
// record: time/status/url/headers. The fingerprint is the GridFS filename,
// and the file's _id is left to the driver.
type fileMeta struct {
	Time    time.Time           `bson:"time"`
	Status  int                 `bson:"status"`
	URL     string              `bson:"url"`
	Headers map[string][]string `bson:"headers"`
}

// Backend is a storage.Backend backed by MongoDB GridFS.
type Backend struct {
	URI      string
	Database string

	// Sharded names each spider's bucket "httpcache.<spiderID>" instead of
	// sharing a single "httpcache" bucket across every spider.
	Sharded bool

	ClientOptions *options.ClientOptions

	HeaderSubset   []string
	ExpirationSecs int64
	Now            func() int64
	Timeout        time.Duration

	Logger *slog.Logger

	// RetryPolicy and CircuitBreaker wrap connection establishment in
	// Open only, never Store.
	RetryPolicy    retrypolicy.RetryPolicy[any]
	CircuitBreaker circuitbreaker.CircuitBreaker[any]

	client *mongo.Client

	mu      sync.Mutex
	buckets map[string]*gridfs.Bucket
}

// Opt configures a Backend.
type Opt func(*Backend)

// WithSharded names each spider's GridFS bucket separately.
func WithSharded(sharded bool) Opt {
	return func(b *Backend) { b.Sharded = sharded }
}

// WithHeaderSubset sets the fingerprint header subset.
func WithHeaderSubset(headers []string) Opt {
	return func(b *Backend) { b.HeaderSubset = headers }
}

// WithExpiration sets expiration_secs.
func WithExpiration(secs int64) Opt {
	return func(b *Backend) { b.ExpirationSecs = secs }
}

// WithTimeout bounds the connectivity ping that Open runs.
func WithTimeout(d time.Duration) Opt {
	return func(b *Backend) { b.Timeout = d }
}

// WithLogger sets the backend's logger.
func WithLogger(l *slog.Logger) Opt {
	return func(b *Backend) { b.Logger = l }
}

// WithRetryPolicy wraps connection establishment in Open with a retry policy.
func WithRetryPolicy(p retrypolicy.RetryPolicy[any]) Opt {
	return func(b *Backend) { b.RetryPolicy = p }
}

// WithCircuitBreaker wraps connection establishment in Open with a circuit breaker.
func WithCircuitBreaker(cb circuitbreaker.CircuitBreaker[any]) Opt {
	return func(b *Backend) { b.CircuitBreaker = cb }
}

// New returns a Backend that connects lazily to uri/database on the first
// Open call.
func New(uri, database string, opts ...Opt) (*Backend, error) {
	if uri == "" {
		return nil, ErrURIRequired
	}
	if database == "" {
		return nil, ErrDatabaseRequired
	}
	b := &Backend{
		URI:      uri,
		Database: database,
		Timeout:  5 * time.Second,
		buckets:  make(map[string]*gridfs.Bucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewWithClient wraps an already-connected client, skipping connection
// establishment (and so any configured resilience policies) in Open.
func NewWithClient(client *mongo.Client, database string, opts ...Opt) (*Backend, error) {
	if client == nil {
		return nil, errors.New("mongodb: client is required")
	}
	if database == "" {
		return nil, ErrDatabaseRequired
	}
	b := &Backend{
		Database: database,
		Timeout:  5 * time.Second,
		client:   client,
		buckets:  make(map[string]*gridfs.Bucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
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

func (b *Backend) bucketName(spiderID string) string {
	if b.Sharded {
		return DefaultBucketName + "." + spiderID
	}
	return DefaultBucketName
}

// Open establishes the client connection (if not already provided via
// NewWithClient) and prepares spiderID's GridFS bucket, wrapping connection
// establishment in whatever retry/circuit-breaker policies are configured.
func (b *Backend) Open(ctx context.Context, spiderID string) error {
	if b.client == nil {
		run := func() error {
			clientOpts := options.Client().ApplyURI(b.URI)
			if b.ClientOptions != nil {
				clientOpts = b.ClientOptions.ApplyURI(b.URI)
			}
			client, err := mongo.Connect(ctx, clientOpts)
			if err != nil {
				return err
			}
			pingCtx, cancel := context.WithTimeout(ctx, b.Timeout)
			defer cancel()
			if err := client.Ping(pingCtx, nil); err != nil {
				_ = client.Disconnect(ctx)
				return err
			}
			b.client = client
			return nil
		}

		var policies []failsafe.Policy[any]
		if b.RetryPolicy != nil {
			policies = append(policies, b.RetryPolicy)
		}
		if b.CircuitBreaker != nil {
			policies = append(policies, b.CircuitBreaker)
		}

		var err error
		if len(policies) > 0 {
			err = failsafe.With(policies...).Run(run)
		} else {
			err = run()
		}
		if err != nil {
			return fmt.Errorf("mongodb: connecting: %w: %w", storage.ErrBackendUnavailable, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[spiderID]; ok {
		return nil
	}

	bucket, err := gridfs.NewBucket(
		b.client.Database(b.Database),
		options.GridFSBucket().SetName(b.bucketName(spiderID)),
	)
	if err != nil {
		return fmt.Errorf("mongodb: opening bucket %q: %w", b.bucketName(spiderID), storage.ErrBackendUnavailable)
	}
	b.buckets[spiderID] = bucket
	return nil
}

// Close drops spiderID's bucket handle. The underlying client connection
// is left open since it may be shared by other spiders' buckets.
func (b *Backend) Close(_ context.Context, spiderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, spiderID)
	return nil
}

// Disconnect closes the underlying MongoDB client. It is not part of
// storage.Backend since a single client may back several spiders'
// buckets; callers shut it down once, after every spider has been closed.
func (b *Backend) Disconnect(ctx context.Context) error {
	if b.client == nil {
		return nil
	}
	return b.client.Disconnect(ctx)
}

func (b *Backend) bucketFor(spiderID string) (*gridfs.Bucket, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bucket, ok := b.buckets[spiderID]
	if !ok {
		return nil, fmt.Errorf("mongodb: spider %q not open: %w", spiderID, storage.ErrBackendUnavailable)
	}
	return bucket, nil
}

// Retrieve implements storage.Backend.Retrieve.
func (b *Backend) Retrieve(ctx context.Context, spiderID string, req *http.Request) (storage.Record, bool, error) {
	bucket, err := b.bucketFor(spiderID)
	if err != nil {
		return storage.Record{}, false, err
	}

	fp := fingerprint.Of(req, b.HeaderSubset)

	var buf bytes.Buffer
	stream, err := bucket.OpenDownloadStreamByName(fp)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return storage.Record{}, false, nil
		}
		return storage.Record{}, false, fmt.Errorf("mongodb: opening download stream for %q: %w", fp, err)
	}
	if _, err := io.Copy(&buf, stream); err != nil {
		_ = stream.Close()
		return storage.Record{}, false, fmt.Errorf("mongodb: reading record for %q: %w", fp, err)
	}
	if err := stream.Close(); err != nil {
		return storage.Record{}, false, fmt.Errorf("mongodb: closing download stream for %q: %w", fp, err)
	}

	rec, err := storage.Decode(buf.Bytes())
	if err != nil {
		b.logger().Warn("mongodb cache record decode failed, treating as miss", "fingerprint", fp, "error", err)
		return storage.Record{}, false, nil
	}

	if storage.IsExpired(rec.StoredAt, b.ExpirationSecs, b.now()) {
		return storage.Record{}, false, nil
	}

	return rec, true, nil
}

// Store implements storage.Backend.Store. GridFS has no native upsert, so
// any existing file for the fingerprint is deleted before the new one is
// uploaded.
func (b *Backend) Store(ctx context.Context, spiderID string, req *http.Request, rec storage.Record) error {
	bucket, err := b.bucketFor(spiderID)
	if err != nil {
		return err
	}

	fp := fingerprint.Of(req, b.HeaderSubset)

	if err := b.deleteExisting(bucket, fp); err != nil {
		return fmt.Errorf("mongodb: replacing fingerprint %q: %w", fp, storage.ErrStoreFailure)
	}

	meta := fileMeta{
		Time:    time.Unix(rec.StoredAt, 0).UTC(),
		Status:  rec.Status,
		URL:     rec.URL,
		Headers: map[string][]string(rec.Header),
	}

	uploadOpts := options.GridFSUpload().SetMetadata(meta)
	stream, err := bucket.OpenUploadStream(fp, uploadOpts)
	if err != nil {
		return fmt.Errorf("mongodb: opening upload stream for %q: %w", fp, storage.ErrStoreFailure)
	}
	if _, err := stream.Write(storage.Encode(rec)); err != nil {
		_ = stream.Close()
		return fmt.Errorf("mongodb: writing record for %q: %w", fp, storage.ErrStoreFailure)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("mongodb: closing upload stream for %q: %w", fp, storage.ErrStoreFailure)
	}
	return nil
}

func (b *Backend) deleteExisting(bucket *gridfs.Bucket, filename string) error {
	cursor, err := bucket.Find(bson.M{"filename": filename})
	if err != nil {
		return err
	}
	defer cursor.Close(context.Background())

	var docs []struct {
		ID interface{} `bson:"_id"`
	}
	if err := cursor.All(context.Background(), &docs); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := bucket.Delete(doc.ID); err != nil {
			return err
		}
	}
	return nil
}
