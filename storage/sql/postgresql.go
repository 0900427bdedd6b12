// Package postgresql provides a storage.Backend that persists cache
// records in a PostgreSQL table, one row per request fingerprint.
package postgresql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crawlkit/httpcache/fingerprint"
	"github.com/crawlkit/httpcache/storage"
)

// ErrNilPool is returned when a nil pool is provided to NewWithPool.
var ErrNilPool = errors.New("postgresql: pool cannot be nil")

// DefaultTableName is the table cache rows are stored in, named directly
// by the request_fingerprint/timestamp/data layout.
const DefaultTableName = "httpcache"

// Backend is a storage.Backend backed by a PostgreSQL table
// request_fingerprint TEXT PRIMARY KEY, timestamp TIMESTAMP, data BYTEA.
// spiderID has no bearing on table layout; every spider shares the table,
// distinguished only by fingerprint collisions being vanishingly unlikely
// across spiders (mirroring the teacher's single shared table per cache).
type Backend struct {
	pool       *pgxpool.Pool
	connString string
	tableName  string
	timeout    time.Duration

	HeaderSubset []string

	ExpirationSecs int64
	Now            func() int64

	Logger *slog.Logger

	// RetryPolicy and CircuitBreaker, if set, wrap Open's connection
	// establishment only — never Store, per §7's "store-failure ...
	// not retried internally".
	RetryPolicy    retrypolicy.RetryPolicy[any]
	CircuitBreaker circuitbreaker.CircuitBreaker[any]
}

// Opt configures a Backend.
type Opt func(*Backend)

// WithTableName overrides the default table name.
func WithTableName(name string) Opt {
	return func(b *Backend) { b.tableName = name }
}

// WithTimeout bounds each query when the caller's context carries no deadline.
func WithTimeout(d time.Duration) Opt {
	return func(b *Backend) { b.timeout = d }
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

// WithRetryPolicy wraps connection establishment in Open with a retry policy.
func WithRetryPolicy(p retrypolicy.RetryPolicy[any]) Opt {
	return func(b *Backend) { b.RetryPolicy = p }
}

// WithCircuitBreaker wraps connection establishment in Open with a circuit breaker.
func WithCircuitBreaker(cb circuitbreaker.CircuitBreaker[any]) Opt {
	return func(b *Backend) { b.CircuitBreaker = cb }
}

// New returns a Backend that will connect lazily on the first Open call
// using connString.
func New(connString string, opts ...Opt) *Backend {
	b := &Backend{tableName: DefaultTableName, timeout: 5 * time.Second, connString: connString}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewWithPool wraps an already-established pool, skipping connection
// establishment (and so any configured resilience policies) in Open.
func NewWithPool(pool *pgxpool.Pool, opts ...Opt) (*Backend, error) {
	if pool == nil {
		return nil, ErrNilPool
	}
	b := &Backend{pool: pool, tableName: DefaultTableName, timeout: 5 * time.Second}
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

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

// Open establishes the connection pool (if not already provided via
// NewWithPool) and creates the table, wrapping connection establishment in
// whatever retry/circuit-breaker policies are configured. spiderID is
// unused: the table is shared across spiders.
func (b *Backend) Open(ctx context.Context, _ string) error {
	if b.pool == nil {
		run := func() error {
			pool, err := pgxpool.New(ctx, b.connString)
			if err != nil {
				return err
			}
			b.pool = pool
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
			return fmt.Errorf("postgresql: connecting: %w: %w", storage.ErrBackendUnavailable, err)
		}
	}

	createCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	query := `
		CREATE TABLE IF NOT EXISTS ` + b.tableName + ` (
			request_fingerprint TEXT PRIMARY KEY,
			timestamp TIMESTAMP NOT NULL,
			data BYTEA NOT NULL
		)
	`
	if _, err := b.pool.Exec(createCtx, query); err != nil {
		return fmt.Errorf("postgresql: creating table %q: %w", b.tableName, storage.ErrBackendUnavailable)
	}
	return nil
}

// Close releases the connection pool.
func (b *Backend) Close(_ context.Context, _ string) error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

// Retrieve implements storage.Backend.Retrieve.
func (b *Backend) Retrieve(ctx context.Context, _ string, req *http.Request) (storage.Record, bool, error) {
	if b.pool == nil {
		return storage.Record{}, false, fmt.Errorf("postgresql: %w", storage.ErrBackendUnavailable)
	}

	queryCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	fp := fingerprint.Of(req, b.HeaderSubset)

	var data []byte
	var storedAt time.Time
	query := `SELECT timestamp, data FROM ` + b.tableName + ` WHERE request_fingerprint = $1`
	err := b.pool.QueryRow(queryCtx, query, fp).Scan(&storedAt, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.Record{}, false, nil
		}
		return storage.Record{}, false, fmt.Errorf("postgresql: retrieving fingerprint %q: %w", fp, err)
	}

	rec, err := storage.Decode(data)
	if err != nil {
		b.logger().Warn("postgresql cache record decode failed, treating as miss", "fingerprint", fp, "error", err)
		return storage.Record{}, false, nil
	}

	if storage.IsExpired(rec.StoredAt, b.ExpirationSecs, b.now()) {
		return storage.Record{}, false, nil
	}

	return rec, true, nil
}

// Store implements storage.Backend.Store.
func (b *Backend) Store(ctx context.Context, _ string, req *http.Request, rec storage.Record) error {
	if b.pool == nil {
		return fmt.Errorf("postgresql: %w", storage.ErrBackendUnavailable)
	}

	queryCtx, cancel := b.withTimeout(ctx)
	defer cancel()

	fp := fingerprint.Of(req, b.HeaderSubset)

	query := `
		INSERT INTO ` + b.tableName + ` (request_fingerprint, timestamp, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (request_fingerprint) DO UPDATE SET timestamp = $2, data = $3
	`
	if _, err := b.pool.Exec(queryCtx, query, fp, time.Unix(rec.StoredAt, 0).UTC(), storage.Encode(rec)); err != nil {
		return fmt.Errorf("postgresql: storing fingerprint %q: %w", fp, storage.ErrStoreFailure)
	}
	return nil
}
