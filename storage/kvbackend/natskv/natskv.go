// Package natskv provides a kv.Store backed by a NATS JetStream Key/Value bucket.
package natskv

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds the configuration for creating a NATS K/V store.
type Config struct {
	// NATSUrl is the URL of the NATS server (e.g., "nats://localhost:4222").
	// If empty, defaults to nats.DefaultURL.
	NATSUrl string

	// Bucket is the name of the K/V bucket to use for caching. Required.
	Bucket string

	// Description is an optional description for the K/V bucket.
	Description string

	// TTL is the time-to-live for cache entries.
	// If zero, entries don't expire (unless deleted by NATS based on other policies).
	TTL time.Duration

	// NATSOptions are additional options to pass to nats.Connect.
	NATSOptions []nats.Option

	// Logger receives warnings about failed writes/deletes. Defaults to slog.Default().
	Logger *slog.Logger
}

// Store is a kv.Store backed by a NATS JetStream Key/Value bucket.
type Store struct {
	kv     jetstream.KeyValue
	nc     *nats.Conn
	logger *slog.Logger
}

func cacheKey(key string) string {
	return "httpcache." + key
}

func (s *Store) logf() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// Get returns the value stored for key, if present.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if err == jetstream.ErrKeyNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("natskv get failed for key %q: %w", key, err)
	}
	return entry.Value(), true, nil
}

// Set stores data under key.
func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if _, err := s.kv.Put(ctx, cacheKey(key), data); err != nil {
		s.logf().Warn("failed to write to NATS K/V store", "key", key, "error", err)
		return fmt.Errorf("natskv set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.kv.Delete(ctx, cacheKey(key)); err != nil {
		if err != jetstream.ErrKeyNotFound {
			s.logf().Warn("failed to delete from NATS K/V store", "key", key, "error", err)
			return fmt.Errorf("natskv delete failed for key %q: %w", key, err)
		}
	}
	return nil
}

// Close closes the underlying NATS connection if it was created by New().
// It's a no-op when using NewWithKeyValue().
func (s *Store) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}

// New connects to NATS, opens a JetStream context, and creates or updates
// the configured K/V bucket. The caller must Close() the returned Store.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	url := config.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, config.NATSOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kvConfig := jetstream.KeyValueConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		TTL:         config.TTL,
	}

	kv, err := js.CreateOrUpdateKeyValue(ctx, kvConfig)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update K/V bucket: %w", err)
	}

	return &Store{kv: kv, nc: nc, logger: config.Logger}, nil
}

// NewWithKeyValue wraps an already-constructed NATS JetStream KeyValue bucket.
// The caller remains responsible for the underlying NATS connection; Close()
// on the returned Store is a no-op.
func NewWithKeyValue(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}
