package recordcodec

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/golang/snappy"

	"github.com/crawlkit/httpcache/kv"
)

// SnappyCache wraps a kv.Store with snappy compression.
type SnappyCache struct {
	*baseCache
}

// SnappyConfig configures a SnappyCache.
type SnappyConfig struct {
	// Cache is the underlying store (required).
	Cache kv.Store

	Logger *slog.Logger
}

// NewSnappy creates a SnappyCache.
func NewSnappy(config SnappyConfig) (*SnappyCache, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	return &SnappyCache{
		baseCache: newBaseCache(config.Cache, Snappy, config.Logger),
	}, nil
}

func (c *SnappyCache) compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func decompressSnappy(data []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode failed: %w", err)
	}
	return decompressed, nil
}

// Set compresses and stores value.
func (c *SnappyCache) Set(ctx context.Context, key string, value []byte) error {
	return c.set(ctx, key, value, c.compress)
}

// Get retrieves and decompresses a value.
func (c *SnappyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.get(ctx, key)
}

// Delete removes a value.
func (c *SnappyCache) Delete(ctx context.Context, key string) error {
	return c.delete(ctx, key)
}

// Close closes the underlying store.
func (c *SnappyCache) Close() error {
	return c.close()
}

// Stats returns compression statistics.
func (c *SnappyCache) Stats() Stats {
	return c.stats()
}
