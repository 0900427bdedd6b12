package recordcodec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/andybalholm/brotli"

	"github.com/crawlkit/httpcache/kv"
)

// BrotliCache wraps a kv.Store with brotli compression.
type BrotliCache struct {
	*baseCache
	level int
}

// BrotliConfig configures a BrotliCache.
type BrotliConfig struct {
	// Cache is the underlying store (required).
	Cache kv.Store

	// Level is the compression level (0-11). Default: 6.
	Level int

	Logger *slog.Logger
}

// NewBrotli creates a BrotliCache.
func NewBrotli(config BrotliConfig) (*BrotliCache, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if config.Level == 0 {
		config.Level = 6
	}
	if config.Level < 0 || config.Level > 11 {
		return nil, fmt.Errorf("invalid brotli compression level: %d", config.Level)
	}

	return &BrotliCache{
		baseCache: newBaseCache(config.Cache, Brotli, config.Logger),
		level:     config.Level,
	}, nil
}

func (c *BrotliCache) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, c.level)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("brotli write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("brotli close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressBrotli(data []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("brotli read failed: %w", err)
	}
	return decompressed, nil
}

// Set compresses and stores value.
func (c *BrotliCache) Set(ctx context.Context, key string, value []byte) error {
	return c.set(ctx, key, value, c.compress)
}

// Get retrieves and decompresses a value.
func (c *BrotliCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.get(ctx, key)
}

// Delete removes a value.
func (c *BrotliCache) Delete(ctx context.Context, key string) error {
	return c.delete(ctx, key)
}

// Close closes the underlying store.
func (c *BrotliCache) Close() error {
	return c.close()
}

// Stats returns compression statistics.
func (c *BrotliCache) Stats() Stats {
	return c.stats()
}
