package recordcodec

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/crawlkit/httpcache/kv"
)

// GzipCache wraps a kv.Store with gzip compression.
type GzipCache struct {
	*baseCache
	level int
}

// GzipConfig configures a GzipCache.
type GzipConfig struct {
	// Cache is the underlying store (required).
	Cache kv.Store

	// Level is the compression level (gzip.HuffmanOnly..gzip.BestCompression).
	// Default: gzip.DefaultCompression.
	Level int

	Logger *slog.Logger
}

// NewGzip creates a GzipCache.
func NewGzip(config GzipConfig) (*GzipCache, error) {
	if config.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if config.Level == 0 {
		config.Level = gzip.DefaultCompression
	}
	if config.Level < gzip.HuffmanOnly || config.Level > gzip.BestCompression {
		return nil, fmt.Errorf("invalid gzip compression level: %d", config.Level)
	}

	return &GzipCache{
		baseCache: newBaseCache(config.Cache, Gzip, config.Logger),
		level:     config.Level,
	}, nil
}

func (c *GzipCache) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer creation failed: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader creation failed: %w", err)
	}
	defer r.Close()
	decompressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read failed: %w", err)
	}
	return decompressed, nil
}

// Set compresses and stores value.
func (c *GzipCache) Set(ctx context.Context, key string, value []byte) error {
	return c.set(ctx, key, value, c.compress)
}

// Get retrieves and decompresses a value.
func (c *GzipCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.get(ctx, key)
}

// Delete removes a value.
func (c *GzipCache) Delete(ctx context.Context, key string) error {
	return c.delete(ctx, key)
}

// Close closes the underlying store.
func (c *GzipCache) Close() error {
	return c.close()
}

// Stats returns compression statistics.
func (c *GzipCache) Stats() Stats {
	return c.stats()
}
