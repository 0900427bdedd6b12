// Package recordcodec wraps a kv.Store with transparent body
// compression, so a backend's stored bytes shrink independently of
// (and in addition to) the §4.5 Content-Encoding symmetry the delta
// backend already handles. Three interchangeable algorithms are
// provided: gzip (balanced), brotli (best ratio), and snappy (fastest).
package recordcodec

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/crawlkit/httpcache/kv"
)

// Algorithm identifies a compression scheme.
type Algorithm int

const (
	Gzip Algorithm = iota
	Brotli
	Snappy
)

func (a Algorithm) String() string {
	switch a {
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Snappy:
		return "snappy"
	default:
		return "unknown"
	}
}

// Stats holds compression statistics accumulated by a Cache.
type Stats struct {
	CompressedBytes   int64
	UncompressedBytes int64
	CompressedCount   int64
	UncompressedCount int64
	CompressionRatio  float64
	SavingsPercent    float64
}

type compressFunc func([]byte) ([]byte, error)
type decompressFunc func([]byte) ([]byte, error)

// baseCache implements the marker-byte framing shared by every
// algorithm: the first stored byte is 0 for "not compressed" (the
// compressor returned an error, so the value was stored raw) or
// algorithm+1, so a value written by one algorithm can always be read
// back correctly even if the wrapper is reconfigured with another.
type baseCache struct {
	cache     kv.Store
	algorithm Algorithm
	logger    *slog.Logger

	compressedBytes   atomic.Int64
	uncompressedBytes atomic.Int64
	compressedCount   atomic.Int64
	uncompressedCount atomic.Int64
}

func newBaseCache(cache kv.Store, algorithm Algorithm, logger *slog.Logger) *baseCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &baseCache{cache: cache, algorithm: algorithm, logger: logger}
}

func decompressorFor(algorithm Algorithm) (decompressFunc, error) {
	switch algorithm {
	case Gzip:
		return decompressGzip, nil
	case Brotli:
		return decompressBrotli, nil
	case Snappy:
		return decompressSnappy, nil
	default:
		return nil, fmt.Errorf("recordcodec: unsupported algorithm %v", algorithm)
	}
}

func (c *baseCache) stats() Stats {
	compressed := c.compressedBytes.Load()
	uncompressed := c.uncompressedBytes.Load()

	var ratio, savings float64
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
		savings = (1.0 - ratio) * 100
	}

	return Stats{
		CompressedBytes:   compressed,
		UncompressedBytes: uncompressed,
		CompressedCount:   c.compressedCount.Load(),
		UncompressedCount: c.uncompressedCount.Load(),
		CompressionRatio:  ratio,
		SavingsPercent:    savings,
	}
}

// get reads key, unframing the marker byte and decompressing with
// whichever algorithm wrote it rather than necessarily c's own, so a
// Cache reconfigured to a different algorithm still reads old entries.
func (c *baseCache) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if len(data) < 1 {
		return data, true, nil
	}

	marker := data[0]
	if marker == 0 {
		return data[1:], true, nil
	}

	storedAlgo := Algorithm(marker - 1)
	decompress, err := decompressorFor(storedAlgo)
	if err != nil {
		c.logger.Warn("recordcodec: unknown algorithm marker, treating as miss", "key", key, "marker", marker)
		return nil, false, nil
	}

	decompressed, err := decompress(data[1:])
	if err != nil {
		c.logger.Warn("recordcodec: decompression failed, treating as miss", "key", key, "algorithm", storedAlgo, "error", err)
		return nil, false, nil
	}
	return decompressed, true, nil
}

// set compresses value with compressFn and stores it framed with c's
// algorithm marker. A compression failure falls back to storing the
// value uncompressed rather than failing the Set.
func (c *baseCache) set(ctx context.Context, key string, value []byte, compressFn compressFunc) error {
	compressed, err := compressFn(value)
	if err != nil {
		c.logger.Warn("recordcodec: compression failed, storing uncompressed", "key", key, "algorithm", c.algorithm, "error", err)
		data := make([]byte, len(value)+1)
		data[0] = 0
		copy(data[1:], value)
		c.uncompressedCount.Add(1)
		c.uncompressedBytes.Add(int64(len(value)))
		return c.cache.Set(ctx, key, data)
	}

	data := make([]byte, len(compressed)+1)
	data[0] = byte(c.algorithm + 1)
	copy(data[1:], compressed)

	c.compressedCount.Add(1)
	c.compressedBytes.Add(int64(len(compressed)))
	c.uncompressedBytes.Add(int64(len(value)))
	return c.cache.Set(ctx, key, data)
}

func (c *baseCache) delete(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

func (c *baseCache) close() error {
	return c.cache.Close()
}
