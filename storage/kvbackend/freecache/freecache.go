// Package freecache provides a high-performance, zero-GC overhead kv.Store
// backed by github.com/coocood/freecache.
//
// This backend is suitable for applications that need to cache millions of
// entries with minimal GC overhead and automatic memory management via LRU
// eviction.
package freecache

import (
	"context"
	"fmt"

	"github.com/coocood/freecache"
)

// Store is a kv.Store backed by freecache. It provides zero-GC overhead and
// automatic LRU eviction when the cache is full.
type Store struct {
	cache *freecache.Cache
}

// New creates a new Store with the specified size in bytes.
// The cache size will be set to 512KB at minimum.
//
// For large cache sizes, callers may want to tune debug.SetGCPercent() with a
// lower value to reduce GC overhead.
func New(size int) *Store {
	return &Store{
		cache: freecache.NewCache(size),
	}
}

// Get returns the value stored for key, if present.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, err := s.cache.Get([]byte(key))
	if err != nil {
		if err == freecache.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set stores data under key with no expiration; the entry is only evicted
// when the cache is full.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	if err := s.cache.Set([]byte(key), value, 0); err != nil {
		return fmt.Errorf("freecache set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the store.
// The context parameter is accepted for interface compliance but not used for in-memory operations.
func (s *Store) Delete(_ context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

// Close is a no-op: the underlying freecache.Cache holds no closeable resources.
func (s *Store) Close() error {
	return nil
}

// Clear removes all entries from the store.
func (s *Store) Clear() {
	s.cache.Clear()
}

// EntryCount returns the number of entries currently in the store.
func (s *Store) EntryCount() int64 {
	return s.cache.EntryCount()
}

// HitRate returns the ratio of cache hits to total lookups.
func (s *Store) HitRate() float64 {
	return s.cache.HitRate()
}

// EvacuateCount returns the number of times entries were evicted due to the
// cache being full.
func (s *Store) EvacuateCount() int64 {
	return s.cache.EvacuateCount()
}

// ExpiredCount returns the number of times entries expired.
func (s *Store) ExpiredCount() int64 {
	return s.cache.ExpiredCount()
}

// ResetStatistics resets all statistics counters (hit rate, evictions, etc.).
func (s *Store) ResetStatistics() {
	s.cache.ResetStatistics()
}
