//go:build !appengine

// Package memcache provides a kv.Store backed by gomemcache.
//
// When built for Google App Engine, this package instead provides a Store
// backed by App Engine's memcache service. See appengine.go.
package memcache

import (
	"context"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// Store is a kv.Store backed by a memcache server.
type Store struct {
	*memcache.Client
}

// cacheKey prefixes keys to avoid collision with other data stored in memcache.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// Get returns the value stored for key, if present.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := s.Client.Get(cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("memcache get failed for key %q: %w", key, err)
	}
	return item.Value, true, nil
}

// Set stores data under key.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (s *Store) Set(_ context.Context, key string, data []byte) error {
	item := &memcache.Item{
		Key:   cacheKey(key),
		Value: data,
	}
	if err := s.Client.Set(item); err != nil {
		return fmt.Errorf("memcache set failed for key %q: %w", key, err)
	}
	return nil
}

// Delete removes key from the store.
// The context parameter is accepted for interface compliance but not used
// for memcache operations due to library limitations.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := s.Client.Delete(cacheKey(key)); err != nil {
		if err == memcache.ErrCacheMiss {
			return nil
		}
		return fmt.Errorf("memcache delete failed for key %q: %w", key, err)
	}
	return nil
}

// Close is a no-op: the underlying memcache.Client owns no closeable resources.
func (s *Store) Close() error {
	return nil
}

// New returns a new Store using the provided memcache server(s) with equal
// weight. If a server is listed multiple times, it gets a proportional amount
// of weight.
func New(server ...string) *Store {
	return NewWithClient(memcache.New(server...))
}

// NewWithClient returns a new Store with the given memcache client.
func NewWithClient(client *memcache.Client) *Store {
	return &Store{client}
}
