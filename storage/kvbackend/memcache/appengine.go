//go:build appengine

// Package memcache provides a kv.Store backed by App Engine's memcache
// service.
//
// When not built for Google App Engine, this package instead provides a
// Store that connects to a specified memcached server. See memcache.go.
package memcache

import (
	"context"

	"appengine"
	"appengine/memcache"
)

// Store is a kv.Store backed by App Engine's memcache.
type Store struct {
	appengine.Context
}

// cacheKey prefixes keys to avoid collision with other data stored in memcache.
func cacheKey(key string) string {
	return "httpcache:" + key
}

// Get returns the value stored for key, if present.
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, err := memcache.Get(s.Context, cacheKey(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return nil, false, nil
		}
		s.Context.Errorf("error getting cached value: %v", err)
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set stores data under key.
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (s *Store) Set(_ context.Context, key string, data []byte) error {
	item := &memcache.Item{
		Key:   cacheKey(key),
		Value: data,
	}
	if err := memcache.Set(s.Context, item); err != nil {
		s.Context.Errorf("error caching value: %v", err)
		return err
	}
	return nil
}

// Delete removes key from the store.
// The ctx parameter is accepted for interface compliance but not used;
// App Engine memcache uses its own context mechanism.
func (s *Store) Delete(_ context.Context, key string) error {
	if err := memcache.Delete(s.Context, cacheKey(key)); err != nil {
		if err == memcache.ErrCacheMiss {
			return nil
		}
		s.Context.Errorf("error deleting cached value: %v", err)
		return err
	}
	return nil
}

// Close is a no-op: the underlying App Engine context is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// New returns a new Store for the given App Engine context.
func New(ctx appengine.Context) *Store {
	return &Store{ctx}
}
