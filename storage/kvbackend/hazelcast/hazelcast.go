// Package hazelcast provides a kv.Store backed by a Hazelcast distributed
// map.
package hazelcast

import (
	"context"
	"fmt"

	"github.com/hazelcast/hazelcast-go-client"
)

// Store is a kv.Store backed by a Hazelcast map.
type Store struct {
	m *hazelcast.Map
}

func cacheKey(key string) string {
	return "httpcache:" + key
}

// NewWithMap wraps an already-constructed Hazelcast map.
func NewWithMap(m *hazelcast.Map) *Store {
	return &Store{m: m}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.m.Get(ctx, cacheKey(key))
	if err != nil {
		return nil, false, fmt.Errorf("hazelcast get failed for key %q: %w", key, err)
	}
	if val == nil {
		return nil, false, nil
	}
	data, ok := val.([]byte)
	if !ok {
		return nil, false, nil
	}
	return data, true, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	if err := s.m.Set(ctx, cacheKey(key), data); err != nil {
		return fmt.Errorf("hazelcast set failed for key %q: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.m.Remove(ctx, cacheKey(key)); err != nil {
		return fmt.Errorf("hazelcast delete failed for key %q: %w", key, err)
	}
	return nil
}

// Close is a no-op: the underlying hazelcast.Map is owned by the client
// that created it, which callers are responsible for shutting down.
func (s *Store) Close() error {
	return nil
}
