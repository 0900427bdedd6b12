// Package kv defines the narrow byte-oriented store contract that most
// simple backends (redis, hazelcast, natskv, memcache, freecache, diskv,
// goleveldb, postgresql, mongodb) already satisfy in their native form.
// storage/kvbackend adapts any Store into the fuller storage.Backend
// contract by adding fingerprinting, the stable record codec, and
// expiration.
package kv

import "context"

// Store is a flat, context-aware byte store: get/set/delete by opaque
// string key. It carries no notion of requests, responses, fingerprints,
// or expiry — those are layered on top by storage/kvbackend.
type Store interface {
	// Get returns the bytes stored at key. ok is false on a miss; err is
	// non-nil only for a genuine backend failure.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)

	// Set stores data at key, overwriting any existing value.
	Set(ctx context.Context, key string, data []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources held by the store.
	Close() error
}
