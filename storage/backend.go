// Package storage defines the pluggable persistence contract shared by
// every cache backend: a stable record codec, the common Backend
// interface, and the sentinel errors backends wrap their failures in.
package storage

import (
	"context"
	"net/http"
)

// Backend is the common storage contract every backend (simple or delta)
// implements: open/close per spider, retrieve, store, with fingerprint
// derivation and expiry checking built in.
type Backend interface {
	// Open idempotently prepares any per-spider namespace (e.g. creating a
	// database file, connecting a client). Calling Open twice for the
	// same spiderID must not error or duplicate state.
	Open(ctx context.Context, spiderID string) error

	// Close flushes and releases resources for spiderID. It must not lose
	// durably-acknowledged writes, and must release OS handles on every
	// exit path.
	Close(ctx context.Context, spiderID string) error

	// Retrieve returns the stored record for req's fingerprint, if present
	// and not expired. ok is false on a normal miss (absent, expired, or
	// corrupt record) — never an error. err is reserved for backend
	// failures unrelated to the record's presence (e.g. connection loss).
	Retrieve(ctx context.Context, spiderID string, req *http.Request) (rec Record, ok bool, err error)

	// Store writes rec keyed by req's fingerprint, overwriting any
	// existing record for the same key. I/O failures are wrapped in
	// ErrStoreFailure and propagated; Store never retries internally.
	Store(ctx context.Context, spiderID string, req *http.Request, rec Record) error
}

// IsExpired reports whether a record stored at storedAt has exceeded
// expirationSecs as of now, per §4.4: "A record is expired iff
// expiration_secs > 0 AND now - stored_at > expiration_secs". A zero
// expirationSecs means records never expire.
func IsExpired(storedAt, expirationSecs, now int64) bool {
	if expirationSecs <= 0 {
		return false
	}
	return now-storedAt > expirationSecs
}
