package storage

import "errors"

// Sentinel errors modeling the error kinds from the cache's error handling
// design. Backend implementations should wrap one of these with
// fmt.Errorf("...: %w", ...) so callers can discriminate with errors.Is.
var (
	// ErrBackendUnavailable means a dependency is missing or misconfigured;
	// fatal at Open.
	ErrBackendUnavailable = errors.New("storage: backend unavailable")

	// ErrNotFound is a normal cache miss, not surfaced as an error by
	// Retrieve (which returns ok=false instead), but used internally and
	// by backends composing other backends.
	ErrNotFound = errors.New("storage: not found")

	// ErrExpired marks a record past its expiration_secs window; like
	// ErrNotFound, Retrieve never returns this to callers directly.
	ErrExpired = errors.New("storage: expired")

	// ErrDecodeFailure means a stored record was corrupt or unreadable.
	// Retrieve treats this as a miss; callers may log it via the optional
	// logger passed at construction.
	ErrDecodeFailure = errors.New("storage: decode failure")

	// ErrStoreFailure wraps an I/O failure during Store. Unlike the other
	// sentinels, this is always propagated to the caller and never
	// retried internally.
	ErrStoreFailure = errors.New("storage: store failure")
)
