package mapkv

import "errors"

// Sentinel errors returned by mapkv operations.
//
// Callers classify errors with errors.Is; wrapped context is added with
// fmt.Errorf("%w: ...") and does not change the classification.
var (
	// ErrAbsentKey is returned by Get, Delete, Pop and friends when the
	// requested key has no entry in the store.
	ErrAbsentKey = errors.New("mapkv: absent key")

	// ErrTypeMismatch is returned for a bad key type, a value rejected by
	// the raw-bytes codec, or a cache/facade configuration mismatch.
	// TypeMismatch is immediate and never touches cache or store state.
	ErrTypeMismatch = errors.New("mapkv: type mismatch")

	// ErrConfigConflict is returned by Open/OpenRaw/OpenCached when a
	// second facade is opened against a registry key (path, sub-database)
	// already registered with an incompatible cache policy.
	ErrConfigConflict = errors.New("mapkv: configuration conflict")

	// ErrCodecFailure wraps an error raised by the codec during
	// serialize/deserialize. It is surfaced without mutating cache or
	// store state.
	ErrCodecFailure = errors.New("mapkv: codec failure")

	// ErrStoreFailure wraps an error from the underlying store
	// (transaction aborted, capacity exceeded, I/O error). The cache is
	// left unmodified, since cache mutation always happens after store
	// success under the same guard.
	ErrStoreFailure = errors.New("mapkv: store failure")

	// ErrClosed is returned by any error-returning operation on a Map
	// after Close. The iterators (Keys, ReversedKeys, Values, Items)
	// return no error; after Close they yield nothing.
	ErrClosed = errors.New("mapkv: closed")
)
