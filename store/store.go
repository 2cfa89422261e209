// Package store defines the persistent-tier abstraction used by bastion's
// cache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the same []byte that was previously passed to Set for a key (no
// prepended/appended metadata, no re-encoding, no mutation). If a store
// performs internal transforms (e.g., compression), they MUST be fully
// reversed so that the bytes returned by Get are identical to the bytes
// provided to Set.
//
// Important: the keyspace "entry:<ns>:" is owned by the cache. External code
// MUST NOT write values under this prefix. Foreign writes may be treated as
// corruption by strict envelope validation and deleted.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrEnumerationUnsupported is returned from Keys by stores that cannot list
// their contents (e.g. Ristretto). Namespaced sweeps and Clear degrade
// gracefully when they see it.
var ErrEnumerationUnsupported = errors.New("store: enumeration not supported")

// Store is a minimal byte store with TTLs. Must be safe for concurrent use.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Keys lists the stored keys beginning with prefix, for namespaced
	// cleanup sweeps. Stores without enumeration support return
	// ErrEnumerationUnsupported.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
