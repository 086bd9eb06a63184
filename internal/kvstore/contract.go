// Package kvstore defines the key-value store contract the federation
// engine uses for activity deduplication, document-loader caching, and
// other ancillary state (spec.md §4.C), plus the backends that implement
// it. The contract is deliberately narrow — Get/Set/Delete/CompareAndSwap/
// List — so any of the teacher's storage stacks (in-memory, Redis, or
// Postgres) can serve it.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound names a missing key. No Store in this package returns it:
// Get reports a missing key through its bool result, and CompareAndSwap
// with a non-nil oldValue on a missing key returns (false, nil).
var ErrNotFound = errors.New("kvstore: key not found")

// Store is the key-value contract every backend in this package
// implements. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key. The second return value is
	// false if the key does not exist or its entry has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A zero ttl means the entry never
	// expires.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndSwap atomically replaces the value stored under key with
	// newValue, but only if the current value equals oldValue.
	//
	// oldValue == nil asserts the key does not currently exist (an atomic
	// create). newValue == nil deletes the key if the comparison
	// succeeds. CompareAndSwap reports whether the swap was applied; a
	// false result with a nil error means the comparison failed, not that
	// an error occurred.
	CompareAndSwap(ctx context.Context, key string, oldValue, newValue []byte, ttl time.Duration) (bool, error)

	// List returns every non-expired key with the given prefix. Order is
	// not guaranteed.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close releases any resources held by the store (connections,
	// background eviction goroutines).
	Close() error
}
