// Package counter provides the shared counter store backing the metering
// engine: atomic increments, conditional increments, test-and-set records and
// sliding-window call markers. Two implementations share one contract, a
// Redis store for distributed deployments and an in-memory store for
// single-instance deployments and tests.
package counter

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrUnavailable classifies connection and timeout failures so callers
	// can apply their fail-open or fail-closed policy instead of crashing.
	ErrUnavailable = errors.New("counter store unavailable")

	// ErrConflict is returned by optimistic implementations when a
	// conditional increment lost a race and should be retried. The Redis
	// and in-memory stores never return it; a WATCH-based store would.
	ErrConflict = errors.New("counter store conflict")
)

// WindowResult is the outcome of an atomic sliding-window admission.
type WindowResult struct {
	// Allowed reports whether a marker was inserted.
	Allowed bool

	// Count is the number of markers inside the window after the call.
	Count int64

	// Member identifies the inserted marker; empty when denied. Callers
	// hold it to revoke the marker later.
	Member string
}

// Store is the counter store contract. All operations are atomic per key
// and safe for concurrent use without external locking; the store itself
// owns no business policy.
type Store interface {
	// Increment atomically adds amount to the counter at key and refreshes
	// its TTL, returning the new value. A zero ttl leaves expiry untouched.
	Increment(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// IncrementIfBelow atomically adds amount only when the result would
	// not exceed limit. Returns whether the increment was applied and the
	// counter value after the call (the unchanged value on rejection).
	IncrementIfBelow(ctx context.Context, key string, amount, limit int64, ttl time.Duration) (bool, int64, error)

	// Get returns the counter value, 0 when the key is absent.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetIfAbsent sets key to value with a TTL only when the key does not
	// exist, reporting whether it was set. A single test-and-set: two
	// concurrent callers never both observe true, and a losing call does
	// not touch the existing TTL.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Expire sets the TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// WindowAdmit runs one sliding-window admission as a single atomic
	// unit: purge markers older than window, count the rest, deny without
	// inserting when count >= maxCalls, otherwise insert a marker stamped
	// with the current time and refresh the key TTL to ttl.
	WindowAdmit(ctx context.Context, key string, maxCalls int64, window, ttl time.Duration) (WindowResult, error)

	// WindowRevoke removes a previously admitted marker, returning the
	// slot to the window. Revoking an unknown member is not an error.
	WindowRevoke(ctx context.Context, key, member string) error

	// Close releases the store's resources.
	Close() error
}
