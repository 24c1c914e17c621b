// Package kv defines the key-value store abstraction every stateful
// component (dedup, history, aggregator) is built on. A Transient error
// signals a caller-retryable failure (connection hiccups, timeouts); any
// other error is treated as permanent.
package kv

import (
	"context"
	"errors"
	"time"
)

// Transient wraps an underlying error that is expected to be retryable:
// a connection reset, a timeout, a temporary backend unavailability.
// Callers that exhaust their own retry budget should surface this as-is
// so upstream code can distinguish "try again" from "this will never work".
type Transient struct {
	Op  string
	Err error
}

func (e *Transient) Error() string {
	return "kv: transient failure during " + e.Op + ": " + e.Err.Error()
}

func (e *Transient) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a Transient.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// ErrNotFound is returned by operations that require an existing key.
var ErrNotFound = errors.New("kv: key not found")

// ScanPage is one page of a prefix scan.
type ScanPage struct {
	Keys   []string
	Cursor uint64
	Done   bool
}

// Store is the minimal set of primitives every store implementation
// (Valkey-backed in production, in-memory for tests) must provide.
// Implementations retry transient backend errors a bounded number of
// times internally before giving up and returning a *Transient.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes value under key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetIfAbsent atomically writes value under key only if key did not
	// already exist, and reports whether the write happened.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error

	// Expire sets (or refreshes) a TTL on an existing key. A no-op,
	// non-error result if key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ListAppend appends value to the list at key, creating it if absent.
	ListAppend(ctx context.Context, key string, value string) error

	// ListRange returns list elements in [start, stop] (inclusive),
	// following Redis/Valkey semantics: -1 means "last element".
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// ListTrim keeps only the elements in [start, stop], discarding the rest.
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// ListLen returns the number of elements in the list at key.
	ListLen(ctx context.Context, key string) (int64, error)

	// Scan iterates keys matching prefixGlob (a glob pattern, e.g.
	// "pending:*"), returning one page per call. Pass cursor 0 to start;
	// keep calling with the returned cursor until Done is true.
	Scan(ctx context.Context, cursor uint64, prefixGlob string, pageSize int64) (ScanPage, error)

	// AtomicDrain returns and clears the full contents of the list at key
	// in a single round trip; the read and the clear happen as one atomic
	// step. A record appended concurrently lands either before the drain
	// (and is returned) or after it (and stays in the list), so callers
	// must re-check the list for a follow-up drain.
	AtomicDrain(ctx context.Context, key string) ([]string, error)
}
