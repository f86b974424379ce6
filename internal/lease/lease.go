// Package lease provides per-entity mutual exclusion with expiring leases.
//
// A lease guarantees at most one holder per key until it is released or its
// TTL elapses. Acquire never blocks: a held key yields a
// *domain.LeaseConflictError immediately so callers can report the conflict
// or retry later.
package lease

import (
	"context"
	"time"
)

// Lease is a held lock on a key.
type Lease interface {
	// Key returns the leased key without any backend prefix.
	Key() string

	// Release frees the lease. Releasing an expired or stolen lease is a no-op.
	Release(ctx context.Context) error

	// Extend pushes the expiry ttl into the future. It fails with a
	// LeaseConflictError if the lease is no longer held.
	Extend(ctx context.Context, ttl time.Duration) error
}

// Locker acquires leases.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// ArticleKey returns the lease key guarding a generation article.
func ArticleKey(id string) string {
	return "article:" + id
}

// SourceConfigKey returns the lease key guarding a news source scrape.
func SourceConfigKey(id string) string {
	return "source:" + id
}

// Scope returns the key prefix before the first colon, used as a metric label.
func Scope(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}
