package ports

import (
	"context"
	"time"
)

// KeyValueStore is the durable string store the session engine persists
// through. Implementations must make single-key set/get/delete atomic; the
// engine layers its own locking for whole-collection read-modify-write
// cycles.
type KeyValueStore interface {
	// Get returns the value for key, reporting absence without error.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores a value with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetWithSlidingTTL stores a value whose expiry window restarts on every
	// read.
	SetWithSlidingTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// SetWithAbsoluteTTL stores a value that expires at a fixed point
	// regardless of access.
	SetWithAbsoluteTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
