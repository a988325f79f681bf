// Package storage defines the pending authorization request store contract.
// It supports various backend implementations including in-memory, Valkey and Redis.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist or has expired.
	ErrNotFound = errors.New("pending request not found")

	// ErrUnsupportedVersion is returned when a stored blob carries an unknown format version.
	ErrUnsupportedVersion = errors.New("unsupported pending request format version")

	// ErrCorrupted is returned when a stored blob cannot be decoded.
	ErrCorrupted = errors.New("corrupted pending request payload")

	// ErrRequestTooLarge is returned by Save for a request beyond the encoding limits.
	ErrRequestTooLarge = errors.New("pending request exceeds the storage limits")
)

// PendingRequestStore is a keyed, expiring byte store shared by every engine instance.
// TTL enforcement is the store's responsibility; the engine never caches entries itself.
// All methods accept context.Context for tracing and cancellation.
type PendingRequestStore interface {
	// Get returns the value stored under key, or ErrNotFound on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key until the absolute expiry.
	Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
