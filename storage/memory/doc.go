// Package memory provides an in-memory implementation of storage.PendingRequestStore.
//
// Entries live in a map guarded by a sync.RWMutex. Expired entries are never
// returned and are purged by a background goroutine at a configurable interval.
// It is suitable for development, testing, and single-instance deployments; for
// horizontally scaled deployments use the storage/valkey or storage/redis backends,
// since a pending request must be visible to whichever instance serves the next leg.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	srv, _ := server.New(provider, codec, store, config, logger)
package memory
