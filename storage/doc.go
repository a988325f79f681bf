// Package storage provides the contract and utilities for persisting in-flight
// authorization requests between the legs of a multi-step flow.
//
// The storage package defines:
//   - PendingRequestStore: the keyed, expiring byte store the engine depends on
//   - EncodeRequest/DecodeRequest: the versioned binary encoding of a request
//   - PendingRequests: the namespaced, optionally encrypted view used by the engine
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/mock: Mock storage for unit testing
//   - storage/valkey: Valkey-backed distributed storage for production
//   - storage/redis: Redis-backed distributed storage
package storage
