// Package security provides the security plumbing around the protocol engine:
// encryption of pending requests at rest, audit logging, response security
// headers, client address resolution, per-IP rate limiting and correlation ids.
//
// # Rate Limiting
//
// RateLimiter is a per-key token bucket built on golang.org/x/time/rate. Keys
// are tracked in LRU order so that a flood of distinct client addresses cannot
// grow memory without bound: when MaxEntries is reached the least recently
// used key is evicted, and a background sweep drops keys idle for longer than
// IdleTimeout.
//
//	limiter := security.NewRateLimiter(security.RateLimiterConfig{
//	    RequestsPerSecond: 10,
//	    Burst:             20,
//	}, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // 429 Too Many Requests
//	}
//
// # Client Addresses
//
// ProxyPolicy.ClientIP only honours X-Forwarded-For and X-Real-IP when the
// policy trusts them. Enable Trust only behind a reverse proxy you control.
//
// # Encryption
//
// Encryptor seals pending authorization requests with AES-256-GCM, binding
// each payload to its storage key as additional data.
//
// # Audit
//
// Auditor emits structured audit events through slog. User identifiers are
// hashed before they are logged.
package security
