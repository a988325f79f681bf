package oidc

import (
	"log/slog"
	"net/http"
)

// Config holds the HTTP adapter configuration
type Config struct {
	// Interaction serves requests the engine hands to the application: the
	// login and consent UI, and errors when ApplicationCanDisplayErrors is set.
	// The normalized request is available through AuthorizationRequest(ctx).
	Interaction http.Handler

	// Rate limiting configuration
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger
}

// RateLimitConfig holds per-IP rate limiting configuration
type RateLimitConfig struct {
	// Rate is requests per second allowed per IP. Zero disables limiting.
	Rate float64

	// Burst is the maximum burst size allowed per IP.
	// Default: 2 × Rate, at least 1
	Burst int

	// MaxEntries bounds the number of tracked IPs.
	// Default: 10000
	MaxEntries int
}

// SecurityConfig holds security settings applied to the engine by NewServer
type SecurityConfig struct {
	// EncryptionKey is the AES-256 key (32 bytes) sealing pending authorization
	// requests at rest. Nil disables encryption.
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs sign-ins, token issuance, revocations and violations (user ids hashed).
	EnableAuditLogging bool
}

func (c RateLimitConfig) enabled() bool {
	return c.Rate > 0
}

func (c RateLimitConfig) burst() int {
	if c.Burst > 0 {
		return c.Burst
	}
	return max(int(c.Rate*2), 1)
}
