package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/giantswarm/oidc-engine/storage"
)

// Config holds the protocol engine configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string `validate:"required,url"`

	// PendingRequestTTL is how long a pending authorization request survives
	// between the legs of an interactive flow
	PendingRequestTTL int64 `validate:"gte=0"` // seconds, default: 3600 (1 hour)

	// PendingRequestKeyPrefix namespaces pending request keys in the shared store
	// Default: "oidc-request"
	PendingRequestKeyPrefix string `validate:"omitempty,printascii,excludesall= "`

	// DisableAuthorizationCodeGrant turns off response types containing "code"
	// and the authorization_code grant at the token endpoint
	// Default: false (authorization code grant enabled)
	DisableAuthorizationCodeGrant bool

	// ApplicationCanDisplayErrors lets the embedding application render errors
	// that cannot be redirected. When true, such errors produce OutcomeContinue
	// carrying the error response instead of a built-in error page.
	// Default: false
	ApplicationCanDisplayErrors bool

	// AllowInsecureHTTP allows running the issuer over plain HTTP on a
	// non-localhost host
	// WARNING: Only for isolated test environments
	// Default: false
	AllowInsecureHTTP bool

	// AllowPKCEPlain allows the 'plain' code_challenge_method (NOT RECOMMENDED)
	// When false, only S256 is accepted
	// Default: false
	AllowPKCEPlain bool

	// AllowedCustomSchemes is a list of allowed custom URI scheme patterns (regex)
	// for native application redirect URIs (e.g., com.example.app://)
	// Empty list allows all RFC 3986 compliant schemes except the dangerous ones
	AllowedCustomSchemes []string

	// SupportedScopes lists the scopes clients may request
	// If empty, all scopes are allowed
	SupportedScopes []string `validate:"dive,required,excludesall= "`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable behind a trusted reverse proxy
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Default: 1
	TrustedProxyCount int `validate:"gte=0"`
}

// PendingRequestLifetime returns the pending request TTL as a duration
func (c *Config) PendingRequestLifetime() time.Duration {
	return time.Duration(c.PendingRequestTTL) * time.Second
}

// AuthorizationCodeGrantEnabled reports whether the code flow is available
func (c *Config) AuthorizationCodeGrantEnabled() bool {
	return !c.DisableAuthorizationCodeGrant
}

// applySecureDefaults applies secure-by-default configuration values and
// warns about settings that weaken security.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	applyTimeDefaults(config)

	if config.PendingRequestKeyPrefix == "" {
		config.PendingRequestKeyPrefix = storage.DefaultKeyPrefix
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}

	logSecurityWarnings(config, logger)

	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.PendingRequestTTL == 0 {
		config.PendingRequestTTL = int64(storage.DefaultPendingRequestTTL / time.Second) // 1 hour
	}
}

func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.AllowPKCEPlain {
		logger.Warn("⚠️  SECURITY WARNING: Plain PKCE method is allowed",
			"risk", "code_challenge equals code_verifier and offers no protection if intercepted",
			"recommendation", "Require S256 for all clients")
	}
	if config.TrustProxy {
		logger.Warn("⚠️  SECURITY WARNING: Proxy headers are trusted",
			"trusted_proxy_count", config.TrustedProxyCount,
			"risk", "Client IPs can be spoofed if the server is reachable without the proxy")
	}
	if config.ApplicationCanDisplayErrors {
		logger.Info("Unredirectable errors are delegated to the application")
	}
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// validateConfig checks the struct tags of config.
func validateConfig(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}
	return nil
}
