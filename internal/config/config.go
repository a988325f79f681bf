package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/giantswarm/oidc-engine/codec"
	"github.com/giantswarm/oidc-engine/internal/clients"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "OIDC_"

// Storage backends
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageValkey = "valkey"
)

// Config is the configuration of the bundled server. Values come from the
// YAML file, then from environment variables, then defaults for what is
// still unset.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tokens    TokensConfig    `yaml:"tokens"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Security  SecurityConfig  `yaml:"security"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Clients and Users can only be set in the YAML file
	Clients []clients.Client `yaml:"clients" validate:"dive"`
	Users   []clients.User   `yaml:"users" validate:"dive"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ADDR" validate:"required"`
	Issuer          string        `yaml:"issuer" env:"ISSUER" validate:"required,url"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`
}

// TokensConfig configures the JWT codec
type TokensConfig struct {
	// SigningMethod is the JWS algorithm. Default: HS256
	SigningMethod string `yaml:"signing_method" env:"SIGNING_METHOD"`

	// SigningKey is the base64-encoded HMAC key for HS* methods
	SigningKey string `yaml:"signing_key" env:"SIGNING_KEY"`

	// SigningKeyFile is a PEM private key for RS* and ES* methods
	SigningKeyFile string `yaml:"signing_key_file" env:"SIGNING_KEY_FILE"`

	KeyID string `yaml:"key_id" env:"KEY_ID"`

	// Lifetimes in seconds, zero for the codec default
	AuthorizationCodeTTL int64 `yaml:"authorization_code_ttl" env:"AUTHORIZATION_CODE_TTL" validate:"gte=0"`
	AccessTokenTTL       int64 `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" validate:"gte=0"`
	IdentityTokenTTL     int64 `yaml:"identity_token_ttl" env:"IDENTITY_TOKEN_TTL" validate:"gte=0"`
	RefreshTokenTTL      int64 `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" validate:"gte=0"`
}

// EngineConfig mirrors server.Config
type EngineConfig struct {
	PendingRequestTTL             int64    `yaml:"pending_request_ttl" env:"PENDING_REQUEST_TTL" validate:"gte=0"`
	DisableAuthorizationCodeGrant bool     `yaml:"disable_authorization_code_grant" env:"DISABLE_AUTHORIZATION_CODE_GRANT"`
	ApplicationCanDisplayErrors   bool     `yaml:"application_can_display_errors" env:"APPLICATION_CAN_DISPLAY_ERRORS"`
	AllowInsecureHTTP             bool     `yaml:"allow_insecure_http" env:"ALLOW_INSECURE_HTTP"`
	AllowPKCEPlain                bool     `yaml:"allow_pkce_plain" env:"ALLOW_PKCE_PLAIN"`
	SupportedScopes               []string `yaml:"supported_scopes" env:"SUPPORTED_SCOPES" envSeparator:","`
}

// StorageConfig selects the pending request store
type StorageConfig struct {
	Type      string `yaml:"type" env:"TYPE" validate:"oneof=memory redis valkey"`
	Address   string `yaml:"address" env:"ADDRESS" validate:"required_unless=Type memory"`
	Username  string `yaml:"username" env:"USERNAME"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB" validate:"gte=0"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// SecurityConfig holds the security settings
type SecurityConfig struct {
	// EncryptionKey is the base64-encoded AES-256 key sealing pending requests
	EncryptionKey     string `yaml:"encryption_key" env:"ENCRYPTION_KEY"`
	AuditLogging      bool   `yaml:"audit_logging" env:"AUDIT_LOGGING"`
	TrustProxy        bool   `yaml:"trust_proxy" env:"TRUST_PROXY"`
	TrustedProxyCount int    `yaml:"trusted_proxy_count" env:"TRUSTED_PROXY_COUNT" validate:"gte=0"`
}

// RateLimitConfig configures per-IP rate limiting. Zero Rate disables it.
type RateLimitConfig struct {
	Rate       float64 `yaml:"rate" env:"RATE" validate:"gte=0"`
	Burst      int     `yaml:"burst" env:"BURST" validate:"gte=0"`
	MaxEntries int     `yaml:"max_entries" env:"MAX_ENTRIES" validate:"gte=0"`
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" env:"ENABLED"`
	LogClientIPs   bool   `yaml:"log_client_ips" env:"LOG_CLIENT_IPS"`
	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			LogLevel:        "info",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Type: StorageMemory,
		},
	}
}

// Load reads the optional .env files, the YAML file at path (skipped when
// empty) and the OIDC_* environment variables, and validates the result.
// Without dotenv files, ".env" in the working directory is read if present.
func Load(path string, dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			dotenvFiles = []string{".env"}
		}
	}
	if len(dotenvFiles) > 0 {
		if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes the YAML file after expanding ${VAR} references.
// Unknown keys are rejected.
func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(content))

	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// loadEnv overrides values with the environment variables that are set.
func (c *Config) loadEnv() error {
	sections := []struct {
		target any
		prefix string
	}{
		{&c.Server, EnvPrefix},
		{&c.Tokens, EnvPrefix + "TOKENS_"},
		{&c.Engine, EnvPrefix + "ENGINE_"},
		{&c.Storage, EnvPrefix + "STORAGE_"},
		{&c.Security, EnvPrefix + "SECURITY_"},
		{&c.RateLimit, EnvPrefix + "RATE_LIMIT_"},
		{&c.Telemetry, EnvPrefix + "TELEMETRY_"},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: s.prefix}); err != nil {
			return fmt.Errorf("failed to parse environment: %w", err)
		}
	}
	return nil
}

var configValidator = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks the configuration
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// SlogLevel returns the configured log level
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Server.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// EngineConfig returns the protocol engine configuration
func (c *Config) EngineConfig() *server.Config {
	return &server.Config{
		Issuer:                        c.Server.Issuer,
		PendingRequestTTL:             c.Engine.PendingRequestTTL,
		DisableAuthorizationCodeGrant: c.Engine.DisableAuthorizationCodeGrant,
		ApplicationCanDisplayErrors:   c.Engine.ApplicationCanDisplayErrors,
		AllowInsecureHTTP:             c.Engine.AllowInsecureHTTP,
		AllowPKCEPlain:                c.Engine.AllowPKCEPlain,
		SupportedScopes:               c.Engine.SupportedScopes,
		TrustProxy:                    c.Security.TrustProxy,
		TrustedProxyCount:             c.Security.TrustedProxyCount,
	}
}

// CodecOptions returns the JWT codec options, loading the signing key.
func (c *Config) CodecOptions() (*codec.Options, error) {
	method := c.Tokens.SigningMethod
	if method == "" {
		method = jwt.SigningMethodHS256.Alg()
	}

	key, err := c.signingKey(method)
	if err != nil {
		return nil, err
	}

	return &codec.Options{
		Issuer:               c.Server.Issuer,
		SigningMethod:        method,
		SigningKey:           key,
		KeyID:                c.Tokens.KeyID,
		AuthorizationCodeTTL: c.Tokens.AuthorizationCodeTTL,
		AccessTokenTTL:       c.Tokens.AccessTokenTTL,
		IdentityTokenTTL:     c.Tokens.IdentityTokenTTL,
		RefreshTokenTTL:      c.Tokens.RefreshTokenTTL,
	}, nil
}

func (c *Config) signingKey(method string) (any, error) {
	switch {
	case strings.HasPrefix(method, "HS"):
		if c.Tokens.SigningKey == "" {
			return nil, fmt.Errorf("%s requires tokens.signing_key", method)
		}
		key, err := base64.StdEncoding.DecodeString(c.Tokens.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tokens.signing_key: %w", err)
		}
		return key, nil

	case strings.HasPrefix(method, "RS"), strings.HasPrefix(method, "ES"):
		if c.Tokens.SigningKeyFile == "" {
			return nil, fmt.Errorf("%s requires tokens.signing_key_file", method)
		}
		pem, err := os.ReadFile(c.Tokens.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key file: %w", err)
		}
		pem = bytes.TrimSpace(pem)
		if strings.HasPrefix(method, "RS") {
			key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
			if err != nil {
				return nil, fmt.Errorf("failed to parse RSA signing key: %w", err)
			}
			return key, nil
		}
		key, err := jwt.ParseECPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse EC signing key: %w", err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("unsupported signing method %q", method)
}

// EncryptionKey decodes the pending request encryption key. Nil when unset.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Security.EncryptionKey == "" {
		return nil, nil
	}
	return security.KeyFromBase64(c.Security.EncryptionKey)
}
