package codec

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	_ "crypto/sha256" // at_hash and c_hash digests
	_ "crypto/sha512"
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/segmentio/ksuid"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

// Token usages written to the token_usage claim.
const (
	UsageAuthorizationCode = "code"
	UsageAccessToken       = "access_token"
	UsageIdentityToken     = "id_token"
	UsageRefreshToken      = "refresh_token"
)

// Claim names managed by the codec. Principal claims with these names are
// overwritten when a token is minted and dropped when it is read back.
const (
	ClaimTokenUsage   = "token_usage"
	ClaimScope        = "scope"
	ClaimClientID     = "client_id"
	ClaimNonce        = "nonce"
	ClaimAccessHash   = "at_hash"
	ClaimCodeHash     = "c_hash"
	ClaimAuthorized   = "azp"
	ClaimConfidential = "confidential"
	ClaimProperties   = "oidc_properties"
)

var registeredClaims = map[string]bool{
	"iss": true, "aud": true, "exp": true, "nbf": true, "iat": true, "jti": true,
	ClaimTokenUsage: true, ClaimScope: true, ClaimClientID: true, ClaimNonce: true,
	ClaimAccessHash: true, ClaimCodeHash: true, ClaimAuthorized: true,
	ClaimConfidential: true, ClaimProperties: true,
}

// Default artifact lifetimes in seconds.
const (
	DefaultAuthorizationCodeTTL = 600     // 10 minutes
	DefaultAccessTokenTTL       = 3600    // 1 hour
	DefaultIdentityTokenTTL     = 3600    // 1 hour
	DefaultRefreshTokenTTL      = 7776000 // 90 days
)

var allowedMethods = map[string]bool{
	"HS256": true, "HS384": true, "HS512": true,
	"RS256": true, "RS384": true, "RS512": true,
	"ES256": true, "ES384": true, "ES512": true,
}

// Options configures a JWTCodec
type Options struct {
	// Issuer is written to and required in the iss claim
	Issuer string `validate:"required,url"`

	// SigningMethod selects the JWS algorithm (HS256, RS256, ES256, ...)
	// Default: HS256
	SigningMethod string

	// SigningKey is a []byte for HS*, *rsa.PrivateKey for RS* and
	// *ecdsa.PrivateKey for ES*
	SigningKey any `validate:"required"`

	// KeyID is written to the kid header when set
	KeyID string

	// Lifetimes applied when the ticket carries no expiry (seconds)
	AuthorizationCodeTTL int64 `validate:"gte=0"` // default: 600 (10 minutes)
	AccessTokenTTL       int64 `validate:"gte=0"` // default: 3600 (1 hour)
	IdentityTokenTTL     int64 `validate:"gte=0"` // default: 3600 (1 hour)
	RefreshTokenTTL      int64 `validate:"gte=0"` // default: 7776000 (90 days)
}

var optionsValidator = validator.New(validator.WithRequiredStructEnabled())

// JWTCodec serializes tickets into signed JWTs.
type JWTCodec struct {
	issuer    string
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	keyID     string
	hash      crypto.Hash
	lifetimes map[string]time.Duration

	logger *slog.Logger
	clock  func() time.Time
}

// New creates a JWT codec
func New(opts *Options, logger *slog.Logger) (*JWTCodec, error) {
	if opts == nil {
		return nil, fmt.Errorf("codec options are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := optionsValidator.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid codec options: %w", err)
	}

	alg := opts.SigningMethod
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	if !allowedMethods[alg] {
		return nil, fmt.Errorf("unsupported signing method %q", alg)
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("unsupported signing method %q", alg)
	}

	verifyKey, hash, err := verificationKey(method, opts.SigningKey)
	if err != nil {
		return nil, err
	}

	return &JWTCodec{
		issuer:    util.NormalizeURL(opts.Issuer),
		method:    method,
		signKey:   opts.SigningKey,
		verifyKey: verifyKey,
		keyID:     opts.KeyID,
		hash:      hash,
		lifetimes: map[string]time.Duration{
			UsageAuthorizationCode: lifetime(opts.AuthorizationCodeTTL, DefaultAuthorizationCodeTTL),
			UsageAccessToken:       lifetime(opts.AccessTokenTTL, DefaultAccessTokenTTL),
			UsageIdentityToken:     lifetime(opts.IdentityTokenTTL, DefaultIdentityTokenTTL),
			UsageRefreshToken:      lifetime(opts.RefreshTokenTTL, DefaultRefreshTokenTTL),
		},
		logger: logger,
		clock:  time.Now,
	}, nil
}

func lifetime(seconds, fallback int64) time.Duration {
	if seconds == 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

// verificationKey checks that key matches the method family and returns the
// key used to verify signatures plus the digest behind at_hash and c_hash.
func verificationKey(method jwt.SigningMethod, key any) (any, crypto.Hash, error) {
	switch m := method.(type) {
	case *jwt.SigningMethodHMAC:
		secret, ok := key.([]byte)
		if !ok {
			return nil, 0, fmt.Errorf("%s requires a []byte signing key", m.Alg())
		}
		if len(secret) < 32 {
			return nil, 0, fmt.Errorf("%s signing key must be at least 32 bytes, got %d", m.Alg(), len(secret))
		}
		return secret, m.Hash, nil
	case *jwt.SigningMethodRSA:
		private, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, 0, fmt.Errorf("%s requires an *rsa.PrivateKey signing key", m.Alg())
		}
		return &private.PublicKey, m.Hash, nil
	case *jwt.SigningMethodECDSA:
		private, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, 0, fmt.Errorf("%s requires an *ecdsa.PrivateKey signing key", m.Alg())
		}
		return &private.PublicKey, m.Hash, nil
	}
	return nil, 0, fmt.Errorf("unsupported signing method %q", method.Alg())
}

// SetClock overrides the time source (tests only).
func (c *JWTCodec) SetClock(clock func() time.Time) {
	c.clock = clock
}

// SigningMethod returns the JWS algorithm in use.
func (c *JWTCodec) SigningMethod() string {
	return c.method.Alg()
}

// SerializeAuthorizationCode mints a code carrying every ticket property,
// including the redirect_uri and PKCE bindings.
func (c *JWTCodec) SerializeAuthorizationCode(_ context.Context, t *ticket.Ticket, _, _ *message.Message) (string, error) {
	return c.serialize(t, UsageAuthorizationCode, func(claims jwt.MapClaims) {
		claims[ClaimProperties] = maps.Clone(t.Properties.Items)
	})
}

// SerializeAccessToken mints an access token. The audience is the resource
// list when present, otherwise the presenters.
func (c *JWTCodec) SerializeAccessToken(_ context.Context, t *ticket.Ticket, _, _ *message.Message) (string, error) {
	return c.serialize(t, UsageAccessToken, func(claims jwt.MapClaims) {
		props := t.Properties
		audience := props.Resources()
		if len(audience) == 0 {
			audience = props.Presenters()
		}
		if len(audience) > 0 {
			claims["aud"] = audience
		}
		if presenters := props.Presenters(); len(presenters) > 0 {
			claims[ClaimClientID] = presenters[0]
		}
		if scopes := props.Get(ticket.PropertyScopes); scopes != "" {
			claims[ClaimScope] = scopes
		}
		if props.IsConfidential() {
			claims[ClaimConfidential] = true
		}
		claims[ClaimProperties] = maps.Clone(props.Items)
	})
}

// SerializeIdentityToken mints an OpenID Connect ID token. at_hash and c_hash
// bind it to the access token and code already present in response.
func (c *JWTCodec) SerializeIdentityToken(_ context.Context, t *ticket.Ticket, _, response *message.Message) (string, error) {
	return c.serialize(t, UsageIdentityToken, func(claims jwt.MapClaims) {
		props := t.Properties
		if presenters := props.Presenters(); len(presenters) > 0 {
			claims["aud"] = presenters
			claims[ClaimAuthorized] = presenters[0]
		}
		if nonce := props.Get(ticket.PropertyNonce); nonce != "" {
			claims[ClaimNonce] = nonce
		}
		if response == nil {
			return
		}
		if accessToken := response.Get(message.ParamAccessToken); accessToken != "" {
			claims[ClaimAccessHash] = c.halfHash(accessToken)
		}
		if code := response.Get(message.ParamCode); code != "" {
			claims[ClaimCodeHash] = c.halfHash(code)
		}
	})
}

// SerializeRefreshToken mints a refresh token carrying every ticket property.
func (c *JWTCodec) SerializeRefreshToken(_ context.Context, t *ticket.Ticket, _, _ *message.Message) (string, error) {
	return c.serialize(t, UsageRefreshToken, func(claims jwt.MapClaims) {
		claims[ClaimProperties] = maps.Clone(t.Properties.Items)
	})
}

// DeserializeAuthorizationCode resolves a code minted by this codec.
func (c *JWTCodec) DeserializeAuthorizationCode(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(token, UsageAuthorizationCode), nil
}

// DeserializeAccessToken resolves an access token minted by this codec.
func (c *JWTCodec) DeserializeAccessToken(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(token, UsageAccessToken), nil
}

// DeserializeRefreshToken resolves a refresh token minted by this codec.
func (c *JWTCodec) DeserializeRefreshToken(_ context.Context, token string, _ *message.Message) (*ticket.Ticket, error) {
	return c.deserialize(token, UsageRefreshToken), nil
}

func (c *JWTCodec) serialize(t *ticket.Ticket, usage string, decorate func(jwt.MapClaims)) (string, error) {
	if t == nil {
		return "", fmt.Errorf("ticket is required")
	}
	if t.Properties == nil {
		t.Properties = ticket.NewProperties()
	}

	now := c.clock().Truncate(time.Second)
	props := t.Properties
	if props.IssuedAt.IsZero() {
		props.IssuedAt = now
	}
	if props.ExpiresAt.IsZero() {
		props.ExpiresAt = now.Add(c.lifetimes[usage])
	}

	claims := jwt.MapClaims{}
	if t.Principal != nil {
		for name, value := range t.Principal.Claims {
			if !registeredClaims[name] {
				claims[name] = value
			}
		}
	}
	claims["iss"] = c.issuer
	claims["iat"] = jwt.NewNumericDate(props.IssuedAt)
	claims["exp"] = jwt.NewNumericDate(props.ExpiresAt)
	claims["jti"] = ksuid.New().String()
	claims[ClaimTokenUsage] = usage
	decorate(claims)

	token := jwt.NewWithClaims(c.method, claims)
	if c.keyID != "" {
		token.Header["kid"] = c.keyID
	}
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", usage, err)
	}
	return signed, nil
}

// deserialize verifies token and rebuilds its ticket. Any failure yields nil:
// callers only learn that the token does not resolve.
func (c *JWTCodec) deserialize(token, usage string) *ticket.Ticket {
	if token == "" {
		return nil
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	}); err != nil {
		c.logger.Debug("Token did not verify",
			"usage", usage,
			"token_prefix", util.SafeTruncate(token, 8),
			"error", err)
		return nil
	}

	if iss, _ := claims.GetIssuer(); iss != c.issuer {
		c.logger.Debug("Token issuer mismatch", "usage", usage, "issuer", iss)
		return nil
	}
	if got, _ := claims[ClaimTokenUsage].(string); got != usage {
		c.logger.Debug("Token usage mismatch", "want", usage, "got", got)
		return nil
	}

	principal := ticket.Anonymous()
	for name, value := range claims {
		if !registeredClaims[name] {
			principal.Claims[name] = value
		}
	}

	props := ticket.NewProperties()
	if raw, ok := claims[ClaimProperties].(map[string]any); ok {
		for key, value := range raw {
			if s, ok := value.(string); ok {
				props.Set(key, s)
			}
		}
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		props.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		props.ExpiresAt = exp.Time
	}
	props.Set(ticket.PropertyTokenUsage, usage)

	return ticket.New(principal, props)
}

// halfHash is the at_hash/c_hash construction: the left-most half of the
// digest of the ASCII value, base64url encoded without padding.
func (c *JWTCodec) halfHash(value string) string {
	h := c.hash.New()
	h.Write([]byte(value))
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}
