package codec_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/oidc-engine/codec"
	"github.com/giantswarm/oidc-engine/internal/testutil"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

var (
	testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	hmacKey   = []byte("0123456789abcdef0123456789abcdef")
)

func newCodec(t *testing.T, opts *codec.Options) *codec.JWTCodec {
	t.Helper()
	if opts == nil {
		opts = &codec.Options{}
	}
	if opts.Issuer == "" {
		opts.Issuer = testutil.TestIssuer
	}
	if opts.SigningKey == nil {
		opts.SigningKey = hmacKey
	}
	c, err := codec.New(opts, nil)
	require.NoError(t, err)
	c.SetClock(func() time.Time { return testEpoch })
	return c
}

func aliceTicket() *ticket.Ticket {
	props := ticket.NewProperties()
	props.SetPresenters(testutil.TestClientID)
	props.Set(ticket.PropertyScopes, "openid profile")
	return ticket.New(ticket.NewPrincipal(testutil.TestSubject, map[string]any{"name": "Alice"}), props)
}

// parseUnverified exposes the raw claims of a minted token.
func parseUnverified(t *testing.T, token string) (jwt.MapClaims, *jwt.Token) {
	t.Helper()
	claims := jwt.MapClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, claims)
	require.NoError(t, err)
	return claims, parsed
}

func halfHash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}

func TestNew_Validation(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tests := []struct {
		name    string
		opts    *codec.Options
		wantErr string
	}{
		{name: "nil options", opts: nil, wantErr: "options are required"},
		{name: "missing issuer", opts: &codec.Options{SigningKey: hmacKey}, wantErr: "invalid codec options"},
		{name: "missing key", opts: &codec.Options{Issuer: testutil.TestIssuer}, wantErr: "invalid codec options"},
		{name: "negative lifetime", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: hmacKey, AccessTokenTTL: -1}, wantErr: "invalid codec options"},
		{name: "none algorithm", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: hmacKey, SigningMethod: "none"}, wantErr: "unsupported signing method"},
		{name: "EdDSA not allowed", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: hmacKey, SigningMethod: "EdDSA"}, wantErr: "unsupported signing method"},
		{name: "short hmac key", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: []byte("short")}, wantErr: "at least 32 bytes"},
		{name: "rsa key for hmac", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: rsaKey}, wantErr: "requires a []byte"},
		{name: "hmac key for rsa", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: hmacKey, SigningMethod: "RS256"}, wantErr: "rsa.PrivateKey"},
		{name: "rsa key for ecdsa", opts: &codec.Options{Issuer: testutil.TestIssuer, SigningKey: rsaKey, SigningMethod: "ES256"}, wantErr: "ecdsa.PrivateKey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.New(tt.opts, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestJWTCodec_AccessTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t, nil)

	tk := aliceTicket()
	tk.Properties.Set(ticket.PropertyConfidential, "true")

	token, err := c.SerializeAccessToken(ctx, tk, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, testEpoch, tk.Properties.IssuedAt)
	assert.Equal(t, testEpoch.Add(time.Hour), tk.Properties.ExpiresAt, "codec records the assigned expiry")

	claims, parsed := parseUnverified(t, token)
	assert.Equal(t, "HS256", parsed.Method.Alg())
	assert.Equal(t, codec.UsageAccessToken, claims[codec.ClaimTokenUsage])
	assert.Equal(t, testutil.TestIssuer, claims["iss"])
	assert.Equal(t, testutil.TestSubject, claims["sub"])
	assert.Equal(t, "openid profile", claims[codec.ClaimScope])
	assert.Equal(t, testutil.TestClientID, claims[codec.ClaimClientID])
	assert.Equal(t, true, claims[codec.ClaimConfidential])
	assert.Len(t, claims["jti"], 27, "jti is a ksuid")

	got, err := c.DeserializeAccessToken(ctx, token, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testutil.TestSubject, got.Principal.Subject())
	assert.Equal(t, "Alice", got.Principal.Claims["name"])
	assert.NotContains(t, got.Principal.Claims, codec.ClaimTokenUsage)
	assert.NotContains(t, got.Principal.Claims, "jti")
	assert.Equal(t, []string{"openid", "profile"}, got.Properties.Scopes())
	assert.True(t, got.HasPresenter(testutil.TestClientID))
	assert.True(t, got.IsConfidential())
	assert.True(t, got.Properties.ExpiresAt.Equal(testEpoch.Add(time.Hour)))
	assert.True(t, got.Properties.IssuedAt.Equal(testEpoch))
	assert.Equal(t, codec.UsageAccessToken, got.Properties.Get(ticket.PropertyTokenUsage))
}

func TestJWTCodec_DistinctTokenIDs(t *testing.T) {
	c := newCodec(t, nil)
	first, err := c.SerializeAccessToken(context.Background(), aliceTicket(), nil, nil)
	require.NoError(t, err)
	second, err := c.SerializeAccessToken(context.Background(), aliceTicket(), nil, nil)
	require.NoError(t, err)

	a, _ := parseUnverified(t, first)
	b, _ := parseUnverified(t, second)
	assert.NotEqual(t, a["jti"], b["jti"])
}

func TestJWTCodec_AccessTokenAudience(t *testing.T) {
	c := newCodec(t, nil)

	tk := aliceTicket()
	token, err := c.SerializeAccessToken(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	claims, _ := parseUnverified(t, token)
	assert.Equal(t, []any{testutil.TestClientID}, claims["aud"])

	tk = aliceTicket()
	tk.Properties.Set(ticket.PropertyResources, "https://api.example/a https://api.example/b")
	token, err = c.SerializeAccessToken(context.Background(), tk, nil, nil)
	require.NoError(t, err)
	claims, _ = parseUnverified(t, token)
	assert.Equal(t, []any{"https://api.example/a", "https://api.example/b"}, claims["aud"])
}

func TestJWTCodec_Lifetimes(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t, &codec.Options{RefreshTokenTTL: 120})

	tests := []struct {
		name      string
		serialize func(*ticket.Ticket) (string, error)
		want      time.Duration
	}{
		{
			name: "authorization code",
			serialize: func(tk *ticket.Ticket) (string, error) {
				return c.SerializeAuthorizationCode(ctx, tk, nil, nil)
			},
			want: 10 * time.Minute,
		},
		{
			name: "identity token",
			serialize: func(tk *ticket.Ticket) (string, error) {
				return c.SerializeIdentityToken(ctx, tk, nil, nil)
			},
			want: time.Hour,
		},
		{
			name: "refresh token from options",
			serialize: func(tk *ticket.Ticket) (string, error) {
				return c.SerializeRefreshToken(ctx, tk, nil, nil)
			},
			want: 2 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := aliceTicket()
			_, err := tt.serialize(tk)
			require.NoError(t, err)
			assert.Equal(t, testEpoch.Add(tt.want), tk.Properties.ExpiresAt)
		})
	}
}

func TestJWTCodec_KeepsExistingExpiry(t *testing.T) {
	c := newCodec(t, nil)
	tk := aliceTicket()
	tk.Properties.ExpiresAt = testEpoch.Add(5 * time.Minute)

	token, err := c.SerializeAccessToken(context.Background(), tk, nil, nil)
	require.NoError(t, err)

	got, err := c.DeserializeAccessToken(context.Background(), token, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Properties.ExpiresAt.Equal(testEpoch.Add(5*time.Minute)))
}

func TestJWTCodec_ExpiredTokenStillResolves(t *testing.T) {
	c := newCodec(t, nil)
	tk := aliceTicket()
	tk.Properties.ExpiresAt = testEpoch.Add(-time.Hour)

	token, err := c.SerializeRefreshToken(context.Background(), tk, nil, nil)
	require.NoError(t, err)

	got, err := c.DeserializeRefreshToken(context.Background(), token, nil)
	require.NoError(t, err)
	require.NotNil(t, got, "expiry is checked by the engine, not the codec")
	assert.True(t, got.IsExpired(testEpoch))
}

func TestJWTCodec_AuthorizationCodeBindings(t *testing.T) {
	c := newCodec(t, nil)
	challenge, _ := testutil.GeneratePKCEPair()

	tk := aliceTicket()
	tk.Properties.Set(ticket.PropertyRedirectURI, testutil.TestRedirectURI)
	tk.Properties.Set(ticket.PropertyNonce, "n-1")
	tk.Properties.Set(ticket.PropertyCodeChallenge, challenge)
	tk.Properties.Set(ticket.PropertyCodeChallengeMethod, "S256")

	code, err := c.SerializeAuthorizationCode(context.Background(), tk, nil, nil)
	require.NoError(t, err)

	got, err := c.DeserializeAuthorizationCode(context.Background(), code, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testutil.TestRedirectURI, got.Properties.Get(ticket.PropertyRedirectURI))
	assert.Equal(t, "n-1", got.Properties.Get(ticket.PropertyNonce))
	assert.Equal(t, challenge, got.Properties.Get(ticket.PropertyCodeChallenge))
	assert.Equal(t, "S256", got.Properties.Get(ticket.PropertyCodeChallengeMethod))
}

func TestJWTCodec_IdentityToken(t *testing.T) {
	c := newCodec(t, nil)

	tk := aliceTicket()
	tk.Properties.Set(ticket.PropertyNonce, "n-1")

	response := message.New(message.KindResponse)
	response.Set(message.ParamCode, "the-code")
	response.Set(message.ParamAccessToken, "the-access-token")

	token, err := c.SerializeIdentityToken(context.Background(), tk, nil, response)
	require.NoError(t, err)

	claims, _ := parseUnverified(t, token)
	assert.Equal(t, codec.UsageIdentityToken, claims[codec.ClaimTokenUsage])
	assert.Equal(t, "n-1", claims[codec.ClaimNonce])
	assert.Equal(t, []any{testutil.TestClientID}, claims["aud"])
	assert.Equal(t, testutil.TestClientID, claims[codec.ClaimAuthorized])
	assert.Equal(t, halfHash("the-access-token"), claims[codec.ClaimAccessHash])
	assert.Equal(t, halfHash("the-code"), claims[codec.ClaimCodeHash])
	assert.NotContains(t, claims, codec.ClaimProperties, "ID tokens do not expose ticket properties")
}

func TestJWTCodec_IdentityTokenWithoutArtifacts(t *testing.T) {
	c := newCodec(t, nil)
	token, err := c.SerializeIdentityToken(context.Background(), aliceTicket(), nil, message.New(message.KindResponse))
	require.NoError(t, err)

	claims, _ := parseUnverified(t, token)
	assert.NotContains(t, claims, codec.ClaimAccessHash)
	assert.NotContains(t, claims, codec.ClaimCodeHash)
	assert.NotContains(t, claims, codec.ClaimNonce)
}

func TestJWTCodec_UsageMismatch(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t, nil)

	accessToken, err := c.SerializeAccessToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)
	idToken, err := c.SerializeIdentityToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)

	got, err := c.DeserializeRefreshToken(ctx, accessToken, nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.DeserializeAuthorizationCode(ctx, accessToken, nil)
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.DeserializeAccessToken(ctx, idToken, nil)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestJWTCodec_UnresolvableTokens(t *testing.T) {
	ctx := context.Background()
	c := newCodec(t, nil)

	valid, err := c.SerializeAccessToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)

	otherKey := newCodec(t, &codec.Options{SigningKey: []byte("ffffffffffffffffffffffffffffffff")})
	foreignKey, err := otherKey.SerializeAccessToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)

	otherIssuer := newCodec(t, &codec.Options{Issuer: "https://other.example.com"})
	foreignIssuer, err := otherIssuer.SerializeAccessToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"mallory","token_usage":"access_token","iss":"https://auth.example.com"}`)) + "." + parts[2]

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"iss":                 testutil.TestIssuer,
		"sub":                 "mallory",
		codec.ClaimTokenUsage: codec.UsageAccessToken,
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":          "",
		"garbage":        "not-a-jwt",
		"tampered":       tampered,
		"foreign key":    foreignKey,
		"foreign issuer": foreignIssuer,
		"alg none":       unsigned,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := c.DeserializeAccessToken(ctx, token, nil)
			assert.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestJWTCodec_AlgorithmConfusion(t *testing.T) {
	ctx := context.Background()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	rsaCodec := newCodec(t, &codec.Options{SigningMethod: "RS256", SigningKey: rsaKey})
	hmacCodec := newCodec(t, nil)

	token, err := hmacCodec.SerializeAccessToken(ctx, aliceTicket(), nil, nil)
	require.NoError(t, err)

	got, err := rsaCodec.DeserializeAccessToken(ctx, token, nil)
	assert.NoError(t, err)
	assert.Nil(t, got, "HS256 token must not verify against an RS256 codec")
}

func TestJWTCodec_AsymmetricMethods(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ec384Key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		method   string
		key      any
		hashSize int
	}{
		{method: "RS256", key: rsaKey, hashSize: 16},
		{method: "ES256", key: ecKey, hashSize: 16},
		{method: "ES384", key: ec384Key, hashSize: 24},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			ctx := context.Background()
			c := newCodec(t, &codec.Options{SigningMethod: tt.method, SigningKey: tt.key, KeyID: "key-1"})
			assert.Equal(t, tt.method, c.SigningMethod())

			token, err := c.SerializeRefreshToken(ctx, aliceTicket(), nil, nil)
			require.NoError(t, err)

			_, parsed := parseUnverified(t, token)
			assert.Equal(t, "key-1", parsed.Header["kid"])

			got, err := c.DeserializeRefreshToken(ctx, token, nil)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, testutil.TestSubject, got.Principal.Subject())

			response := message.New(message.KindResponse)
			response.Set(message.ParamAccessToken, "at")
			idToken, err := c.SerializeIdentityToken(ctx, aliceTicket(), nil, response)
			require.NoError(t, err)
			claims, _ := parseUnverified(t, idToken)
			raw, err := base64.RawURLEncoding.DecodeString(claims[codec.ClaimAccessHash].(string))
			require.NoError(t, err)
			assert.Len(t, raw, tt.hashSize)
		})
	}
}

func TestJWTCodec_ReservedPrincipalClaimsAreOverwritten(t *testing.T) {
	c := newCodec(t, nil)
	tk := ticket.New(ticket.NewPrincipal(testutil.TestSubject, map[string]any{
		"iss":                 "https://evil.example",
		codec.ClaimTokenUsage: codec.UsageRefreshToken,
	}), nil)

	token, err := c.SerializeAccessToken(context.Background(), tk, nil, nil)
	require.NoError(t, err)

	claims, _ := parseUnverified(t, token)
	assert.Equal(t, testutil.TestIssuer, claims["iss"])
	assert.Equal(t, codec.UsageAccessToken, claims[codec.ClaimTokenUsage])
}

func TestJWTCodec_NilTicket(t *testing.T) {
	c := newCodec(t, nil)
	_, err := c.SerializeAccessToken(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}
