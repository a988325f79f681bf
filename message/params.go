package message

import (
	"slices"
	"strings"
)

// Parameter names
const (
	ParamAccessToken         = "access_token"
	ParamClientID            = "client_id"
	ParamClientSecret        = "client_secret"
	ParamCode                = "code"
	ParamCodeChallenge       = "code_challenge"
	ParamCodeChallengeMethod = "code_challenge_method"
	ParamCodeVerifier        = "code_verifier"
	ParamError               = "error"
	ParamErrorDescription    = "error_description"
	ParamErrorURI            = "error_uri"
	ParamExpiresIn           = "expires_in"
	ParamGrantType           = "grant_type"
	ParamIDToken             = "id_token"
	ParamIDTokenHint         = "id_token_hint"
	ParamNonce               = "nonce"
	ParamPassword            = "password"
	ParamPrompt              = "prompt"
	ParamRedirectURI         = "redirect_uri"
	ParamRefreshToken        = "refresh_token"
	ParamRequest             = "request"
	ParamRequestID           = "request_id"
	ParamRequestURI          = "request_uri"
	ParamResource            = "resource"
	ParamResponseMode        = "response_mode"
	ParamResponseType        = "response_type"
	ParamScope               = "scope"
	ParamState               = "state"
	ParamToken               = "token"
	ParamTokenType           = "token_type"
	ParamTokenTypeHint       = "token_type_hint"
	ParamUsername            = "username"
)

// Response types
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeNone    = "none"
	ResponseTypeToken   = "token"
)

// Response modes
const (
	ResponseModeFormPost = "form_post"
	ResponseModeFragment = "fragment"
	ResponseModeQuery    = "query"
)

// Grant types
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// Scopes
const (
	ScopeOfflineAccess = "offline_access"
	ScopeOpenID        = "openid"
)

// Token type hints (RFC 7009)
const (
	TokenTypeHintAccessToken  = "access_token"
	TokenTypeHintRefreshToken = "refresh_token"
)

// TokenTypeBearer is the only access token type issued.
const TokenTypeBearer = "Bearer"

func (m *Message) ClientID() string            { return m.Get(ParamClientID) }
func (m *Message) ClientSecret() string        { return m.Get(ParamClientSecret) }
func (m *Message) RedirectURI() string         { return m.Get(ParamRedirectURI) }
func (m *Message) ResponseType() string        { return m.Get(ParamResponseType) }
func (m *Message) ResponseMode() string        { return m.Get(ParamResponseMode) }
func (m *Message) Scope() string               { return m.Get(ParamScope) }
func (m *Message) State() string               { return m.Get(ParamState) }
func (m *Message) Nonce() string               { return m.Get(ParamNonce) }
func (m *Message) RequestID() string           { return m.Get(ParamRequestID) }
func (m *Message) GrantType() string           { return m.Get(ParamGrantType) }
func (m *Message) Code() string                { return m.Get(ParamCode) }
func (m *Message) RefreshToken() string        { return m.Get(ParamRefreshToken) }
func (m *Message) Token() string               { return m.Get(ParamToken) }
func (m *Message) TokenTypeHint() string       { return m.Get(ParamTokenTypeHint) }
func (m *Message) Resource() string            { return m.Get(ParamResource) }
func (m *Message) Error() string               { return m.Get(ParamError) }
func (m *Message) ErrorDescription() string    { return m.Get(ParamErrorDescription) }
func (m *Message) ErrorURI() string            { return m.Get(ParamErrorURI) }
func (m *Message) CodeChallenge() string       { return m.Get(ParamCodeChallenge) }
func (m *Message) CodeChallengeMethod() string { return m.Get(ParamCodeChallengeMethod) }
func (m *Message) CodeVerifier() string        { return m.Get(ParamCodeVerifier) }
func (m *Message) Username() string            { return m.Get(ParamUsername) }
func (m *Message) Password() string            { return m.Get(ParamPassword) }

// Scopes returns the space-delimited scope values, without duplicates.
func (m *Message) Scopes() []string {
	return SplitSet(m.Scope())
}

// HasScope reports whether the scope parameter contains the given value.
func (m *Message) HasScope(scope string) bool {
	return slices.Contains(m.Scopes(), scope)
}

// HasResponseType reports whether response_type contains the given value.
func (m *Message) HasResponseType(responseType string) bool {
	return slices.Contains(SplitSet(m.ResponseType()), responseType)
}

// IsNoneFlow reports whether response_type is exactly "none".
func (m *Message) IsNoneFlow() bool {
	return sameSet(m.ResponseType(), ResponseTypeNone)
}

// IsAuthorizationCodeFlow reports whether response_type is exactly "code".
func (m *Message) IsAuthorizationCodeFlow() bool {
	return sameSet(m.ResponseType(), ResponseTypeCode)
}

// IsImplicitFlow reports whether response_type is "id_token", "token" or "id_token token".
func (m *Message) IsImplicitFlow() bool {
	rt := m.ResponseType()
	return sameSet(rt, ResponseTypeIDToken) ||
		sameSet(rt, ResponseTypeToken) ||
		sameSet(rt, ResponseTypeIDToken, ResponseTypeToken)
}

// IsHybridFlow reports whether response_type is "code id_token", "code token"
// or "code id_token token".
func (m *Message) IsHybridFlow() bool {
	rt := m.ResponseType()
	return sameSet(rt, ResponseTypeCode, ResponseTypeIDToken) ||
		sameSet(rt, ResponseTypeCode, ResponseTypeToken) ||
		sameSet(rt, ResponseTypeCode, ResponseTypeIDToken, ResponseTypeToken)
}

func (m *Message) IsQueryResponseMode() bool    { return m.ResponseMode() == ResponseModeQuery }
func (m *Message) IsFragmentResponseMode() bool { return m.ResponseMode() == ResponseModeFragment }
func (m *Message) IsFormPostResponseMode() bool { return m.ResponseMode() == ResponseModeFormPost }

func (m *Message) IsAuthorizationCodeGrantType() bool {
	return m.GrantType() == GrantTypeAuthorizationCode
}

func (m *Message) IsRefreshTokenGrantType() bool {
	return m.GrantType() == GrantTypeRefreshToken
}

func (m *Message) IsPasswordGrantType() bool {
	return m.GrantType() == GrantTypePassword
}

func (m *Message) IsClientCredentialsGrantType() bool {
	return m.GrantType() == GrantTypeClientCredentials
}

// SplitSet splits a space-delimited parameter into its distinct values,
// preserving first occurrence order.
func SplitSet(value string) []string {
	fields := strings.Fields(value)
	out := fields[:0]
	for _, f := range fields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

func sameSet(value string, want ...string) bool {
	got := SplitSet(value)
	if len(got) != len(want) {
		return false
	}
	for _, w := range want {
		if !slices.Contains(got, w) {
			return false
		}
	}
	return true
}
