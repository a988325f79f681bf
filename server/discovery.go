package server

import (
	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
)

// Default endpoint paths, relative to the issuer
const (
	DefaultAuthorizationPath = "/authorize"
	DefaultTokenPath         = "/token"
	DefaultRevocationPath    = "/revoke"
	DefaultDiscoveryPath     = "/.well-known/openid-configuration"
)

// Discovery is the data the engine contributes to the OpenID Provider
// Metadata document. Key material (jwks_uri) is the application's concern.
type Discovery struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	RequestParameterSupported         bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported      bool     `json:"request_uri_parameter_supported"`
}

// Discovery describes the engine's capabilities under the default endpoint paths.
func (s *Server) Discovery() *Discovery {
	issuer := util.NormalizeURL(s.Config.Issuer)

	responseTypes := []string{
		message.ResponseTypeNone,
		message.ResponseTypeIDToken,
		message.ResponseTypeToken,
		message.ResponseTypeIDToken + " " + message.ResponseTypeToken,
	}
	grantTypes := []string{
		message.GrantTypeRefreshToken,
		message.GrantTypePassword,
		message.GrantTypeClientCredentials,
	}
	if s.Config.AuthorizationCodeGrantEnabled() {
		responseTypes = append(responseTypes,
			message.ResponseTypeCode,
			message.ResponseTypeCode+" "+message.ResponseTypeIDToken,
			message.ResponseTypeCode+" "+message.ResponseTypeToken,
			message.ResponseTypeCode+" "+message.ResponseTypeIDToken+" "+message.ResponseTypeToken,
		)
		grantTypes = append([]string{message.GrantTypeAuthorizationCode}, grantTypes...)
	}

	challengeMethods := []string{PKCEMethodS256}
	if s.Config.AllowPKCEPlain {
		challengeMethods = append(challengeMethods, PKCEMethodPlain)
	}

	return &Discovery{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + DefaultAuthorizationPath,
		TokenEndpoint:                     issuer + DefaultTokenPath,
		RevocationEndpoint:                issuer + DefaultRevocationPath,
		ResponseTypesSupported:            responseTypes,
		ResponseModesSupported:            []string{message.ResponseModeQuery, message.ResponseModeFragment, message.ResponseModeFormPost},
		GrantTypesSupported:               grantTypes,
		ScopesSupported:                   s.Config.SupportedScopes,
		SubjectTypesSupported:             []string{"public"},
		CodeChallengeMethodsSupported:     challengeMethods,
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
		RequestParameterSupported:         false,
		RequestURIParameterSupported:      false,
	}
}
