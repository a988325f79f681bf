package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
)

// PKCE validation constants (RFC 7636)
const (
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
	PKCEMethodS256        = "S256"
	PKCEMethodPlain       = "plain"
)

// URI scheme constants
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

var (
	// DangerousSchemes lists URI schemes that must never be accepted as redirect targets
	DangerousSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

	// DefaultRFC3986SchemePattern is the default regex pattern for custom URI schemes (RFC 3986)
	DefaultRFC3986SchemePattern = []string{"^[a-z][a-z0-9+.-]*$"}
)

const oauth21SecurityBestPracticesURL = "https://datatracker.ietf.org/doc/html/draft-ietf-oauth-v2-1-10#section-4.1.1"

// validateHTTPSEnforcement ensures that the issuer is served over HTTPS.
//
// The validation logic:
//   - HTTPS URLs: always allowed
//   - HTTP on localhost: allowed with warning (development)
//   - HTTP elsewhere: blocked unless AllowInsecureHTTP=true
func (s *Server) validateHTTPSEnforcement() error {
	issuerURL, err := url.Parse(s.Config.Issuer)
	if err != nil {
		return fmt.Errorf("invalid issuer URL: %w", err)
	}

	switch issuerURL.Scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
	default:
		return fmt.Errorf("invalid issuer URL scheme: %s (must be http or https)", issuerURL.Scheme)
	}

	hostname := issuerURL.Hostname()
	if isLocalhostHostname(hostname) {
		if !s.Config.AllowInsecureHTTP {
			s.Logger.Warn("⚠️  DEVELOPMENT WARNING: Running OpenID Connect over HTTP on localhost",
				"issuer", s.Config.Issuer,
				"risk", "Credentials exposed on local network",
				"to_suppress", "Set AllowInsecureHTTP=true in Config",
				"learn_more", oauth21SecurityBestPracticesURL)
		}
		return nil
	}

	if !s.Config.AllowInsecureHTTP {
		return fmt.Errorf(
			"SECURITY ERROR: Issuer must use HTTPS in production (got %s://%s). "+
				"To run on localhost for development, set AllowInsecureHTTP=true",
			issuerURL.Scheme,
			hostname,
		)
	}

	s.Logger.Error("🚨 CRITICAL SECURITY WARNING: Running OpenID Connect server over HTTP",
		"issuer", s.Config.Issuer,
		"hostname", hostname,
		"risk", "All tokens and credentials exposed to network sniffing and MITM attacks",
		"action_required", "Switch to HTTPS immediately",
		"learn_more", oauth21SecurityBestPracticesURL)

	return nil
}

// isLocalhostHostname checks if a hostname refers to the local machine,
// including 0.0.0.0 which is commonly bound in development.
func isLocalhostHostname(hostname string) bool {
	return hostname == "0.0.0.0" || util.IsLoopbackHostname(hostname)
}

// validateRedirectURI checks that redirectURI is an absolute URI without a
// fragment that does not point at an unspecified or link-local IP, that its
// scheme is safe, and that non-loopback http targets are refused when the
// issuer itself uses https.
func (s *Server) validateRedirectURI(redirectURI string) error {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return fmt.Errorf("redirect_uri is not a valid URI: %w", err)
	}
	if !parsed.IsAbs() {
		return fmt.Errorf("redirect_uri must be an absolute URI")
	}
	// RFC 6749 section 3.1.2: the endpoint URI MUST NOT include a fragment
	if parsed.Fragment != "" || strings.Contains(redirectURI, "#") {
		return fmt.Errorf("redirect_uri must not contain a fragment")
	}

	host := strings.ToLower(parsed.Hostname())
	if class, ok := util.ClassifyHost(host); ok {
		switch class {
		case util.IPClassificationUnspecified, util.IPClassificationLinkLocal:
			return fmt.Errorf("redirect_uri host %s is a %s address", host, class)
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case SchemeHTTPS:
		return nil
	case SchemeHTTP:
		if util.IsLoopbackHostname(host) {
			return nil
		}
		if issuer, err := url.Parse(s.Config.Issuer); err == nil && issuer.Scheme == SchemeHTTPS {
			return fmt.Errorf("redirect_uri must use HTTPS (got %s://)", scheme)
		}
		return nil
	default:
		return validateCustomScheme(scheme, s.Config.AllowedCustomSchemes)
	}
}

// validateCustomScheme validates a custom URI scheme against allowed patterns
func validateCustomScheme(scheme string, allowedSchemes []string) error {
	schemeLower := strings.ToLower(scheme)

	if slices.Contains(DangerousSchemes, schemeLower) {
		return fmt.Errorf("redirect_uri scheme '%s' is not allowed for security reasons", scheme)
	}

	if len(allowedSchemes) == 0 {
		allowedSchemes = DefaultRFC3986SchemePattern
	}

	for _, pattern := range allowedSchemes {
		matched, err := regexp.MatchString(pattern, schemeLower)
		if err != nil {
			return fmt.Errorf("invalid scheme pattern '%s': %w", pattern, err)
		}
		if matched {
			return nil
		}
	}

	return fmt.Errorf("redirect_uri scheme '%s' does not match allowed patterns (must match one of: %v)",
		scheme, allowedSchemes)
}

// validateScopes checks requested scopes against SupportedScopes.
func (s *Server) validateScopes(scopes []string) error {
	if len(s.Config.SupportedScopes) == 0 {
		return nil
	}
	for _, scope := range scopes {
		if !slices.Contains(s.Config.SupportedScopes, scope) {
			return fmt.Errorf("unsupported scope: %s", scope)
		}
	}
	return nil
}

// validateCodeChallenge checks the PKCE parameters of an authorization request.
func (s *Server) validateCodeChallenge(request *message.Message) error {
	challenge := request.CodeChallenge()
	method := request.CodeChallengeMethod()

	if challenge == "" {
		if method != "" {
			return fmt.Errorf("the 'code_challenge_method' parameter requires a 'code_challenge'")
		}
		return nil
	}
	if !request.HasResponseType(message.ResponseTypeCode) {
		return fmt.Errorf("the 'code_challenge' parameter is only allowed for response types containing 'code'")
	}

	switch method {
	case PKCEMethodS256:
		// RFC 7636: a SHA-256 digest is 43 base64url characters
		if len(challenge) != MinCodeVerifierLength {
			return fmt.Errorf("the 'code_challenge' parameter must be a base64url-encoded SHA-256 digest")
		}
		return nil
	case "", PKCEMethodPlain:
		// An absent method means plain (RFC 7636 section 4.3)
		if !s.Config.AllowPKCEPlain {
			return fmt.Errorf("'%s' code_challenge_method is not allowed", PKCEMethodPlain)
		}
		return validateVerifierFormat(challenge)
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}
}

// verifyPKCE validates the PKCE code verifier against the challenge per RFC 7636
func verifyPKCE(challenge, method, verifier string) error {
	if verifier == "" {
		return fmt.Errorf("code_verifier is required when code_challenge is present")
	}
	if err := validateVerifierFormat(verifier); err != nil {
		return err
	}

	var computed string
	switch method {
	case PKCEMethodS256:
		hash := sha256.Sum256([]byte(verifier))
		computed = base64.RawURLEncoding.EncodeToString(hash[:])
	case "", PKCEMethodPlain:
		computed = verifier
	default:
		return fmt.Errorf("unsupported code_challenge_method: %s", method)
	}

	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return fmt.Errorf("code_verifier does not match code_challenge")
	}
	return nil
}

// validateVerifierFormat enforces the RFC 7636 length and alphabet
// [A-Za-z0-9-._~] of a code verifier.
func validateVerifierFormat(verifier string) error {
	if len(verifier) < MinCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at least %d characters (RFC 7636)", MinCodeVerifierLength)
	}
	if len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier must be at most %d characters (RFC 7636)", MaxCodeVerifierLength)
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return fmt.Errorf("code_verifier contains invalid characters (must be [A-Za-z0-9-._~])")
		}
	}
	return nil
}
