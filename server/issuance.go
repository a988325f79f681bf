package server

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

// Artifact names, as reported to metrics and audit logs
const (
	artifactCode         = "code"
	artifactAccessToken  = "access_token"
	artifactIDToken      = "id_token"
	artifactRefreshToken = "refresh_token"
)

const accessDeniedDescription = "The authorization was denied by the resource owner."

// SignIn completes a validated authorization request for the authenticated
// principal of t. It issues the artifacts named by response_type in the order
// code, access token, identity token, deletes the pending request and
// dispatches the response.
//
// A ticket without subject or a codec returning an empty artifact is a
// misconfiguration, reported as an error wrapping ErrServerMisconfigured.
func (s *Server) SignIn(ctx context.Context, request *message.Message, t *ticket.Ticket) (*Outcome, error) {
	ctx, span := s.startSpan(ctx, "server.SignIn")
	defer endSpan(span)

	if request == nil {
		return nil, misconfigured("SignIn called without an authorization request")
	}
	if t == nil || t.Principal.Subject() == "" {
		return nil, misconfigured("the authentication ticket must carry a %q claim", ticket.ClaimSubject)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrUserID, t.Principal.Subject()))

	response := message.New(message.KindResponse)
	response.Set(message.ParamRedirectURI, request.RedirectURI())
	response.Set(message.ParamState, request.State())

	base := s.signInProperties(request, t.Properties)
	clientID := request.ClientID()
	var issued []string

	if request.HasResponseType(message.ResponseTypeCode) {
		props := base.Clone()
		props.IssuedAt = time.Time{}
		props.ExpiresAt = time.Time{}
		props.Set(ticket.PropertyRedirectURI, request.RedirectURI())
		props.Set(ticket.PropertyNonce, request.Nonce())
		props.Set(ticket.PropertyCodeChallenge, request.CodeChallenge())
		props.Set(ticket.PropertyCodeChallengeMethod, request.CodeChallengeMethod())

		code, err := s.codec.SerializeAuthorizationCode(ctx, ticket.New(t.Principal.Clone(), props), request, response)
		if err := s.checkArtifact(artifactCode, code, err); err != nil {
			return nil, err
		}
		response.Set(message.ParamCode, code)
		issued = append(issued, artifactCode)
	}

	if request.HasResponseType(message.ResponseTypeToken) {
		if err := s.issueAccessToken(ctx, request, response, ticket.New(t.Principal, base)); err != nil {
			return nil, err
		}
		issued = append(issued, artifactAccessToken)
	}

	if request.HasResponseType(message.ResponseTypeIDToken) {
		props := base.Clone()
		props.Set(ticket.PropertyNonce, request.Nonce())
		if err := s.issueIdentityToken(ctx, request, response, ticket.New(t.Principal, props)); err != nil {
			return nil, err
		}
		issued = append(issued, artifactIDToken)
	}

	if requestID := request.RequestID(); requestID != "" {
		if err := s.pending.Delete(ctx, requestID); err != nil {
			s.Logger.Warn("Failed to delete completed pending authorization request",
				"request_id_prefix", util.SafeTruncate(requestID, requestIDLogLength),
				"error", err)
		}
	}

	s.recordIssued(ctx, clientID, issued)
	s.Auditor.LogTokensIssued(t.Principal.Subject(), clientID, "", request.Scope(), issued)

	return s.sendAuthorizationResponse(ctx, request, response, t)
}

// Forbid answers a validated authorization request with access_denied,
// delivered through the same channel a successful response would use. The
// audit event carries the address stored with ContextWithClientIP.
func (s *Server) Forbid(ctx context.Context, request *message.Message) (*Outcome, error) {
	ctx, span := s.startSpan(ctx, "server.Forbid")
	defer endSpan(span)

	if request == nil {
		return nil, misconfigured("Forbid called without an authorization request")
	}

	perr := newProtocolError(ErrorCodeAccessDenied, accessDeniedDescription)
	s.recordProtocolError(ctx, span, endpointAuthorization, perr)
	s.Auditor.LogAccessDenied(request.ClientID(), clientIPFromContext(ctx))

	response := errorResponse(perr)
	response.Set(message.ParamRedirectURI, request.RedirectURI())
	response.Set(message.ParamState, request.State())
	return s.sendAuthorizationResponse(ctx, request, response, ticket.New(ticket.Anonymous(), nil))
}

// signInProperties derives the properties shared by every artifact of a
// sign-in: the caller's properties, presenters defaulting to the client and
// scopes and resources defaulting to the request.
func (s *Server) signInProperties(request *message.Message, props *ticket.Properties) *ticket.Properties {
	base := props.Clone()
	if len(base.Presenters()) == 0 && request.ClientID() != "" {
		base.SetPresenters(request.ClientID())
	}
	if base.Get(ticket.PropertyScopes) == "" {
		base.Set(ticket.PropertyScopes, strings.Join(request.Scopes(), " "))
	}
	if base.Get(ticket.PropertyResources) == "" {
		base.Set(ticket.PropertyResources, strings.Join(message.SplitSet(request.Resource()), " "))
	}
	return base
}

// issueAccessToken serializes an access token from an independent copy of
// t's properties and adds it to response, with expires_in and any scope or
// resource differing from the request.
func (s *Server) issueAccessToken(ctx context.Context, request, response *message.Message, t *ticket.Ticket) error {
	props := t.Properties.Clone()
	props.IssuedAt = time.Time{}
	props.ExpiresAt = time.Time{}
	clearCodeProperties(props)
	props.Set(ticket.PropertyNonce, "")

	if resources := props.Get(ticket.PropertyResources); resources != "" && !sameValues(resources, request.Resource()) {
		response.Set(message.ParamResource, resources)
	}
	if scopes := props.Get(ticket.PropertyScopes); scopes != "" && !sameValues(scopes, request.Scope()) {
		response.Set(message.ParamScope, scopes)
	}

	accessToken, err := s.codec.SerializeAccessToken(ctx, ticket.New(t.Principal.Clone(), props), request, response)
	if err := s.checkArtifact(artifactAccessToken, accessToken, err); err != nil {
		return err
	}

	response.Set(message.ParamAccessToken, accessToken)
	response.Set(message.ParamTokenType, message.TokenTypeBearer)
	if expiresIn, ok := expiresIn(props.ExpiresAt, s.now()); ok {
		response.Set(message.ParamExpiresIn, strconv.FormatInt(expiresIn, 10))
	}
	return nil
}

// issueIdentityToken serializes an identity token. It must run after the code
// and access token were added to response.
func (s *Server) issueIdentityToken(ctx context.Context, request, response *message.Message, t *ticket.Ticket) error {
	props := t.Properties.Clone()
	props.IssuedAt = time.Time{}
	props.ExpiresAt = time.Time{}
	clearCodeProperties(props)

	idToken, err := s.codec.SerializeIdentityToken(ctx, ticket.New(t.Principal.Clone(), props), request, response)
	if err := s.checkArtifact(artifactIDToken, idToken, err); err != nil {
		return err
	}
	response.Set(message.ParamIDToken, idToken)
	return nil
}

// issueRefreshToken serializes a refresh token.
func (s *Server) issueRefreshToken(ctx context.Context, request, response *message.Message, t *ticket.Ticket) error {
	props := t.Properties.Clone()
	props.IssuedAt = time.Time{}
	props.ExpiresAt = time.Time{}
	clearCodeProperties(props)
	props.Set(ticket.PropertyNonce, "")

	refreshToken, err := s.codec.SerializeRefreshToken(ctx, ticket.New(t.Principal.Clone(), props), request, response)
	if err := s.checkArtifact(artifactRefreshToken, refreshToken, err); err != nil {
		return err
	}
	response.Set(message.ParamRefreshToken, refreshToken)
	return nil
}

func (s *Server) checkArtifact(artifact, value string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", artifact, err)
	}
	if value == "" {
		return misconfigured("the token codec returned an empty %s", artifact)
	}
	return nil
}

func (s *Server) recordIssued(ctx context.Context, clientID string, issued []string) {
	if s.metrics == nil {
		return
	}
	for _, artifact := range issued {
		s.metrics.RecordTokenIssued(ctx, clientID, artifact)
	}
}

// expiresIn returns the seconds from now until expiresAt, rounded half up.
// Nothing is reported for an unset or past expiry.
func expiresIn(expiresAt, now time.Time) (int64, bool) {
	if expiresAt.IsZero() || !expiresAt.After(now) {
		return 0, false
	}
	seconds := expiresAt.Sub(now).Seconds()
	return int64(math.Floor(seconds + 0.5)), true
}

// clearCodeProperties removes the properties only an authorization code carries.
func clearCodeProperties(props *ticket.Properties) {
	props.Set(ticket.PropertyRedirectURI, "")
	props.Set(ticket.PropertyCodeChallenge, "")
	props.Set(ticket.PropertyCodeChallengeMethod, "")
}

// sameValues compares two space-delimited sets.
func sameValues(a, b string) bool {
	as, bs := message.SplitSet(a), message.SplitSet(b)
	if len(as) != len(bs) {
		return false
	}
	seen := make(map[string]struct{}, len(as))
	for _, v := range as {
		seen[v] = struct{}{}
	}
	for _, v := range bs {
		if _, ok := seen[v]; !ok {
			return false
		}
	}
	return true
}
