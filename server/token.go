package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/ticket"
)

const endpointToken = "token"

// Token processes a token request. Protocol errors are returned as JSON
// documents inside the Outcome; the error is non-nil only for failures of
// the server itself.
func (s *Server) Token(ctx context.Context, req *Request) (*Outcome, error) {
	ctx, span := s.startSpan(ctx, "server.Token")
	defer endSpan(span)

	request := message.New(message.KindTokenRequest)

	values, perr := req.postParameters()
	if perr != nil {
		return s.rejectToken(ctx, span, req, request, perr)
	}
	parsed, err := message.FromValues(message.KindTokenRequest, values)
	if err != nil {
		return s.rejectToken(ctx, span, req, request,
			invalidRequest(fmt.Sprintf("A malformed token request has been received: %v.", err)))
	}
	request = parsed
	applyBasicCredentials(request, req.Header)

	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrGrantType, request.GrantType()))
	instrumentation.AddRequestAttributes(span, request.ClientID(), "", request.Scope())

	if perr := s.validateTokenRequest(request); perr != nil {
		return s.rejectToken(ctx, span, req, request, perr)
	}

	vctx := &providers.ValidateTokenRequestContext{Request: request}
	if err := s.provider.ValidateTokenRequest(ctx, vctx); err != nil {
		return nil, fmt.Errorf("validate token request hook failed: %w", err)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrValidation, vctx.State().String()))

	switch {
	case vctx.IsRejected():
		s.Auditor.LogAuthFailure("", request.ClientID(), req.ClientIP, vctx.ErrorDescription())
		return s.rejectToken(ctx, span, req, request,
			rejection(vctx.ErrorCode(), vctx.ErrorDescription(), vctx.ErrorURI(), ErrorCodeInvalidClient))
	case vctx.IsSkipped():
		if request.IsClientCredentialsGrantType() {
			return s.rejectToken(ctx, span, req, request,
				newProtocolError(ErrorCodeInvalidClient, "Client authentication is required when using the client credentials grant."))
		}
	case vctx.IsValidated():
		if request.ClientID() == "" {
			return nil, misconfigured("token request was validated without a client_id")
		}
	default:
		return s.rejectToken(ctx, span, req, request,
			newProtocolError(ErrorCodeInvalidClient, "The token request was not validated."))
	}
	authenticated := vctx.IsValidated()

	var granted *ticket.Ticket
	switch {
	case request.IsAuthorizationCodeGrantType():
		granted, perr = s.redeemAuthorizationCode(ctx, req, request, authenticated)
	case request.IsRefreshTokenGrantType():
		granted, perr = s.redeemRefreshToken(ctx, req, request, authenticated)
	}
	if perr != nil {
		return s.rejectToken(ctx, span, req, request, perr)
	}
	if granted != nil {
		if perr := s.narrowScopes(req, request, granted); perr != nil {
			return s.rejectToken(ctx, span, req, request, perr)
		}
	}

	hctx := &providers.HandleTokenRequestContext{Request: request, Ticket: granted}
	if err := s.provider.HandleTokenRequest(ctx, hctx); err != nil {
		return nil, fmt.Errorf("handle token request hook failed: %w", err)
	}

	switch {
	case hctx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request}, nil
	case hctx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request}, nil
	case hctx.IsRejected():
		return s.rejectToken(ctx, span, req, request,
			rejection(hctx.ErrorCode(), hctx.ErrorDescription(), hctx.ErrorURI(), ErrorCodeInvalidGrant))
	case hctx.Ticket == nil:
		if isExtensionGrant(request.GrantType()) {
			return s.rejectToken(ctx, span, req, request,
				newProtocolError(ErrorCodeUnsupportedGrantType, "The specified 'grant_type' parameter is not supported."))
		}
		return s.rejectToken(ctx, span, req, request, invalidGrant("The token request was rejected."))
	}

	t := hctx.Ticket
	if t.Principal.Subject() == "" && !request.IsClientCredentialsGrantType() {
		return nil, misconfigured("the ticket of a %s grant must carry a %q claim", request.GrantType(), ticket.ClaimSubject)
	}
	if authenticated {
		props := t.Properties.Clone()
		props.Set(ticket.PropertyConfidential, "true")
		t = ticket.New(t.Principal, props)
	}

	response, issued, err := s.issueTokens(ctx, request, t)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordTokenRequest(ctx, request.GrantType(), "success")
	}
	s.recordIssued(ctx, request.ClientID(), issued)
	if subject := t.Principal.Subject(); subject != "" {
		instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrUserID, subject))
	}
	s.Auditor.LogTokensIssued(t.Principal.Subject(), request.ClientID(), req.ClientIP, response.Scope(), issued)

	actx := &providers.ApplyTokenResponseContext{Request: request, Response: response, Ticket: t}
	if err := s.provider.ApplyTokenResponse(ctx, actx); err != nil {
		return nil, fmt.Errorf("apply token response hook failed: %w", err)
	}
	switch {
	case actx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request, Response: response}, nil
	case actx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	return jsonDocument(request, response, http.StatusOK)
}

// validateTokenRequest checks that the grant type is known and carries its
// mandatory parameters.
func (s *Server) validateTokenRequest(request *message.Message) *ProtocolError {
	grantType := request.GrantType()
	switch {
	case grantType == "":
		return invalidRequest("The mandatory 'grant_type' parameter is missing.")

	case request.IsAuthorizationCodeGrantType():
		if !s.Config.AuthorizationCodeGrantEnabled() {
			return newProtocolError(ErrorCodeUnsupportedGrantType, "The authorization code grant is not enabled on this server.")
		}
		if request.Code() == "" {
			return invalidRequest("The mandatory 'code' parameter is missing.")
		}

	case request.IsRefreshTokenGrantType():
		if request.RefreshToken() == "" {
			return invalidRequest("The mandatory 'refresh_token' parameter is missing.")
		}

	case request.IsPasswordGrantType():
		if request.Username() == "" || request.Password() == "" {
			return invalidRequest("The mandatory 'username' and/or 'password' parameters are missing.")
		}

	case request.IsClientCredentialsGrantType():

	case !isExtensionGrant(grantType):
		return newProtocolError(ErrorCodeUnsupportedGrantType, "The specified 'grant_type' parameter is not supported.")
	}

	if request.CodeVerifier() != "" && !request.IsAuthorizationCodeGrantType() {
		return invalidRequest("The 'code_verifier' parameter is only allowed with the authorization code grant.")
	}
	if err := s.validateScopes(request.Scopes()); err != nil {
		return newProtocolError(ErrorCodeInvalidScope, fmt.Sprintf("The 'scope' parameter is invalid: %v.", err))
	}
	return nil
}

// redeemAuthorizationCode resolves the code and checks its binding to the
// client, the redirect_uri and the PKCE challenge.
func (s *Server) redeemAuthorizationCode(ctx context.Context, req *Request, request *message.Message, authenticated bool) (*ticket.Ticket, *ProtocolError) {
	t := s.deserialize(ctx, artifactCode, request.Code(), request, s.codec.DeserializeAuthorizationCode)
	if t == nil {
		s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "unresolvable code")
		return nil, invalidGrant("The specified authorization code is invalid.")
	}
	if t.IsExpired(s.now()) {
		s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "expired code")
		return nil, invalidGrant("The specified authorization code is no longer valid.")
	}

	if perr := s.checkPresenter(req, request, t, authenticated); perr != nil {
		return nil, perr
	}

	if bound := t.Properties.Get(ticket.PropertyRedirectURI); bound != "" {
		if request.RedirectURI() == "" {
			return nil, invalidRequest("The mandatory 'redirect_uri' parameter is missing.")
		}
		if request.RedirectURI() != bound {
			s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "redirect_uri mismatch")
			return nil, invalidGrant("The specified 'redirect_uri' parameter doesn't match the client redirection endpoint the authorization code was initially sent to.")
		}
	}

	challenge := t.Properties.Get(ticket.PropertyCodeChallenge)
	switch {
	case challenge != "":
		method := t.Properties.Get(ticket.PropertyCodeChallengeMethod)
		if err := verifyPKCE(challenge, method, request.CodeVerifier()); err != nil {
			s.Auditor.LogPKCEValidationFailed(request.ClientID(), req.ClientIP, err.Error())
			return nil, invalidGrant(fmt.Sprintf("The PKCE validation failed: %v.", err))
		}
	case request.CodeVerifier() != "":
		return nil, invalidRequest("The 'code_verifier' parameter is not allowed: no 'code_challenge' was sent in the authorization request.")
	}

	return t, nil
}

// redeemRefreshToken resolves the refresh token and checks its binding to the client.
func (s *Server) redeemRefreshToken(ctx context.Context, req *Request, request *message.Message, authenticated bool) (*ticket.Ticket, *ProtocolError) {
	t := s.deserialize(ctx, artifactRefreshToken, request.RefreshToken(), request, s.codec.DeserializeRefreshToken)
	if t == nil {
		s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "unresolvable refresh token")
		return nil, invalidGrant("The specified refresh token is invalid.")
	}
	if t.IsExpired(s.now()) {
		s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "expired refresh token")
		return nil, invalidGrant("The specified refresh token is no longer valid.")
	}

	if perr := s.checkPresenter(req, request, t, authenticated); perr != nil {
		return nil, perr
	}
	return t, nil
}

// checkPresenter enforces the client binding of a code or refresh token.
func (s *Server) checkPresenter(req *Request, request *message.Message, t *ticket.Ticket, authenticated bool) *ProtocolError {
	if !authenticated && t.IsConfidential() {
		s.Auditor.LogInvalidGrant(request.ClientID(), req.ClientIP, request.GrantType(), "confidential token presented by a public client")
		return invalidGrant("The specified grant was issued to an authenticated client and cannot be used without client authentication.")
	}

	if len(t.Properties.Presenters()) == 0 {
		return nil
	}
	if request.ClientID() == "" {
		return invalidRequest("The mandatory 'client_id' parameter is missing.")
	}
	if !t.HasPresenter(request.ClientID()) {
		s.Auditor.LogPresenterMismatch(t.Principal.Subject(), request.ClientID(), req.ClientIP, endpointToken)
		return invalidGrant("The specified grant was issued to a different client.")
	}
	return nil
}

// narrowScopes restricts the granted scopes to those requested. Requesting a
// scope that was not granted is an error.
func (s *Server) narrowScopes(req *Request, request *message.Message, t *ticket.Ticket) *ProtocolError {
	requested := request.Scopes()
	if len(requested) == 0 {
		return nil
	}

	granted := t.Properties.Scopes()
	for _, scope := range requested {
		if !slices.Contains(granted, scope) {
			s.Auditor.LogScopeEscalationAttempt(t.Principal.Subject(), request.ClientID(), req.ClientIP, request.Scope())
			return newProtocolError(ErrorCodeInvalidScope, "The specified 'scope' parameter is invalid: it exceeds the scopes initially granted.")
		}
	}

	props := t.Properties.Clone()
	props.Set(ticket.PropertyScopes, strings.Join(requested, " "))
	t.Properties = props
	return nil
}

// issueTokens builds the token response: an access token, then an identity
// token when openid was granted, then a refresh token when offline_access was
// granted.
func (s *Server) issueTokens(ctx context.Context, request *message.Message, t *ticket.Ticket) (*message.Message, []string, error) {
	response := message.New(message.KindResponse)

	base := t.Properties.Clone()
	if len(base.Presenters()) == 0 && request.ClientID() != "" {
		base.SetPresenters(request.ClientID())
	}
	if base.Get(ticket.PropertyScopes) == "" {
		base.Set(ticket.PropertyScopes, strings.Join(request.Scopes(), " "))
	}
	scopes := base.Scopes()

	var issued []string
	if err := s.issueAccessToken(ctx, request, response, ticket.New(t.Principal, base)); err != nil {
		return nil, nil, err
	}
	issued = append(issued, artifactAccessToken)

	if slices.Contains(scopes, message.ScopeOpenID) && t.Principal.Subject() != "" {
		props := base.Clone()
		if !request.IsAuthorizationCodeGrantType() {
			props.Set(ticket.PropertyNonce, "")
		}
		if err := s.issueIdentityToken(ctx, request, response, ticket.New(t.Principal, props)); err != nil {
			return nil, nil, err
		}
		issued = append(issued, artifactIDToken)
	}

	if slices.Contains(scopes, message.ScopeOfflineAccess) && !request.IsClientCredentialsGrantType() {
		if err := s.issueRefreshToken(ctx, request, response, ticket.New(t.Principal, base)); err != nil {
			return nil, nil, err
		}
		issued = append(issued, artifactRefreshToken)
	}

	return response, issued, nil
}

// deserialize resolves token with fn. Codec failures count as unresolvable.
func (s *Server) deserialize(
	ctx context.Context,
	artifact, token string,
	request *message.Message,
	fn func(context.Context, string, *message.Message) (*ticket.Ticket, error),
) *ticket.Ticket {
	t, err := fn(ctx, token, request)
	if err != nil {
		s.Logger.Debug("Token could not be deserialized", "artifact", artifact, "error", err)
		return nil
	}
	if t == nil || t.Principal == nil {
		return nil
	}
	if t.Properties == nil {
		t.Properties = ticket.NewProperties()
	}
	return t
}

func (s *Server) rejectToken(ctx context.Context, span trace.Span, req *Request, request *message.Message, perr *ProtocolError) (*Outcome, error) {
	s.recordProtocolError(ctx, span, endpointToken, perr)
	if s.metrics != nil {
		s.metrics.RecordTokenRequest(ctx, request.GrantType(), perr.Code)
	}
	s.Logger.Debug("Rejected token request",
		"client_id", request.ClientID(),
		"grant_type", request.GrantType(),
		"error", perr.Code,
		"error_description", perr.Description)

	response := errorResponse(perr)

	actx := &providers.ApplyTokenResponseContext{Request: request, Response: response}
	if err := s.provider.ApplyTokenResponse(ctx, actx); err != nil {
		return nil, fmt.Errorf("apply token response hook failed: %w", err)
	}
	switch {
	case actx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request, Response: response}, nil
	case actx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	outcome, err := jsonDocument(request, response, perr.Status())
	if err != nil {
		return nil, err
	}
	if perr.Code == ErrorCodeInvalidClient {
		if _, _, ok := basicCredentials(req.Header); ok {
			outcome.Header.Set("WWW-Authenticate", `Basic realm="token"`)
		}
	}
	return outcome, nil
}

// isExtensionGrant reports whether grantType is an absolute URI, the form
// required for extension grants (RFC 6749 section 4.5).
func isExtensionGrant(grantType string) bool {
	u, err := url.Parse(grantType)
	return err == nil && u.IsAbs()
}
