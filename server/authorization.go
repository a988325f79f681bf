package server

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/storage"
)

const (
	endpointAuthorization = "authorization"

	// requestIDLogLength is the number of characters of a request id included in logs
	requestIDLogLength = 8
)

// Authorize processes an authorization request.
//
// Errors found before the ValidateAuthorizationRequest hook accepted the
// request are rendered natively, since the redirect_uri is not trusted yet.
// Later errors are delivered to the client through its response mode.
//
// A request without request_id is stored in the pending request store once
// validated, and the minted request_id is attached to the normalized request.
// The returned error is non-nil only for failures of the server itself.
func (s *Server) Authorize(ctx context.Context, req *Request) (*Outcome, error) {
	ctx, span := s.startSpan(ctx, "server.Authorize")
	defer endSpan(span)

	request, perr := s.readAuthorizationRequest(ctx, req)
	if perr != nil {
		return s.rejectAuthorization(ctx, span, req, request, perr)
	}
	instrumentation.AddRequestAttributes(span, request.ClientID(), request.ResponseType(), request.Scope())

	if perr := s.validateAuthorizationRequest(req, request); perr != nil {
		return s.rejectAuthorization(ctx, span, req, request, perr)
	}

	vctx := &providers.ValidateAuthorizationRequestContext{
		Request:     request,
		RedirectURI: request.RedirectURI(),
	}
	if err := s.provider.ValidateAuthorizationRequest(ctx, vctx); err != nil {
		return nil, fmt.Errorf("validate authorization request hook failed: %w", err)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrValidation, vctx.State().String()))

	switch {
	case vctx.IsRejected():
		return s.rejectAuthorization(ctx, span, req, request,
			rejection(vctx.ErrorCode(), vctx.ErrorDescription(), vctx.ErrorURI(), ErrorCodeInvalidClient))
	case !vctx.IsValidated():
		return s.rejectAuthorization(ctx, span, req, request,
			newProtocolError(ErrorCodeInvalidClient, "The authorization request was not validated."))
	}

	if err := s.applyValidatedRedirectURI(request, vctx.RedirectURI); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordAuthorizationRequest(ctx, request.ClientID(), "validated")
	}

	if request.RequestID() == "" {
		requestID := generateRequestID()
		if err := s.pending.Save(ctx, requestID, request); err != nil {
			if errors.Is(err, storage.ErrRequestTooLarge) {
				return s.rejectAuthorization(ctx, span, req, request,
					invalidRequest("The authorization request is too large."))
			}
			return nil, fmt.Errorf("failed to store pending authorization request: %w", err)
		}
		request.Set(message.ParamRequestID, requestID)
		if s.metrics != nil {
			s.metrics.RecordPendingRequestMinted(ctx)
		}
		s.Logger.Debug("Minted pending authorization request",
			"client_id", request.ClientID(),
			"request_id_prefix", util.SafeTruncate(requestID, requestIDLogLength))
	}

	hctx := &providers.HandleAuthorizationRequestContext{Request: request}
	if err := s.provider.HandleAuthorizationRequest(ctx, hctx); err != nil {
		return nil, fmt.Errorf("handle authorization request hook failed: %w", err)
	}

	switch {
	case hctx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request}, nil
	case hctx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request}, nil
	case hctx.IsRejected():
		perr := rejection(hctx.ErrorCode(), hctx.ErrorDescription(), hctx.ErrorURI(), ErrorCodeAccessDenied)
		return s.sendAuthorizationError(ctx, request, perr)
	case hctx.Ticket != nil:
		return s.SignIn(ctx, request, hctx.Ticket)
	}

	// Default: the application authenticates the user, then calls SignIn or Forbid
	return &Outcome{Kind: OutcomeContinue, Request: request}, nil
}

// readAuthorizationRequest extracts the request message and restores the
// pending request it refers to. The returned message is never nil.
func (s *Server) readAuthorizationRequest(ctx context.Context, req *Request) (*message.Message, *ProtocolError) {
	empty := message.New(message.KindAuthorizationRequest)

	values, perr := req.parameters()
	if perr != nil {
		return empty, perr
	}

	request, err := message.FromValues(message.KindAuthorizationRequest, values)
	if err != nil {
		return empty, invalidRequest(fmt.Sprintf("A malformed authorization request has been received: %v.", err))
	}

	if request.RequestID() != "" {
		if perr := s.restorePendingRequest(ctx, req, request); perr != nil {
			return request, perr
		}
	}
	return request, nil
}

// restorePendingRequest merges the stored parameters into request. Parameters
// supplied on the incoming request win. A backend failure is handled like a
// miss: the flow cannot continue without its stored parameters.
func (s *Server) restorePendingRequest(ctx context.Context, req *Request, request *message.Message) *ProtocolError {
	requestID := request.RequestID()

	params, err := s.pending.Load(ctx, requestID)
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx), attribute.Bool(instrumentation.AttrPendingRequest, err == nil))
	if err != nil {
		reason := "not found"
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case errors.Is(err, storage.ErrUnsupportedVersion), errors.Is(err, storage.ErrCorrupted):
			reason = "unreadable"
		default:
			reason = "store unavailable"
			s.Logger.Warn("Pending request store lookup failed, treating request as expired",
				"request_id_prefix", util.SafeTruncate(requestID, requestIDLogLength),
				"error", err)
		}
		if s.metrics != nil {
			s.metrics.RecordPendingRequestMerged(ctx, false)
		}
		s.Auditor.LogPendingRequestExpired(req.ClientIP, reason)
		return invalidRequest("Invalid request: timeout expired.")
	}

	request.Merge(params)
	if s.metrics != nil {
		s.metrics.RecordPendingRequestMerged(ctx, true)
	}
	return nil
}

// validateAuthorizationRequest applies the built-in checks in order; the
// first failure wins.
func (s *Server) validateAuthorizationRequest(req *Request, request *message.Message) *ProtocolError {
	if request.ClientID() == "" {
		return invalidRequest("The mandatory 'client_id' parameter is missing.")
	}

	if redirectURI := request.RedirectURI(); redirectURI == "" {
		if request.HasScope(message.ScopeOpenID) {
			return invalidRequest("The mandatory 'redirect_uri' parameter is missing.")
		}
	} else if err := s.validateRedirectURI(redirectURI); err != nil {
		s.Auditor.LogInvalidRedirect(request.ClientID(), req.ClientIP, redirectURI, err.Error())
		return invalidRequest(fmt.Sprintf("The 'redirect_uri' parameter is invalid: %v.", err))
	}

	if request.Has(message.ParamRequest) {
		return newProtocolError(ErrorCodeRequestNotSupported, "The 'request' parameter is not supported.")
	}
	if request.Has(message.ParamRequestURI) {
		return newProtocolError(ErrorCodeRequestURINotSupported, "The 'request_uri' parameter is not supported.")
	}

	if request.ResponseType() == "" {
		return invalidRequest("The mandatory 'response_type' parameter is missing.")
	}
	if !request.IsNoneFlow() && !request.IsAuthorizationCodeFlow() &&
		!request.IsImplicitFlow() && !request.IsHybridFlow() {
		return newProtocolError(ErrorCodeUnsupportedResponseType, "The specified 'response_type' parameter is not supported.")
	}

	if request.ResponseMode() != "" && !request.IsQueryResponseMode() &&
		!request.IsFragmentResponseMode() && !request.IsFormPostResponseMode() {
		return invalidRequest("The specified 'response_mode' parameter is not supported.")
	}

	if responseMode(request) == message.ResponseModeQuery &&
		(request.HasResponseType(message.ResponseTypeToken) || request.HasResponseType(message.ResponseTypeIDToken)) {
		return invalidRequest("The 'response_type'/'response_mode' combination is not allowed: tokens must not be returned in the query string.")
	}

	if request.HasScope(message.ScopeOpenID) && request.Nonce() == "" &&
		(request.IsImplicitFlow() || request.IsHybridFlow()) {
		return invalidRequest("The mandatory 'nonce' parameter is missing.")
	}

	if request.HasResponseType(message.ResponseTypeIDToken) && !request.HasScope(message.ScopeOpenID) {
		return invalidRequest("The 'openid' scope is required when requesting an identity token.")
	}

	if request.HasResponseType(message.ResponseTypeCode) && !s.Config.AuthorizationCodeGrantEnabled() {
		return newProtocolError(ErrorCodeUnsupportedResponseType, "The authorization code flow is not enabled on this server.")
	}

	if err := s.validateScopes(request.Scopes()); err != nil {
		return newProtocolError(ErrorCodeInvalidScope, fmt.Sprintf("The 'scope' parameter is invalid: %v.", err))
	}

	if err := s.validateCodeChallenge(request); err != nil {
		return invalidRequest(fmt.Sprintf("The PKCE parameters are invalid: %v.", err))
	}

	// The request must fit the pending request store to be resumable.
	if err := storage.CheckRequestSize(request.Parameters()); err != nil {
		return invalidRequest("The authorization request is too large.")
	}

	return nil
}

// applyValidatedRedirectURI records the redirect_uri trusted by the
// validation hook on request.
func (s *Server) applyValidatedRedirectURI(request *message.Message, trusted string) error {
	supplied := request.RedirectURI()
	switch {
	case trusted == "":
		return misconfigured("authorization request from client %q was validated without a redirect_uri", request.ClientID())
	case supplied != "" && supplied != trusted:
		return misconfigured("validation hook replaced the redirect_uri supplied by client %q", request.ClientID())
	case supplied == "":
		if err := s.validateRedirectURI(trusted); err != nil {
			return misconfigured("validation hook supplied an invalid redirect_uri: %v", err)
		}
		request.Set(message.ParamRedirectURI, trusted)
	}
	return nil
}

// rejectAuthorization renders an error for a request whose redirect_uri is
// not trusted.
func (s *Server) rejectAuthorization(ctx context.Context, span trace.Span, req *Request, request *message.Message, perr *ProtocolError) (*Outcome, error) {
	s.recordProtocolError(ctx, span, endpointAuthorization, perr)
	if s.metrics != nil {
		s.metrics.RecordAuthorizationRequest(ctx, request.ClientID(), "rejected")
	}
	s.Auditor.LogAuthorizationRejected(request.ClientID(), req.ClientIP, perr.Code, perr.Description)
	s.Logger.Debug("Rejected authorization request",
		"client_id", request.ClientID(),
		"error", perr.Code,
		"error_description", perr.Description)

	response := errorResponse(perr)
	response.Set(message.ParamState, request.State())
	return s.sendAuthorizationResponse(ctx, request, response, nil)
}

// sendAuthorizationError delivers an error for a validated request to its
// redirect_uri.
func (s *Server) sendAuthorizationError(ctx context.Context, request *message.Message, perr *ProtocolError) (*Outcome, error) {
	s.recordProtocolError(ctx, trace.SpanFromContext(ctx), endpointAuthorization, perr)

	response := errorResponse(perr)
	response.Set(message.ParamRedirectURI, request.RedirectURI())
	response.Set(message.ParamState, request.State())
	return s.sendAuthorizationResponse(ctx, request, response, nil)
}

func (s *Server) recordProtocolError(ctx context.Context, span trace.Span, endpoint string, perr *ProtocolError) {
	instrumentation.AddProtocolErrorAttributes(span, perr.Code, perr.Description)
	if s.metrics != nil {
		s.metrics.RecordProtocolError(ctx, endpoint, perr.Code)
	}
}

func (s *Server) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, nil
	}
	return s.tracer.Start(ctx, name)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
