package server

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/ticket"
)

const endpointRevocation = "revocation"

// Revoke processes a revocation request (RFC 7009).
//
// Unknown, unresolvable and expired tokens all produce the same empty
// success response, so callers learn nothing about token validity.
func (s *Server) Revoke(ctx context.Context, req *Request) (*Outcome, error) {
	ctx, span := s.startSpan(ctx, "server.Revoke")
	defer endSpan(span)

	request := message.New(message.KindRevocationRequest)

	values, perr := req.postParameters()
	if perr != nil {
		return s.rejectRevocation(ctx, span, request, perr)
	}
	parsed, err := message.FromValues(message.KindRevocationRequest, values)
	if err != nil {
		return s.rejectRevocation(ctx, span, request,
			invalidRequest(fmt.Sprintf("A malformed revocation request has been received: %v.", err)))
	}
	request = parsed

	if request.Token() == "" {
		return s.rejectRevocation(ctx, span, request, invalidRequest("The mandatory 'token' parameter is missing."))
	}
	applyBasicCredentials(request, req.Header)

	instrumentation.AddRequestAttributes(span, request.ClientID(), "", "")
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrTokenTypeHint, request.TokenTypeHint()))

	vctx := &providers.ValidateRevocationRequestContext{Request: request}
	if err := s.provider.ValidateRevocationRequest(ctx, vctx); err != nil {
		return nil, fmt.Errorf("validate revocation request hook failed: %w", err)
	}
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrValidation, vctx.State().String()))

	switch {
	case vctx.IsRejected():
		s.Auditor.LogAuthFailure("", request.ClientID(), req.ClientIP, vctx.ErrorDescription())
		return s.rejectRevocation(ctx, span, request,
			rejection(vctx.ErrorCode(), vctx.ErrorDescription(), vctx.ErrorURI(), ErrorCodeInvalidClient))
	case vctx.IsValidated():
		if request.ClientID() == "" {
			return nil, misconfigured("revocation request was validated without a client_id")
		}
	case !vctx.IsSkipped():
		return s.rejectRevocation(ctx, span, request,
			newProtocolError(ErrorCodeInvalidClient, "The revocation request was not validated."))
	}

	t, tokenType := s.resolveRevocationToken(ctx, request)
	if t == nil || t.IsExpired(s.now()) {
		s.Logger.Debug("Revocation of an unknown or expired token", "client_id", request.ClientID())
		if s.metrics != nil {
			s.metrics.RecordRevocation(ctx, request.ClientID(), "unknown")
		}
		return s.sendRevocationResponse(ctx, request)
	}

	if vctx.IsSkipped() && t.IsConfidential() {
		return s.rejectRevocation(ctx, span, request,
			invalidRequest("The specified token cannot be revoked without client authentication."))
	}
	if request.ClientID() != "" && len(t.Properties.Presenters()) > 0 && !t.HasPresenter(request.ClientID()) {
		s.Auditor.LogPresenterMismatch(t.Principal.Subject(), request.ClientID(), req.ClientIP, endpointRevocation)
		return s.rejectRevocation(ctx, span, request,
			invalidRequest("The specified token cannot be revoked by this client."))
	}

	hctx := &providers.HandleRevocationRequestContext{Request: request, Ticket: t, TokenType: tokenType}
	if err := s.provider.HandleRevocationRequest(ctx, hctx); err != nil {
		return nil, fmt.Errorf("handle revocation request hook failed: %w", err)
	}

	switch {
	case hctx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request}, nil
	case hctx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request}, nil
	case hctx.IsRejected():
		return s.rejectRevocation(ctx, span, request,
			rejection(hctx.ErrorCode(), hctx.ErrorDescription(), hctx.ErrorURI(), ErrorCodeInvalidRequest))
	case !hctx.IsRevoked():
		return s.rejectRevocation(ctx, span, request,
			newProtocolError(ErrorCodeUnsupportedTokenType, "The specified token cannot be revoked."))
	}

	if s.metrics != nil {
		s.metrics.RecordRevocation(ctx, request.ClientID(), "revoked")
	}
	s.Auditor.LogTokenRevoked(t.Principal.Subject(), request.ClientID(), req.ClientIP, tokenType)

	return s.sendRevocationResponse(ctx, request)
}

// resolveRevocationToken deserializes the presented token, trying the hinted
// type first, then access token, then refresh token.
func (s *Server) resolveRevocationToken(ctx context.Context, request *message.Message) (*ticket.Ticket, string) {
	type resolver struct {
		tokenType string
		fn        func(context.Context, string, *message.Message) (*ticket.Ticket, error)
	}
	access := resolver{message.TokenTypeHintAccessToken, s.codec.DeserializeAccessToken}
	refresh := resolver{message.TokenTypeHintRefreshToken, s.codec.DeserializeRefreshToken}

	order := []resolver{access, refresh}
	if request.TokenTypeHint() == message.TokenTypeHintRefreshToken {
		order = []resolver{refresh, access}
	}

	for _, r := range order {
		if t := s.deserialize(ctx, r.tokenType, request.Token(), request, r.fn); t != nil {
			return t, r.tokenType
		}
	}
	return nil, ""
}

// sendRevocationResponse offers the empty success response to the
// ApplyRevocationResponse hook and renders it as "{}".
func (s *Server) sendRevocationResponse(ctx context.Context, request *message.Message) (*Outcome, error) {
	response := message.New(message.KindResponse)

	actx := &providers.ApplyRevocationResponseContext{Request: request, Response: response}
	if err := s.provider.ApplyRevocationResponse(ctx, actx); err != nil {
		return nil, fmt.Errorf("apply revocation response hook failed: %w", err)
	}
	switch {
	case actx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request, Response: response}, nil
	case actx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	return jsonDocument(request, response, http.StatusOK)
}

func (s *Server) rejectRevocation(ctx context.Context, span trace.Span, request *message.Message, perr *ProtocolError) (*Outcome, error) {
	s.recordProtocolError(ctx, span, endpointRevocation, perr)
	if s.metrics != nil {
		s.metrics.RecordRevocation(ctx, request.ClientID(), perr.Code)
	}
	s.Logger.Debug("Rejected revocation request",
		"client_id", request.ClientID(),
		"error", perr.Code,
		"error_description", perr.Description)

	response := errorResponse(perr)

	actx := &providers.ApplyRevocationResponseContext{Request: request, Response: response}
	if err := s.provider.ApplyRevocationResponse(ctx, actx); err != nil {
		return nil, fmt.Errorf("apply revocation response hook failed: %w", err)
	}
	switch {
	case actx.IsHandled():
		return &Outcome{Kind: OutcomeHandled, Request: request, Response: response}, nil
	case actx.IsSkipped():
		return &Outcome{Kind: OutcomeContinue, Request: request, Response: response}, nil
	}

	return jsonDocument(request, response, perr.Status())
}
