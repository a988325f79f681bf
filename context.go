package oidc

import (
	"context"
	"net/http"

	"github.com/giantswarm/oidc-engine/message"
)

type authorizationRequestKey struct{}

type errorResponseKey struct{}

type responseWriterKey struct{}

// ContextWithAuthorizationRequest stores the normalized authorization request.
func ContextWithAuthorizationRequest(ctx context.Context, request *message.Message) context.Context {
	return context.WithValue(ctx, authorizationRequestKey{}, request)
}

// AuthorizationRequest returns the normalized authorization request handed to
// the Interaction handler. Its request_id names the pending request, so a
// login form can post it back to the authorization endpoint.
func AuthorizationRequest(ctx context.Context) (*message.Message, bool) {
	request, ok := ctx.Value(authorizationRequestKey{}).(*message.Message)
	return request, ok && request != nil
}

// ErrorResponseFromContext returns the error response the Interaction handler
// should display, when the engine delegated error rendering.
func ErrorResponseFromContext(ctx context.Context) (*message.Message, bool) {
	response, ok := ctx.Value(errorResponseKey{}).(*message.Message)
	return response, ok && response != nil
}

// ResponseWriter returns the http.ResponseWriter of the request being served.
// Hooks that call HandleResponse use it to write their own response.
func ResponseWriter(ctx context.Context) (http.ResponseWriter, bool) {
	w, ok := ctx.Value(responseWriterKey{}).(http.ResponseWriter)
	return w, ok
}

// PendingRequestID returns the request_id of the authorization request in
// ctx. Interaction handlers render it into the login form so the form post
// resumes the same pending request.
func PendingRequestID(ctx context.Context) string {
	request, ok := AuthorizationRequest(ctx)
	if !ok {
		return ""
	}
	return request.RequestID()
}
