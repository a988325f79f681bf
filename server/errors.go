package server

import (
	"errors"
	"fmt"
	"net/http"
)

// Protocol error codes (RFC 6749, RFC 7009, OpenID Connect Core 1.0)
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnauthorizedClient      = "unauthorized_client"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeUnsupportedTokenType    = "unsupported_token_type"
	ErrorCodeAccessDenied            = "access_denied"
	ErrorCodeServerError             = "server_error"
	ErrorCodeRequestNotSupported     = "request_not_supported"
	ErrorCodeRequestURINotSupported  = "request_uri_not_supported"
)

// ErrServerMisconfigured is wrapped by every error caused by the embedding
// application rather than by the client: a ticket without subject, an empty
// codec artifact, a validated request without client_id. Callers must answer
// with a generic server_error and keep the detail in their logs.
var ErrServerMisconfigured = errors.New("server misconfigured")

// ProtocolError is a client-caused error, delivered through the same channel
// as a successful response.
type ProtocolError struct {
	Code        string
	Description string
	URI         string
}

// Error implements the error interface
func (e *ProtocolError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Status returns the HTTP status used when the error is rendered directly
// rather than redirected.
func (e *ProtocolError) Status() int {
	if e.Code == ErrorCodeInvalidClient {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// IsProtocolError reports whether err is a *ProtocolError and returns it.
func IsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func newProtocolError(code, description string) *ProtocolError {
	return &ProtocolError{Code: code, Description: description}
}

func invalidRequest(description string) *ProtocolError {
	return newProtocolError(ErrorCodeInvalidRequest, description)
}

func invalidGrant(description string) *ProtocolError {
	return newProtocolError(ErrorCodeInvalidGrant, description)
}

// rejection builds the error for a hook rejection, falling back to
// defaultCode when the hook did not set one.
func rejection(code, description, uri, defaultCode string) *ProtocolError {
	if code == "" {
		code = defaultCode
	}
	return &ProtocolError{Code: code, Description: description, URI: uri}
}

func misconfigured(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrServerMisconfigured, fmt.Sprintf(format, args...))
}
