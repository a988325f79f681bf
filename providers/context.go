package providers

import (
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/ticket"
)

// ValidationState is the tri-state result of a validate hook.
type ValidationState int

const (
	// Unresolved means the hook neither validated, rejected nor skipped.
	Unresolved ValidationState = iota
	// Validated means the request passed the hook's checks.
	Validated
	// Rejected means the request failed; the error fields describe why.
	Rejected
	// Skipped means the caller opted out of validation (e.g. an unauthenticated client).
	Skipped
)

// String returns the lowercase state name.
func (s ValidationState) String() string {
	switch s {
	case Validated:
		return "validated"
	case Rejected:
		return "rejected"
	case Skipped:
		return "skipped"
	default:
		return "unresolved"
	}
}

// HandlingState is the result of a handle or apply hook.
type HandlingState int

const (
	// Default lets the engine continue with its built-in processing.
	Default HandlingState = iota
	// Handled means the hook produced the response itself; the engine stops.
	Handled
	// SkippedDefault means the engine stops and hands the request to the
	// embedding application.
	SkippedDefault
	// HandlerRejected means the hook rejected the request with a protocol error.
	HandlerRejected
)

// protocolError holds an error code, description and uri set by Reject.
type protocolError struct {
	code        string
	description string
	uri         string
}

// ErrorCode returns the error code set by Reject.
func (e *protocolError) ErrorCode() string { return e.code }

// ErrorDescription returns the description set by Reject.
func (e *protocolError) ErrorDescription() string { return e.description }

// ErrorURI returns the uri set by Reject.
func (e *protocolError) ErrorURI() string { return e.uri }

// Validation is embedded by the validate hook contexts. The last call wins.
type Validation struct {
	protocolError
	state ValidationState
}

// Validate marks the request as valid.
func (v *Validation) Validate() {
	v.state = Validated
	v.protocolError = protocolError{}
}

// Reject marks the request as invalid. An empty code is replaced by the
// engine with the endpoint's default error.
func (v *Validation) Reject(code, description, uri string) {
	v.state = Rejected
	v.protocolError = protocolError{code: code, description: description, uri: uri}
}

// Skip opts out of validation.
func (v *Validation) Skip() {
	v.state = Skipped
	v.protocolError = protocolError{}
}

// State returns the current validation state.
func (v *Validation) State() ValidationState { return v.state }

// IsValidated reports whether Validate was the last call.
func (v *Validation) IsValidated() bool { return v.state == Validated }

// IsRejected reports whether Reject was the last call.
func (v *Validation) IsRejected() bool { return v.state == Rejected }

// IsSkipped reports whether Skip was the last call.
func (v *Validation) IsSkipped() bool { return v.state == Skipped }

// Handling is embedded by the handle and apply hook contexts.
type Handling struct {
	protocolError
	state HandlingState
}

// HandleResponse tells the engine the hook produced the response itself.
func (h *Handling) HandleResponse() {
	h.state = Handled
	h.protocolError = protocolError{}
}

// SkipDefault tells the engine to stop and defer to the embedding application.
func (h *Handling) SkipDefault() {
	h.state = SkippedDefault
	h.protocolError = protocolError{}
}

// Reject aborts the request with a protocol error.
func (h *Handling) Reject(code, description, uri string) {
	h.state = HandlerRejected
	h.protocolError = protocolError{code: code, description: description, uri: uri}
}

// State returns the current handling state.
func (h *Handling) State() HandlingState { return h.state }

// IsHandled reports whether HandleResponse was the last call.
func (h *Handling) IsHandled() bool { return h.state == Handled }

// IsSkipped reports whether SkipDefault was the last call.
func (h *Handling) IsSkipped() bool { return h.state == SkippedDefault }

// IsRejected reports whether Reject was the last call.
func (h *Handling) IsRejected() bool { return h.state == HandlerRejected }

// ValidateAuthorizationRequestContext is passed to ValidateAuthorizationRequest
// once every built-in check has passed.
type ValidateAuthorizationRequestContext struct {
	Validation

	// Request is the normalized authorization request, including merged pending parameters
	Request *message.Message

	// RedirectURI is the trusted redirect_uri. It starts as the request's
	// value and may be supplied by the hook for requests that omitted it.
	RedirectURI string
}

// ValidateRedirectURI validates the request and records uri as the trusted
// redirect target. Hooks must only pass a uri registered for the client.
func (c *ValidateAuthorizationRequestContext) ValidateRedirectURI(uri string) {
	c.RedirectURI = uri
	c.Validate()
}

// HandleAuthorizationRequestContext is passed to HandleAuthorizationRequest
// after validation succeeded.
type HandleAuthorizationRequestContext struct {
	Handling

	Request *message.Message

	// Ticket may be set by the hook (see SignIn) to complete the flow without
	// an interactive step.
	Ticket *ticket.Ticket
}

// SignIn completes the authorization immediately with the given ticket.
func (c *HandleAuthorizationRequestContext) SignIn(t *ticket.Ticket) {
	c.Ticket = t
}

// ApplyAuthorizationResponseContext is passed to ApplyAuthorizationResponse
// before a response is dispatched to the client.
type ApplyAuthorizationResponseContext struct {
	Handling

	Request  *message.Message
	Response *message.Message

	// Ticket is the sign-in record; anonymous for denials and errors
	Ticket *ticket.Ticket
}

// ValidateTokenRequestContext is passed to ValidateTokenRequest. Hooks
// authenticate the client: Validate for an authenticated client, Skip for a
// public client.
type ValidateTokenRequestContext struct {
	Validation

	Request *message.Message
}

// HandleTokenRequestContext is passed to HandleTokenRequest. For code and
// refresh grants Ticket holds the deserialized ticket; for password,
// client_credentials and extension grants the hook must supply one.
type HandleTokenRequestContext struct {
	Handling

	Request *message.Message
	Ticket  *ticket.Ticket
}

// SignIn sets the ticket the tokens are issued for.
func (c *HandleTokenRequestContext) SignIn(t *ticket.Ticket) {
	c.Ticket = t
}

// ApplyTokenResponseContext is passed to ApplyTokenResponse before the token
// response is returned. Ticket is nil when the response carries an error.
type ApplyTokenResponseContext struct {
	Handling

	Request  *message.Message
	Response *message.Message
	Ticket   *ticket.Ticket
}

// ValidateRevocationRequestContext is passed to ValidateRevocationRequest.
// Skip means the caller is unauthenticated; Validate requires the hook to
// have populated client_id on the request.
type ValidateRevocationRequestContext struct {
	Validation

	Request *message.Message
}

// HandleRevocationRequestContext is passed to HandleRevocationRequest with the
// ticket of the presented token.
type HandleRevocationRequestContext struct {
	Handling

	Request *message.Message
	Ticket  *ticket.Ticket

	// TokenType is "access_token" or "refresh_token", as resolved by the engine
	TokenType string

	revoked bool
}

// Revoke confirms that the token was actually revoked.
func (c *HandleRevocationRequestContext) Revoke() {
	c.revoked = true
}

// IsRevoked reports whether Revoke was called.
func (c *HandleRevocationRequestContext) IsRevoked() bool { return c.revoked }

// ApplyRevocationResponseContext is passed to ApplyRevocationResponse.
type ApplyRevocationResponseContext struct {
	Handling

	Request  *message.Message
	Response *message.Message
}
