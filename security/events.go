package security

// Event type constants for security audit logging.
const (
	// Authorization endpoint events

	// EventAuthorizationRequestValidated is logged when an authorization request passed every check
	EventAuthorizationRequestValidated = "authorization_request_validated"

	// EventAuthorizationRequestRejected is logged when an authorization request is rejected
	EventAuthorizationRequestRejected = "authorization_request_rejected"

	// EventPendingRequestExpired is logged when a request_id no longer resolves
	EventPendingRequestExpired = "pending_request_expired"

	// EventAccessDenied is logged when the resource owner denied the authorization
	EventAccessDenied = "access_denied"

	// EventInvalidRedirect is logged when a redirect_uri fails validation
	EventInvalidRedirect = "invalid_redirect"

	// Token lifecycle events

	// EventTokensIssued is logged when a sign-in produced one or more artifacts
	EventTokensIssued = "tokens_issued" //nolint:gosec // G101: event type name, not a credential

	// EventTokenRevoked is logged when a token was revoked by the application
	EventTokenRevoked = "token_revoked"

	// Security violation events

	// EventAuthFailure is logged when client authentication fails
	EventAuthFailure = "auth_failure"

	// EventInvalidGrant is logged when a code or refresh token is rejected
	EventInvalidGrant = "invalid_grant"

	// EventPKCEValidationFailed is logged when a code_verifier does not match
	EventPKCEValidationFailed = "pkce_validation_failed"

	// EventPresenterMismatch is logged when a token is presented by a client it was not issued to
	EventPresenterMismatch = "presenter_mismatch"

	// EventScopeEscalationAttempt is logged when a token request asks for scopes beyond the grant
	EventScopeEscalationAttempt = "scope_escalation_attempt"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"
)
