package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/giantswarm/oidc-engine/instrumentation"
)

// Auditor handles security event logging with PII protection.
// A nil *Auditor is valid and logs nothing.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
	metrics *instrumentation.Metrics
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetInstrumentation counts audit events by type
func (a *Auditor) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if a == nil || inst == nil {
		return
	}
	a.metrics = inst.Metrics()
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)

	if a.metrics != nil {
		a.metrics.RecordAuditEvent(context.Background(), event.Type)
	}
}

// LogAuthorizationRejected logs a rejected authorization request
func (a *Auditor) LogAuthorizationRejected(clientID, ipAddress, errorCode, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationRequestRejected,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"error":  errorCode,
			"reason": reason,
		},
	})
}

// LogPendingRequestExpired logs a request_id that could not be restored
func (a *Auditor) LogPendingRequestExpired(ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventPendingRequestExpired,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogAccessDenied logs a denied authorization
func (a *Auditor) LogAccessDenied(clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventAccessDenied,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogInvalidRedirect logs a redirect_uri validation failure
func (a *Auditor) LogInvalidRedirect(clientID, ipAddress, uri, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidRedirect,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"redirect_uri": uri,
			"reason":       reason,
		},
	})
}

// LogTokensIssued logs the artifacts produced for a sign-in or token request
func (a *Auditor) LogTokensIssued(userID, clientID, ipAddress, scope string, artifacts []string) {
	a.LogEvent(Event{
		Type:      EventTokensIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"scope":     scope,
			"artifacts": artifacts,
		},
	})
}

// LogTokenRevoked logs when a token is revoked
func (a *Auditor) LogTokenRevoked(userID, clientID, ipAddress, tokenType string) {
	a.LogEvent(Event{
		Type:      EventTokenRevoked,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogAuthFailure logs a client authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidGrant logs a rejected code or refresh token
func (a *Auditor) LogInvalidGrant(clientID, ipAddress, grantType, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidGrant,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// LogPKCEValidationFailed logs a code_verifier mismatch
func (a *Auditor) LogPKCEValidationFailed(clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventPKCEValidationFailed,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogPresenterMismatch logs a token presented by a client it was not issued to
func (a *Auditor) LogPresenterMismatch(userID, clientID, ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventPresenterMismatch,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// LogScopeEscalationAttempt logs a token request for scopes outside the grant
func (a *Auditor) LogScopeEscalationAttempt(userID, clientID, ipAddress, requested string) {
	a.LogEvent(Event{
		Type:      EventScopeEscalationAttempt,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"requested_scope": requested,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, endpoint string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		IPAddress: ipAddress,
		Details: map[string]any{
			"endpoint": endpoint,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
