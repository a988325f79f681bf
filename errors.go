package oidc

import (
	"encoding/json"
	"net/http"

	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
)

// Error codes produced by the adapter itself. Protocol error codes are
// defined by the server package.
const (
	ErrorCodeServerError       = server.ErrorCodeServerError
	ErrorCodeInvalidRequest    = server.ErrorCodeInvalidRequest
	ErrorCodeRateLimitExceeded = "rate_limit_exceeded"
)

// serverErrorDescription is the only detail a client learns about an
// integration failure; the cause is logged server side.
const serverErrorDescription = "The authorization server encountered an internal error."

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`

	// ErrorURI points to error documentation
	ErrorURI string `json:"error_uri,omitempty"`
}

// writeError writes a JSON error document with the protocol security headers.
func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.server.Config.Issuer)
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:            code,
		ErrorDescription: description,
	})
}

// writeServerError hides err from the client.
func (h *Handler) writeServerError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	h.logger.Error("Request failed with an integration error",
		"endpoint", endpoint,
		"correlation_id", security.CorrelationID(r.Context()),
		"error", err)
	h.writeError(w, ErrorCodeServerError, serverErrorDescription, http.StatusInternalServerError)
}
