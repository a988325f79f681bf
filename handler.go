package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/server"
	"github.com/giantswarm/oidc-engine/ticket"
)

// maxFormBytes bounds the size of a form-encoded request body.
const maxFormBytes = 1 << 20

// Endpoint names used in logs, spans and metrics
const (
	endpointAuthorization = "authorization"
	endpointToken         = "token"
	endpointRevocation    = "revocation"
	endpointDiscovery     = "discovery"
)

// Handler is a thin HTTP adapter for the protocol engine.
// It turns HTTP requests into server.Requests and writes the resulting
// Outcomes; every protocol decision is made by the server.
type Handler struct {
	server      *server.Server
	interaction http.Handler
	limiter     *security.RateLimiter
	proxy       security.ProxyPolicy
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *instrumentation.Metrics
}

// NewHandler creates a new HTTP handler. Call Close to release the rate limiter.
func NewHandler(srv *server.Server, config *Config) (*Handler, error) {
	if srv == nil {
		return nil, fmt.Errorf("server is required")
	}
	if config == nil {
		config = &Config{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:      srv,
		interaction: config.Interaction,
		proxy: security.ProxyPolicy{
			Trust:             srv.Config.TrustProxy,
			TrustedProxyCount: srv.Config.TrustedProxyCount,
		},
		logger: logger,
	}

	if config.RateLimit.enabled() {
		h.limiter = security.NewRateLimiter(security.RateLimiterConfig{
			RequestsPerSecond: config.RateLimit.Rate,
			Burst:             config.RateLimit.burst(),
			MaxEntries:        config.RateLimit.MaxEntries,
		}, logger)
	}

	if inst := srv.Instrumentation(); inst != nil {
		h.tracer = inst.Tracer("http")
		h.metrics = inst.Metrics()
	}

	if h.interaction == nil {
		logger.Warn("No interaction handler configured: interactive authorization requests will fail",
			"recommendation", "Set Config.Interaction to the login UI")
	}

	return h, nil
}

// Close stops background work owned by the handler
func (h *Handler) Close() {
	if h.limiter != nil {
		h.limiter.Stop()
		stats := h.limiter.Stats()
		h.logger.Debug("Rate limiter stopped",
			"entries", stats.CurrentEntries,
			"evictions", stats.TotalEvictions)
	}
}

// Routes returns a mux serving every endpoint under the issuer path, wrapped
// in the correlation id middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return security.CorrelationIDMiddleware(mux)
}

// RegisterRoutes registers the endpoints on mux at the default paths,
// relative to the issuer path.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	prefix := h.issuerPath()
	mux.HandleFunc(prefix+server.DefaultAuthorizationPath, h.ServeAuthorization)
	mux.HandleFunc(prefix+server.DefaultTokenPath, h.ServeToken)
	mux.HandleFunc(prefix+server.DefaultRevocationPath, h.ServeRevocation)
	mux.HandleFunc(prefix+server.DefaultDiscoveryPath, h.ServeDiscovery)
}

// issuerPath returns the path component of the issuer without a trailing slash.
func (h *Handler) issuerPath() string {
	parsed, err := url.Parse(h.server.Config.Issuer)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(parsed.Path, "/")
}

// ServeAuthorization handles authorization requests (GET and form POST)
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointAuthorization, h.server.Authorize)
}

// ServeToken handles token requests
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointToken, h.server.Token)
}

// ServeRevocation handles token revocation requests (RFC 7009)
func (h *Handler) ServeRevocation(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, endpointRevocation, h.server.Revoke)
}

// ServeDiscovery serves the OpenID Provider configuration document
func (h *Handler) ServeDiscovery(w http.ResponseWriter, r *http.Request) {
	rec, r, finish := h.begin(w, r, endpointDiscovery)
	defer finish()

	if r.Method != http.MethodGet {
		rec.Header().Set("Allow", http.MethodGet)
		h.writeError(rec, ErrorCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.rateLimited(rec, r, endpointDiscovery) {
		return
	}

	security.SetSecurityHeaders(rec, h.server.Config.Issuer)
	rec.Header().Set("Cache-Control", "public, max-age=3600")
	rec.Header().Del("Pragma")
	rec.Header().Set("Access-Control-Allow-Origin", "*")
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rec).Encode(h.server.Discovery())
}

// SignIn completes the authorization request carried by r's context for the
// given ticket. Call it from the Interaction handler once the user is
// authenticated.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request, t *ticket.Ticket) {
	request, ok := AuthorizationRequest(r.Context())
	if !ok {
		h.writeServerError(w, r, endpointAuthorization, fmt.Errorf("%w: SignIn called outside an authorization request", server.ErrServerMisconfigured))
		return
	}
	outcome, err := h.server.SignIn(r.Context(), request, t)
	h.writeOutcome(w, r, endpointAuthorization, outcome, err)
}

// Forbid answers the authorization request carried by r's context with
// access_denied. Call it from the Interaction handler when the user declines.
func (h *Handler) Forbid(w http.ResponseWriter, r *http.Request) {
	request, ok := AuthorizationRequest(r.Context())
	if !ok {
		h.writeServerError(w, r, endpointAuthorization, fmt.Errorf("%w: Forbid called outside an authorization request", server.ErrServerMisconfigured))
		return
	}
	outcome, err := h.server.Forbid(server.ContextWithClientIP(r.Context(), h.proxy.ClientIP(r)), request)
	h.writeOutcome(w, r, endpointAuthorization, outcome, err)
}

type engineFunc func(ctx context.Context, req *server.Request) (*server.Outcome, error)

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, endpoint string, process engineFunc) {
	rec, r, finish := h.begin(w, r, endpoint)
	defer finish()

	if h.rateLimited(rec, r, endpoint) {
		return
	}

	req, err := h.newRequest(rec, r)
	if err != nil {
		h.logger.Debug("Unreadable request body", "endpoint", endpoint, "error", err)
		h.writeError(rec, ErrorCodeInvalidRequest, "The request body could not be parsed.", http.StatusBadRequest)
		return
	}

	ctx := context.WithValue(r.Context(), responseWriterKey{}, http.ResponseWriter(rec))
	r = r.WithContext(ctx)

	outcome, err := process(ctx, req)
	h.writeOutcome(rec, r, endpoint, outcome, err)
}

// newRequest builds the transport-neutral request. The form body is only read
// for POST; the engine validates the content type itself.
func (h *Handler) newRequest(w http.ResponseWriter, r *http.Request) (*server.Request, error) {
	req := &server.Request{
		Method:      r.Method,
		ContentType: r.Header.Get("Content-Type"),
		Query:       r.URL.Query(),
		Header:      r.Header,
		ClientIP:    h.proxy.ClientIP(r),
	}
	if r.Method == http.MethodPost {
		r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		req.Form = r.PostForm
	}
	return req, nil
}

// writeOutcome turns an engine outcome into an HTTP response.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, endpoint string, outcome *server.Outcome, err error) {
	if err != nil {
		if !errors.Is(err, server.ErrServerMisconfigured) {
			err = fmt.Errorf("engine failure: %w", err)
		}
		h.writeServerError(w, r, endpoint, err)
		return
	}
	if outcome == nil {
		h.writeServerError(w, r, endpoint, fmt.Errorf("%w: no outcome", server.ErrServerMisconfigured))
		return
	}

	switch outcome.Kind {
	case server.OutcomeRedirect:
		security.SetSecurityHeaders(w, h.server.Config.Issuer)
		http.Redirect(w, r, outcome.Location, http.StatusFound)

	case server.OutcomeDocument:
		if outcome.Header.Get("Content-Security-Policy") != "" {
			security.SetFormPostSecurityHeaders(w, h.server.Config.Issuer)
		} else {
			security.SetSecurityHeaders(w, h.server.Config.Issuer)
		}
		for name, values := range outcome.Header {
			w.Header()[name] = values
		}
		w.Header().Set("Content-Type", outcome.ContentType)
		w.WriteHeader(outcome.StatusCode)
		_, _ = w.Write(outcome.Body)

	case server.OutcomeContinue:
		if h.interaction == nil {
			h.writeServerError(w, r, endpoint, fmt.Errorf("%w: no interaction handler configured", server.ErrServerMisconfigured))
			return
		}
		ctx := ContextWithAuthorizationRequest(r.Context(), outcome.Request)
		if outcome.IsError() {
			ctx = context.WithValue(ctx, errorResponseKey{}, outcome.Response)
		}
		h.interaction.ServeHTTP(w, r.WithContext(ctx))

	case server.OutcomeHandled:
		// The hook wrote the response through ResponseWriter(ctx).

	default:
		h.writeServerError(w, r, endpoint, fmt.Errorf("%w: unknown outcome kind %v", server.ErrServerMisconfigured, outcome.Kind))
	}
}

// rateLimited answers 429 when the client IP exceeded its budget.
func (h *Handler) rateLimited(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	if h.limiter == nil {
		return false
	}
	clientIP := h.proxy.ClientIP(r)
	if h.limiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	instrumentation.SetSpanAttributes(trace.SpanFromContext(r.Context()), attribute.String(instrumentation.AttrRateLimiterType, "ip"))
	if h.metrics != nil {
		h.metrics.RecordRateLimitExceeded(r.Context(), "ip")
	}
	h.server.Auditor.LogRateLimitExceeded(clientIP, endpoint)

	w.Header().Set("Retry-After", "1")
	h.writeError(w, ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	if s.status == 0 {
		s.status = status
	}
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// begin starts the span and returns the recording writer, the request carrying
// the span, and the function that records the HTTP metrics once the response
// is written.
func (h *Handler) begin(w http.ResponseWriter, r *http.Request, endpoint string) (*statusRecorder, *http.Request, func()) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}

	var span trace.Span
	if h.tracer != nil {
		var ctx context.Context
		ctx, span = h.tracer.Start(r.Context(), "oidc.http."+endpoint)
		r = r.WithContext(ctx)
		if inst := h.server.Instrumentation(); inst != nil && inst.ShouldLogClientIPs() {
			instrumentation.AddSecurityAttributes(span, h.proxy.ClientIP(r))
		}
	}

	return rec, r, func() {
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		instrumentation.AddHTTPAttributes(span, r.Method, endpoint, status)
		if status >= http.StatusInternalServerError {
			instrumentation.SetSpanError(span, http.StatusText(status))
		} else {
			instrumentation.SetSpanSuccess(span)
		}
		if span != nil {
			span.End()
		}
		if h.metrics != nil {
			h.metrics.RecordHTTPRequest(r.Context(), r.Method, endpoint, status, float64(time.Since(start).Microseconds())/1000)
		}
	}
}
