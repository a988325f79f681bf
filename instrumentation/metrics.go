package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the engine
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Protocol Metrics
	AuthorizationRequests metric.Int64Counter
	PendingRequestsMinted metric.Int64Counter
	PendingRequestsMerged metric.Int64Counter
	TokensIssued          metric.Int64Counter
	TokenRequests         metric.Int64Counter
	Revocations           metric.Int64Counter
	ProtocolErrors        metric.Int64Counter
	ResponsesDispatched   metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StoragePendingRequests   metric.Int64ObservableGauge

	// Audit Metrics
	AuditEventsTotal metric.Int64Counter

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
}

type counterSpec struct {
	target      *metric.Int64Counter
	meter       metric.Meter
	name        string
	description string
	unit        string
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	storageMeter := inst.Meter("storage")
	securityMeter := inst.Meter("security")

	counters := []counterSpec{
		{&m.HTTPRequestsTotal, httpMeter, "oidc.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.AuthorizationRequests, serverMeter, "oidc.authorization.requests", "Authorization requests by validation result", "{request}"},
		{&m.PendingRequestsMinted, serverMeter, "oidc.pending_request.minted", "Pending authorization requests created", "{request}"},
		{&m.PendingRequestsMerged, serverMeter, "oidc.pending_request.merged", "Pending authorization requests restored from the store", "{request}"},
		{&m.TokensIssued, serverMeter, "oidc.tokens.issued", "Artifacts issued by type", "{token}"},
		{&m.TokenRequests, serverMeter, "oidc.token.requests", "Token requests by grant type and result", "{request}"},
		{&m.Revocations, serverMeter, "oidc.revocations", "Revocation requests by result", "{request}"},
		{&m.ProtocolErrors, serverMeter, "oidc.protocol.errors", "Protocol errors returned to clients", "{error}"},
		{&m.ResponsesDispatched, serverMeter, "oidc.responses.dispatched", "Authorization responses by delivery mode", "{response}"},
		{&m.RateLimitExceeded, securityMeter, "oidc.rate_limit.exceeded", "Requests rejected by rate limiting", "{request}"},
		{&m.StorageOperationTotal, storageMeter, "storage.operation.total", "Pending request store operations", "{operation}"},
		{&m.AuditEventsTotal, securityMeter, "oidc.audit.events.total", "Security audit events", "{event}"},
		{&m.EncryptionOperationsTotal, securityMeter, "oidc.encryption.operations.total", "Pending request encryption operations", "{operation}"},
	}

	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name,
			metric.WithDescription(c.description),
			metric.WithUnit(c.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.target = counter
	}

	var err error
	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oidc.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"storage.operation.duration",
		metric.WithDescription("Pending request store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.StoragePendingRequests, err = storageMeter.Int64ObservableGauge(
		"storage.pending_requests",
		metric.WithDescription("Pending authorization requests currently stored"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.pending_requests gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

// RecordAuthorizationRequest records the validation result of an authorization request
func (m *Metrics) RecordAuthorizationRequest(ctx context.Context, clientID, result string) {
	m.AuthorizationRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordPendingRequestMinted records the creation of a pending request
func (m *Metrics) RecordPendingRequestMinted(ctx context.Context) {
	m.PendingRequestsMinted.Add(ctx, 1)
}

// RecordPendingRequestMerged records the restoration of a pending request
func (m *Metrics) RecordPendingRequestMerged(ctx context.Context, found bool) {
	m.PendingRequestsMerged.Add(ctx, 1, metric.WithAttributes(attribute.Bool("found", found)))
}

// RecordTokenIssued records an issued artifact (code, access_token, id_token, refresh_token)
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID, tokenType string) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("token_type", tokenType),
	))
}

// RecordTokenRequest records a token endpoint request
func (m *Metrics) RecordTokenRequest(ctx context.Context, grantType, result string) {
	m.TokenRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant_type", grantType),
		attribute.String("result", result),
	))
}

// RecordRevocation records a revocation request
func (m *Metrics) RecordRevocation(ctx context.Context, clientID, result string) {
	m.Revocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("client_id", clientID),
		attribute.String("result", result),
	))
}

// RecordProtocolError records a protocol error returned to a client
func (m *Metrics) RecordProtocolError(ctx context.Context, endpoint, code string) {
	m.ProtocolErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("error", code),
	))
}

// RecordResponseDispatched records the delivery mode of an authorization response
func (m *Metrics) RecordResponseDispatched(ctx context.Context, mode string) {
	m.ResponsesDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordRateLimitExceeded records a rate limit violation
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordStorageOperation records a store operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordAuditEvent records a security audit event
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordEncryptionOperation records an encryption or decryption of a pending request
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string) {
	m.EncryptionOperationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
