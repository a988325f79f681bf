package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/internal/util"
	"github.com/giantswarm/oidc-engine/message"
	"github.com/giantswarm/oidc-engine/security"
)

const (
	// DefaultKeyPrefix namespaces pending requests in a shared cache
	DefaultKeyPrefix = "oidc-request"

	// DefaultPendingRequestTTL is how long a pending request survives
	DefaultPendingRequestTTL = time.Hour

	// requestIDLogLength is the number of characters of a request id included in logs
	requestIDLogLength = 8
)

// PendingRequestsConfig configures a PendingRequests view.
type PendingRequestsConfig struct {
	// KeyPrefix is prepended to the request id as "<prefix>:<request_id>" (default "oidc-request")
	KeyPrefix string

	// TTL is the lifetime of a stored request (default 1 hour)
	TTL time.Duration

	// Encryptor optionally seals payloads at rest
	Encryptor *security.Encryptor

	// Clock returns the current time (default time.Now)
	Clock func() time.Time

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// PendingRequests stores authorization request parameters under their request id.
// It never caches entries in process: every call goes to the underlying store.
type PendingRequests struct {
	store     PendingRequestStore
	prefix    string
	ttl       time.Duration
	encryptor *security.Encryptor
	clock     func() time.Time
	logger    *slog.Logger

	tracer  trace.Tracer
	metrics *instrumentation.Metrics
}

// NewPendingRequests wraps a store with the pending request encoding.
func NewPendingRequests(store PendingRequestStore, cfg PendingRequestsConfig) *PendingRequests {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultPendingRequestTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &PendingRequests{
		store:     store,
		prefix:    cfg.KeyPrefix,
		ttl:       cfg.TTL,
		encryptor: cfg.Encryptor,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
	}
}

// SetInstrumentation enables tracing and metrics for store operations.
func (p *PendingRequests) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	p.tracer = inst.Tracer("storage")
	p.metrics = inst.Metrics()
}

// Key returns the namespaced cache key of a request id.
func (p *PendingRequests) Key(requestID string) string {
	return p.prefix + ":" + requestID
}

// Save stores the parameters of request under requestID. The request_id
// parameter itself is never persisted.
func (p *PendingRequests) Save(ctx context.Context, requestID string, request *message.Message) error {
	ctx, span := p.startSpan(ctx, "set")
	defer endSpan(span)
	start := time.Now()

	params := request.Parameters()
	filtered := params[:0]
	for _, param := range params {
		if param.Name != message.ParamRequestID {
			filtered = append(filtered, param)
		}
	}

	if err := CheckRequestSize(filtered); err != nil {
		p.record(ctx, span, "set", "rejected", start)
		return err
	}

	key := p.Key(requestID)
	payload, err := p.encryptor.Seal(EncodeRequest(filtered), []byte(key))
	if err != nil {
		p.record(ctx, span, "set", "error", start)
		return fmt.Errorf("failed to seal pending request: %w", err)
	}
	if p.encryptor.IsEnabled() && p.metrics != nil {
		p.metrics.RecordEncryptionOperation(ctx, "seal")
	}

	if err := p.store.Set(ctx, key, payload, p.clock().Add(p.ttl)); err != nil {
		p.record(ctx, span, "set", "error", start)
		return fmt.Errorf("failed to store pending request: %w", err)
	}

	p.record(ctx, span, "set", "success", start)
	p.logger.Debug("Stored pending authorization request",
		"request_id_prefix", util.SafeTruncate(requestID, requestIDLogLength),
		"parameters", len(filtered))
	return nil
}

// Load returns the parameters stored under requestID.
//
// A miss yields ErrNotFound. A payload with an unknown version, or one that
// cannot be decrypted or decoded, is evicted and reported as ErrUnsupportedVersion
// or ErrCorrupted; callers treat all of these as an expired request.
func (p *PendingRequests) Load(ctx context.Context, requestID string) ([]message.Parameter, error) {
	ctx, span := p.startSpan(ctx, "get")
	defer endSpan(span)
	start := time.Now()

	key := p.Key(requestID)
	payload, err := p.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			p.record(ctx, span, "get", "miss", start)
			return nil, err
		}
		p.record(ctx, span, "get", "error", start)
		return nil, fmt.Errorf("failed to read pending request: %w", err)
	}

	plaintext, err := p.encryptor.Open(payload, []byte(key))
	if err != nil {
		p.evict(ctx, key, requestID, err)
		p.record(ctx, span, "get", "corrupted", start)
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if p.encryptor.IsEnabled() && p.metrics != nil {
		p.metrics.RecordEncryptionOperation(ctx, "open")
	}

	params, err := DecodeRequest(plaintext)
	if err != nil {
		p.evict(ctx, key, requestID, err)
		p.record(ctx, span, "get", "corrupted", start)
		return nil, err
	}

	p.record(ctx, span, "get", "hit", start)
	return params, nil
}

// Delete removes the request stored under requestID.
func (p *PendingRequests) Delete(ctx context.Context, requestID string) error {
	ctx, span := p.startSpan(ctx, "remove")
	defer endSpan(span)
	start := time.Now()

	if err := p.store.Remove(ctx, p.Key(requestID)); err != nil {
		p.record(ctx, span, "remove", "error", start)
		return fmt.Errorf("failed to remove pending request: %w", err)
	}
	p.record(ctx, span, "remove", "success", start)
	return nil
}

func (p *PendingRequests) evict(ctx context.Context, key, requestID string, cause error) {
	p.logger.Warn("Evicting unreadable pending authorization request",
		"request_id_prefix", util.SafeTruncate(requestID, requestIDLogLength),
		"error", cause)
	if err := p.store.Remove(ctx, key); err != nil {
		p.logger.Warn("Failed to evict pending authorization request", "error", err)
	}
}

func (p *PendingRequests) startSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if p.tracer == nil {
		return ctx, nil
	}
	ctx, span := p.tracer.Start(ctx, "storage."+operation)
	instrumentation.AddStorageAttributes(span, operation, "pending_request")
	return ctx, span
}

func (p *PendingRequests) record(ctx context.Context, span trace.Span, operation, result string, start time.Time) {
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrStorageResult, result))
	if result == "error" {
		instrumentation.SetSpanError(span, operation+" failed")
	}
	if p.metrics != nil {
		p.metrics.RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Microseconds())/1000)
	}
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
