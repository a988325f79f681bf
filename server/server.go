package server

import (
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/providers"
	"github.com/giantswarm/oidc-engine/security"
	"github.com/giantswarm/oidc-engine/storage"
)

// Server is the OpenID Connect protocol engine. It validates authorization,
// token and revocation requests, drives token issuance and decides how each
// response is delivered. It keeps no per-flow state in process: in-flight
// authorization requests live in the injected PendingRequestStore.
type Server struct {
	provider providers.Provider
	codec    TokenCodec
	store    storage.PendingRequestStore
	pending  *storage.PendingRequests

	Encryptor *security.Encryptor
	Auditor   *security.Auditor
	Logger    *slog.Logger
	Config    *Config

	clock           func() time.Time
	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	metrics         *instrumentation.Metrics
}

// New creates a new protocol engine
func New(
	provider providers.Provider,
	codec TokenCodec,
	store storage.PendingRequestStore,
	config *Config,
	logger *slog.Logger,
) (*Server, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if codec == nil {
		return nil, fmt.Errorf("token codec is required")
	}
	if store == nil {
		return nil, fmt.Errorf("pending request store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	srv := &Server{
		provider: provider,
		codec:    codec,
		store:    store,
		Config:   config,
		Logger:   logger,
		clock:    time.Now,
	}

	if err := srv.validateHTTPSEnforcement(); err != nil {
		return nil, err
	}

	srv.rebuildPendingRequests()

	return srv, nil
}

// SetEncryptor enables encryption at rest of pending authorization requests
func (s *Server) SetEncryptor(enc *security.Encryptor) {
	s.Encryptor = enc
	s.rebuildPendingRequests()
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetClock replaces the time source used for expiry checks and pending request TTLs
func (s *Server) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	s.clock = clock
	s.rebuildPendingRequests()
}

// SetInstrumentation enables tracing and metrics for the engine and its pending request store
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		s.tracer = nil
		s.metrics = nil
	} else {
		s.tracer = inst.Tracer("server")
		s.metrics = inst.Metrics()
	}
	s.rebuildPendingRequests()

	type instrumentationSetter interface {
		SetInstrumentation(*instrumentation.Instrumentation)
	}
	if setter, ok := s.store.(instrumentationSetter); ok && inst != nil {
		setter.SetInstrumentation(inst)
	}
}

// PendingRequests exposes the pending request view used by the engine
func (s *Server) PendingRequests() *storage.PendingRequests {
	return s.pending
}

// Instrumentation returns the instrumentation set with SetInstrumentation, or nil
func (s *Server) Instrumentation() *instrumentation.Instrumentation {
	return s.instrumentation
}

func (s *Server) rebuildPendingRequests() {
	s.pending = storage.NewPendingRequests(s.store, storage.PendingRequestsConfig{
		KeyPrefix: s.Config.PendingRequestKeyPrefix,
		TTL:       s.Config.PendingRequestLifetime(),
		Encryptor: s.Encryptor,
		Clock:     s.clock,
		Logger:    s.Logger,
	})
	s.pending.SetInstrumentation(s.instrumentation)
}

func (s *Server) now() time.Time {
	return s.clock()
}

// generateRequestID returns a new 256-bit random identifier, base64url encoded.
func generateRequestID() string {
	return oauth2.GenerateVerifier()
}
