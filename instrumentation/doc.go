// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the oidc-engine library.
//
// This package enables observability across all library layers through:
//   - Metrics: Counters, histograms, and gauges for monitoring protocol operations
//   - Traces: Distributed tracing for request flows across components
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-identity-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//		MetricReader:   reader,   // e.g. an OTLP periodic reader
//		SpanExporter:   exporter, // e.g. an OTLP span exporter
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP Layer:
//   - oidc.http.requests.total{method, endpoint, status}
//   - oidc.http.request.duration{endpoint}
//
// Protocol:
//   - oidc.authorization.requests{client_id, result}
//   - oidc.pending_request.minted, oidc.pending_request.merged{found}
//   - oidc.tokens.issued{client_id, token_type}
//   - oidc.token.requests{grant_type, result}
//   - oidc.revocations{client_id, result}
//   - oidc.protocol.errors{endpoint, error}
//   - oidc.responses.dispatched{mode}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.pending_requests (in-memory store only)
//
// # Distributed Tracing
//
//	oidc.http.authorization
//	└── oidc.server.authorize
//	    ├── storage.get
//	    └── storage.set
//	oidc.server.sign_in
//	└── storage.remove
//	oidc.http.revocation
//	└── oidc.server.revoke
//
// When instrumentation is not configured or disabled no-op providers are used.
//
// # Security Considerations
//
// Never record token values, authorization codes, client secrets or request
// identifiers: the request identifier is a bearer handle to a pending request.
package instrumentation
