package instrumentation

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.Metrics() == nil {
		t.Fatal("Metrics() returned nil")
	}

	// Disabled instrumentation must still accept recordings.
	inst.Metrics().RecordAuthorizationRequest(context.Background(), "c1", "validated")
}

func TestMetrics_ExportedThroughReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	ctx := context.Background()
	m := inst.Metrics()
	m.RecordTokenIssued(ctx, "c1", "code")
	m.RecordTokenIssued(ctx, "c1", "id_token")
	m.RecordRevocation(ctx, "c1", "revoked")
	m.RecordStorageOperation(ctx, "get", "miss", 1.5)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if got := sumCounter(rm, "oidc.tokens.issued"); got != 2 {
		t.Errorf("oidc.tokens.issued = %d, want 2", got)
	}
	if got := sumCounter(rm, "oidc.revocations"); got != 1 {
		t.Errorf("oidc.revocations = %d, want 1", got)
	}
	if got := sumCounter(rm, "storage.operation.total"); got != 1 {
		t.Errorf("storage.operation.total = %d, want 1", got)
	}
}

func TestRegisterPendingRequestsCallback(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	inst, err := New(Config{Enabled: true, MetricReader: reader})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	if err := inst.RegisterPendingRequestsCallback(func() int64 { return 7 }); err != nil {
		t.Fatalf("RegisterPendingRequestsCallback() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "storage.pending_requests" {
				continue
			}
			gauge, ok := md.Data.(metricdata.Gauge[int64])
			if !ok || len(gauge.DataPoints) != 1 || gauge.DataPoints[0].Value != 7 {
				t.Errorf("unexpected gauge data: %+v", md.Data)
			}
			found = true
		}
	}
	if !found {
		t.Error("storage.pending_requests gauge not collected")
	}
}

func TestTracing_SpansExported(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	inst, err := New(Config{Enabled: true, SpanExporter: exporter})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	_, span := inst.Tracer("server").Start(context.Background(), "oidc.server.authorize")
	AddRequestAttributes(span, "c1", "code", "openid")
	AddProtocolErrorAttributes(span, "invalid_request", "client_id is missing")
	RecordError(span, errors.New("boom"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs[AttrClientID] != "c1" || attrs[AttrError] != "invalid_request" {
		t.Errorf("unexpected span attributes: %v", attrs)
	}
}

func TestSpanHelpers_NilSafe(t *testing.T) {
	RecordError(nil, errors.New("ignored"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "ignored")
	AddRequestAttributes(nil, "c1", "code", "openid")
	AddStorageAttributes(nil, "get", "memory")
	AddHTTPAttributes(nil, "GET", "/authorize", 302)
	AddSecurityAttributes(nil, "127.0.0.1")
}

func sumCounter(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != name {
				continue
			}
			if sum, ok := md.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
