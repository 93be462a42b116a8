package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	inst, err := New(Config{
		Enabled:        true,
		TracerProvider: tp,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = inst.Shutdown(context.Background()) })

	return inst, recorder
}

func TestNew_Defaults(t *testing.T) {
	inst, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if inst.Metrics() == nil {
		t.Fatal("Metrics() returned nil")
	}
	if inst.config.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q, want %q", inst.config.ServiceName, DefaultServiceName)
	}
	if inst.config.ServiceVersion != DefaultServiceVersion {
		t.Errorf("ServiceVersion = %q, want %q", inst.config.ServiceVersion, DefaultServiceVersion)
	}
	if inst.Resource() == nil {
		t.Error("Resource() returned nil")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	inst, _ := newRecordingInstrumentation(t)

	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("first Shutdown() error = %v", err)
	}
	if err := inst.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("token").Start(context.Background(), "test-span")
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) != 1 {
		t.Errorf("got %d events, want 1 recorded error", len(spans[0].Events()))
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("authorization").Start(context.Background(), "test-span")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want Ok", got)
	}
}

func TestAddOAuthFlowAttributes_SkipsEmpty(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("authorization").Start(context.Background(), "test-span")
	AddOAuthFlowAttributes(span, "client-1", "", "openid")
	span.End()

	attrs := map[attribute.Key]string{}
	for _, kv := range recorder.Ended()[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}

	if attrs[AttrClientID] != "client-1" {
		t.Errorf("client id attribute = %q", attrs[AttrClientID])
	}
	if attrs[AttrScope] != "openid" {
		t.Errorf("scope attribute = %q", attrs[AttrScope])
	}
	if _, ok := attrs[AttrUserID]; ok {
		t.Error("empty user id must not be recorded")
	}
}

func TestNilSpanHelpers(t *testing.T) {
	// Should not panic
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanAttributes(nil, attribute.String("k", "v"))
	AddOAuthErrorAttributes(nil, "invalid_request", "x")
	AddStorageAttributes(nil, "find_client", "memory")
	AddSecurityAttributes(nil, "127.0.0.1")
}

func TestMetrics_Record(t *testing.T) {
	ctx := context.Background()
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := inst.Metrics()

	// Should not panic with no-op providers
	m.RecordHTTPRequest(ctx, "POST", "/token", 200, 12.5)
	m.RecordAuthorizationRequest(ctx, "client-1", "redirect")
	m.RecordAuthorizationDecision(ctx, "client-1", "allowed")
	m.RecordPromptRedirect(ctx, "login")
	m.RecordTokenRequest(ctx, "authorization_code", true)
	m.RecordTokenIssued(ctx, "client-1", "access_token", "authorization_code")
	m.RecordClientRegistration(ctx, "private_key_jwt")
	m.RecordClientAuthentication(ctx, "client_secret_basic", false)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordPKCEValidationFailed(ctx, "S256")
	m.RecordCodeReuseDetected(ctx)
	m.RecordTokenReuseDetected(ctx)
	m.RecordAssertionReplay(ctx)
	m.RecordAuditEvent(ctx, "auth_failure")
	m.RecordStorageOperation(ctx, "find_client", "success", 0.3)

	if err := inst.RegisterStorageSizeCallbacks(StorageSizeCallbacks{
		Clients: func() int64 { return 1 },
	}); err != nil {
		t.Fatalf("RegisterStorageSizeCallbacks() error = %v", err)
	}
}
