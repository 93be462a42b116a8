package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is the service name used when none is provided
	DefaultServiceName = "oauth2-engine"

	// DefaultServiceVersion is the default service version used when none is provided
	DefaultServiceVersion = "unknown"

	// instrumentationPrefix is prepended to every meter and tracer scope
	instrumentationPrefix = "github.com/giantswarm/oauth2-engine/"
)

// Config holds instrumentation configuration
type Config struct {
	// ServiceName is the name of the service (e.g., "oauth2-engine", "my-authorization-server")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active
	// When false, uses no-op providers (zero overhead)
	Enabled bool

	// LogClientIPs controls whether client IP addresses are included in traces and metrics
	// When false, client IP attributes will be omitted from observability data
	//
	// Privacy Note: Client IP addresses may be considered Personally Identifiable
	// Information (PII) under GDPR and other privacy regulations.
	LogClientIPs bool

	// MeterProvider is the provider metric instruments are created from.
	// If nil while Enabled, a no-op provider is used until an exporter is wired.
	MeterProvider metric.MeterProvider

	// TracerProvider is the provider spans are created from.
	// If nil while Enabled, a no-op provider is used until an exporter is wired.
	TracerProvider trace.TracerProvider

	// Resource allows custom resource attributes
	// If nil, default resource is created with service name and version
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions (must be registered during New() only, not thread-safe after initialization)
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	var res *resource.Resource
	var err error
	if config.Resource != nil {
		res = config.Resource
	} else {
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	if config.Enabled {
		inst.initializeProviders()
	} else {
		inst.meterProvider = noop.NewMeterProvider()
		inst.tracerProvider = tracenoop.NewTracerProvider()
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// initializeProviders installs the configured providers, falling back to no-op ones
func (i *Instrumentation) initializeProviders() {
	i.meterProvider = i.config.MeterProvider
	if i.meterProvider == nil {
		i.meterProvider = noop.NewMeterProvider()
	}

	i.tracerProvider = i.config.TracerProvider
	if i.tracerProvider == nil {
		i.tracerProvider = tracenoop.NewTracerProvider()
	}

	if sp, ok := i.tracerProvider.(interface{ Shutdown(context.Context) error }); ok {
		i.shutdownFuncs = append(i.shutdownFuncs, sp.Shutdown)
	}
}

// Shutdown gracefully shuts down all instrumentation providers
// This should be called when the application is terminating
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope
// Scopes are layer names like "authorization", "token", "storage", "security"
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(instrumentationPrefix + scope)
}

// Tracer returns a named tracer for the given scope
// Scopes are layer names like "authorization", "token", "storage", "security"
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(instrumentationPrefix + scope)
}

// Metrics returns the metrics holder for recording metric values
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// Resource returns the resource describing this service
func (i *Instrumentation) Resource() *resource.Resource {
	return i.resource
}

// ShouldLogClientIPs returns whether client IP addresses should be logged
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StorageSizeCallback is a function that returns the current size of a storage component
type StorageSizeCallback func() int64

// StorageSizeCallbacks groups the gauges a store can report. Nil callbacks are skipped.
type StorageSizeCallbacks struct {
	Clients            StorageSizeCallback
	AccessTokens       StorageSizeCallback
	RefreshTokens      StorageSizeCallback
	AuthorizationCodes StorageSizeCallback
	AuthorizationFlows StorageSizeCallback
}

// RegisterStorageSizeCallbacks registers callbacks for storage size metrics
// Storage implementations should call this after instrumentation is set
func (i *Instrumentation) RegisterStorageSizeCallbacks(cb StorageSizeCallbacks) error {
	meter := i.Meter("storage")
	m := i.metrics

	_, err := meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			observe := func(g metric.Int64ObservableGauge, fn StorageSizeCallback) {
				if fn != nil {
					observer.ObserveInt64(g, fn())
				}
			}
			observe(m.StorageClientsCount, cb.Clients)
			observe(m.StorageAccessTokensCount, cb.AccessTokens)
			observe(m.StorageRefreshTokensCount, cb.RefreshTokens)
			observe(m.StorageCodesCount, cb.AuthorizationCodes)
			observe(m.StorageFlowsCount, cb.AuthorizationFlows)
			return nil
		},
		m.StorageClientsCount,
		m.StorageAccessTokensCount,
		m.StorageRefreshTokensCount,
		m.StorageCodesCount,
		m.StorageFlowsCount,
	)

	return err
}
