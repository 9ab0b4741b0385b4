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
	// DefaultServiceName identifies the broker in telemetry when no name is
	// configured.
	DefaultServiceName = "enterprise-sso"

	// DefaultServiceVersion is used when no version is provided.
	DefaultServiceVersion = "unknown"

	scopePrefix = "github.com/doorpasses/enterprise-sso/"
)

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName is the name of the service as reported in telemetry.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used (zero overhead).
	Enabled bool

	// LogClientIPs controls whether client IP addresses are included in
	// traces and metrics. Client IPs may be PII under GDPR and similar
	// regimes; disable this where such data must not reach the telemetry
	// pipeline.
	LogClientIPs bool

	// Resource allows custom resource attributes.
	// If nil, a default resource is created with service name and version.
	Resource *resource.Resource

	// TracerProvider plugs in an SDK tracer provider with exporters
	// configured. Nil uses a no-op provider; recording call sites are
	// unaffected either way.
	TracerProvider trace.TracerProvider
}

// Instrumentation provides OpenTelemetry instrumentation components.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	// Shutdown functions (registered during New() only, not thread-safe
	// after initialization).
	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
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

	// No-op providers serve the disabled case and any slot without an
	// injected provider; exporters (Prometheus, OTLP) plug in through the
	// config without changing the recording call sites.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()
	if config.Enabled && config.TracerProvider != nil {
		inst.tracerProvider = config.TracerProvider
	}

	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// Disabled returns an instrumentation instance whose every recording call is
// a no-op. Useful as a default when no instrumentation is configured.
func Disabled() *Instrumentation {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		// New() with no-op providers cannot fail; a panic here means the
		// package itself is broken.
		panic("instrumentation: " + err.Error())
	}
	return inst
}

// Shutdown gracefully shuts down all instrumentation providers.
// Call when the application is terminating.
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

// Meter returns a named meter for the given scope. Scopes are layer names
// like "broker", "discovery", "storage", or "security"; the full name is
// the module path plus the scope.
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter(scopePrefix + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer(scopePrefix + scope)
}

// Metrics returns the metrics holder for recording metric values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}

// ShouldLogClientIPs reports whether client IP addresses may be attached to
// telemetry. This respects the LogClientIPs configuration for privacy
// compliance.
func (i *Instrumentation) ShouldLogClientIPs() bool {
	return i.config.LogClientIPs
}

// StoreSizeCallback returns the current size of one storage collection.
type StoreSizeCallback func() int64

// RegisterStoreSizeCallbacks registers gauge callbacks for storage sizes.
// Storage implementations call this after instrumentation is set; nil
// callbacks skip their gauge.
//
// Example:
//
//	inst.RegisterStoreSizeCallbacks(
//	    func() int64 { return int64(store.GetStats().Sessions) },
//	    func() int64 { return int64(store.GetStats().LoginStates) },
//	    func() int64 { return int64(store.GetStats().RateLimitKeys) },
//	)
func (i *Instrumentation) RegisterStoreSizeCallbacks(
	sessionCount, loginStateCount, rateLimitKeyCount StoreSizeCallback,
) error {
	if i.meterProvider == nil {
		return fmt.Errorf("meter provider not initialized")
	}

	meter := i.Meter("storage")

	_, err := meter.RegisterCallback(
		func(_ context.Context, observer metric.Observer) error {
			if sessionCount != nil {
				observer.ObserveInt64(i.metrics.StorageSessionsCount, sessionCount())
			}
			if loginStateCount != nil {
				observer.ObserveInt64(i.metrics.StorageLoginStatesCount, loginStateCount())
			}
			if rateLimitKeyCount != nil {
				observer.ObserveInt64(i.metrics.StorageRateLimitKeysCount, rateLimitKeyCount())
			}
			return nil
		},
		i.metrics.StorageSessionsCount,
		i.metrics.StorageLoginStatesCount,
		i.metrics.StorageRateLimitKeysCount,
	)

	return err
}
