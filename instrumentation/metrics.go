package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the federation broker.
type Metrics struct {
	// Endpoint resolution
	DiscoveryTotal       metric.Int64Counter
	DiscoveryDuration    metric.Float64Histogram
	DiscoveryCacheHits   metric.Int64Counter
	DiscoveryCacheMisses metric.Int64Counter

	// Resilience
	RetryAttempts      metric.Int64Counter
	BreakerTransitions metric.Int64Counter

	// Rate limiting
	RateLimitDecisions     metric.Int64Counter
	RateLimitStoreFailures metric.Int64Counter

	// Login flow
	LoginsStarted    metric.Int64Counter
	ExchangesTotal   metric.Int64Counter
	ExchangeDuration metric.Float64Histogram
	RefreshesTotal   metric.Int64Counter
	RevocationsTotal metric.Int64Counter
	UserInfoTotal    metric.Int64Counter

	// Audit
	AuditEventsTotal metric.Int64Counter

	// Storage sizes (observed via RegisterStoreSizeCallbacks)
	StorageSessionsCount      metric.Int64ObservableGauge
	StorageLoginStatesCount   metric.Int64ObservableGauge
	StorageRateLimitKeysCount metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	discoveryMeter := inst.Meter("discovery")
	brokerMeter := inst.Meter("broker")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.DiscoveryTotal, err = discoveryMeter.Int64Counter(
		"sso.discovery.total",
		metric.WithDescription("Endpoint resolutions by source and outcome"),
		metric.WithUnit("{resolution}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.total counter: %w", err)
	}

	m.DiscoveryDuration, err = discoveryMeter.Float64Histogram(
		"sso.discovery.duration",
		metric.WithDescription("Endpoint resolution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.duration histogram: %w", err)
	}

	m.DiscoveryCacheHits, err = discoveryMeter.Int64Counter(
		"sso.discovery.cache.hits",
		metric.WithDescription("Endpoint cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.cache.hits counter: %w", err)
	}

	m.DiscoveryCacheMisses, err = discoveryMeter.Int64Counter(
		"sso.discovery.cache.misses",
		metric.WithDescription("Endpoint cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery.cache.misses counter: %w", err)
	}

	m.RetryAttempts, err = brokerMeter.Int64Counter(
		"sso.retry.attempts",
		metric.WithDescription("Retry attempts beyond the first, by operation"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry.attempts counter: %w", err)
	}

	m.BreakerTransitions, err = brokerMeter.Int64Counter(
		"sso.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create breaker.transitions counter: %w", err)
	}

	m.RateLimitDecisions, err = securityMeter.Int64Counter(
		"sso.rate_limit.decisions",
		metric.WithDescription("Rate limit decisions by key type and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.decisions counter: %w", err)
	}

	m.RateLimitStoreFailures, err = securityMeter.Int64Counter(
		"sso.rate_limit.store_failures",
		metric.WithDescription("Rate limit store failures (fail-open or fail-closed)"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.store_failures counter: %w", err)
	}

	m.LoginsStarted, err = brokerMeter.Int64Counter(
		"sso.login.started",
		metric.WithDescription("Login flows started"),
		metric.WithUnit("{flow}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create login.started counter: %w", err)
	}

	m.ExchangesTotal, err = brokerMeter.Int64Counter(
		"sso.exchange.total",
		metric.WithDescription("Authorization code exchanges by outcome"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange.total counter: %w", err)
	}

	m.ExchangeDuration, err = brokerMeter.Float64Histogram(
		"sso.exchange.duration",
		metric.WithDescription("Authorization code exchange duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create exchange.duration histogram: %w", err)
	}

	m.RefreshesTotal, err = brokerMeter.Int64Counter(
		"sso.refresh.total",
		metric.WithDescription("Session token refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh.total counter: %w", err)
	}

	m.RevocationsTotal, err = brokerMeter.Int64Counter(
		"sso.revocation.total",
		metric.WithDescription("Token revocation attempts by outcome"),
		metric.WithUnit("{revocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create revocation.total counter: %w", err)
	}

	m.UserInfoTotal, err = brokerMeter.Int64Counter(
		"sso.userinfo.total",
		metric.WithDescription("Userinfo fetches by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo.total counter: %w", err)
	}

	m.AuditEventsTotal, err = securityMeter.Int64Counter(
		"sso.audit.events.total",
		metric.WithDescription("Audit events emitted by type"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit.events.total counter: %w", err)
	}

	m.StorageSessionsCount, err = storageMeter.Int64ObservableGauge(
		"sso.storage.sessions",
		metric.WithDescription("Current number of stored sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.sessions gauge: %w", err)
	}

	m.StorageLoginStatesCount, err = storageMeter.Int64ObservableGauge(
		"sso.storage.login_states",
		metric.WithDescription("Current number of in-flight login states"),
		metric.WithUnit("{state}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.login_states gauge: %w", err)
	}

	m.StorageRateLimitKeysCount, err = storageMeter.Int64ObservableGauge(
		"sso.storage.rate_limit_keys",
		metric.WithDescription("Current number of tracked rate limit keys"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.rate_limit_keys gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns. All attributes carry
// metadata only, never token or credential values.

// RecordDiscovery records one endpoint resolution.
func (m *Metrics) RecordDiscovery(ctx context.Context, source string, success bool, durationMs float64) {
	m.DiscoveryTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.Bool("success", success),
	))
	m.DiscoveryDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("source", source),
	))
}

// RecordCacheHit records an endpoint cache hit.
func (m *Metrics) RecordCacheHit(ctx context.Context) {
	m.DiscoveryCacheHits.Add(ctx, 1)
}

// RecordCacheMiss records an endpoint cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	m.DiscoveryCacheMisses.Add(ctx, 1)
}

// RecordRetryAttempts records retries beyond the first attempt. A count of
// zero or less records nothing.
func (m *Metrics) RecordRetryAttempts(ctx context.Context, operation string, retries int) {
	if retries <= 0 {
		return
	}
	m.RetryAttempts.Add(ctx, int64(retries), metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", state),
	))
}

// RecordRateLimitDecision records one rate limit check. The key value itself
// is never attached, only its type.
func (m *Metrics) RecordRateLimitDecision(ctx context.Context, keyType string, allowed bool) {
	m.RateLimitDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("key_type", keyType),
		attribute.Bool("allowed", allowed),
	))
}

// RecordRateLimitStoreFailure records a rate limit store failure.
func (m *Metrics) RecordRateLimitStoreFailure(ctx context.Context) {
	m.RateLimitStoreFailures.Add(ctx, 1)
}

// RecordLoginStarted records a login flow start.
func (m *Metrics) RecordLoginStarted(ctx context.Context, orgID string) {
	m.LoginsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
	))
}

// RecordExchange records an authorization code exchange.
func (m *Metrics) RecordExchange(ctx context.Context, orgID string, success bool, durationMs float64) {
	m.ExchangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("org_id", orgID),
		attribute.Bool("success", success),
	))
	m.ExchangeDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordRefresh records a session token refresh.
func (m *Metrics) RecordRefresh(ctx context.Context, success, rotated bool) {
	m.RefreshesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("rotated", rotated),
	))
}

// RecordRevocation records one token revocation attempt.
func (m *Metrics) RecordRevocation(ctx context.Context, success bool) {
	m.RevocationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordUserInfo records a userinfo fetch.
func (m *Metrics) RecordUserInfo(ctx context.Context, success bool) {
	m.UserInfoTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordAuditEvent records an emitted audit event.
func (m *Metrics) RecordAuditEvent(ctx context.Context, eventType string) {
	m.AuditEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
