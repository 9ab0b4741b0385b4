// Package sso implements the trust and resilience layer for enterprise
// identity federation over OIDC. A Broker coordinates the login flow against
// an organization's configured identity provider: endpoint resolution with
// SSRF-safe validation and caching, rate-governed authorization and code
// exchange, ID token verification, encrypted session correlation, and
// best-effort token revocation on logout.
//
// The broker deliberately stops short of HTTP: callers own the transport and
// redirect surfaces and hand the broker requests with the relevant parameters
// already extracted.
package sso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
	"github.com/doorpasses/enterprise-sso/storage"
)

// ConfigStore resolves the active SSO configuration for an organization.
// Implementations typically sit on the caller's configuration database.
type ConfigStore interface {
	// GetConfiguration returns the organization's SSO configuration, or
	// (nil, nil) when none exists.
	GetConfiguration(ctx context.Context, orgID string) (*Configuration, error)
}

// Broker coordinates federated logins. It is safe for concurrent use.
type Broker struct {
	configs     ConfigStore
	sessions    storage.SessionStore
	loginStates storage.LoginStateStore
	resolver    *oidc.Client
	verifier    *oidc.Verifier
	limiter     *security.Limiter
	admission   *security.AdmissionLimiter
	encryptor   *security.Encryptor
	auditor     *security.Auditor
	httpClient  *http.Client
	logger      *slog.Logger
	inst        *instrumentation.Instrumentation
	metrics     *instrumentation.Metrics
	tracer      trace.Tracer
	config      *Config
}

// NewBroker creates a federation broker.
func NewBroker(
	configs ConfigStore,
	sessions storage.SessionStore,
	loginStates storage.LoginStateStore,
	rateLimits storage.RateLimitStore,
	config *Config,
) (*Broker, error) {
	if configs == nil {
		return nil, fmt.Errorf("config store is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if loginStates == nil {
		return nil, fmt.Errorf("login state store is required")
	}
	if rateLimits == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker config: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	if config.Sessions.TTL == 0 {
		config.Sessions.TTL = DefaultSessionTTL
	}
	if config.Sessions.LoginStateTTL == 0 {
		config.Sessions.LoginStateTTL = DefaultLoginStateTTL
	}
	if config.Security.ClockSkewGracePeriod == 0 {
		config.Security.ClockSkewGracePeriod = security.DefaultClockSkewGracePeriod
	}
	if config.RateLimit.Authorization.IsZero() {
		config.RateLimit.Authorization = security.PolicyAuthorization
	}
	if config.RateLimit.TokenExchange.IsZero() {
		config.RateLimit.TokenExchange = security.PolicyTokenExchange
	}

	encryptor, err := security.NewEncryptor(config.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	if !encryptor.IsEnabled() {
		logger.Warn("Token encryption is DISABLED - provider tokens stored in plaintext")
	}

	inst := config.Instrumentation
	if inst == nil {
		inst = instrumentation.Disabled()
	}
	metrics := inst.Metrics()

	auditor := security.NewAuditor(logger, config.Security.EnableAuditLogging)
	auditor.SetObserver(func(eventType string) {
		metrics.RecordAuditEvent(context.Background(), eventType)
	})

	breakers := resilience.NewBreakerRegistry(resilience.BreakerConfig{
		Logger: logger,
		OnStateChange: func(name string, state resilience.BreakerState) {
			metrics.RecordBreakerTransition(context.Background(), name, string(state))
		},
	})

	resolver := oidc.NewClient(oidc.ClientConfig{
		HTTPClient: httpClient,
		Cache:      oidc.NewCache(config.Discovery.CacheSize, config.Discovery.CacheTTL),
		Breakers:   breakers,
		Production: config.Production,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     inst.Tracer("discovery"),
	})

	verifier := oidc.NewVerifier(oidc.VerifierConfig{
		HTTPClient: httpClient,
		Production: config.Production,
		Logger:     logger,
	})

	limiter := security.NewLimiter(rateLimits, security.LimiterOptions{
		FailClosed: config.RateLimit.FailClosed,
		Auditor:    auditor,
		Logger:     logger,
	})

	var admission *security.AdmissionLimiter
	if config.RateLimit.AdmissionPerSecond > 0 {
		burst := config.RateLimit.AdmissionBurst
		if burst == 0 {
			burst = config.RateLimit.AdmissionPerSecond
		}
		admission = security.NewAdmissionLimiter(config.RateLimit.AdmissionPerSecond, burst, logger)
	}

	return &Broker{
		configs:     configs,
		sessions:    sessions,
		loginStates: loginStates,
		resolver:    resolver,
		verifier:    verifier,
		limiter:     limiter,
		admission:   admission,
		encryptor:   encryptor,
		auditor:     auditor,
		httpClient:  httpClient,
		logger:      logger,
		inst:        inst,
		metrics:     metrics,
		tracer:      inst.Tracer("broker"),
		config:      config,
	}, nil
}

// Close releases the broker's background resources. Only the admission gate
// owns any today; Close is safe to call regardless.
func (b *Broker) Close() {
	if b.admission != nil {
		b.admission.Stop()
	}
}

// ClientIP extracts the requester's IP address from an HTTP request under the
// configured proxy trust. Transports should fill the ClientIP fields on broker
// requests with this instead of RemoteAddr: RemoteAddr carries the ephemeral
// port, and behind a proxy it identifies the proxy rather than the client.
func (b *Broker) ClientIP(r *http.Request) string {
	return security.ClientIP(r, b.config.RateLimit.TrustProxy, b.config.RateLimit.TrustedProxyCount)
}

// startSpan opens a span for one broker operation. The returned finish func
// records the outcome: a FederationError contributes its stable code as a span
// attribute, any error marks the span failed, success marks it OK.
func (b *Broker) startSpan(ctx context.Context, operation, clientIP string) (context.Context, func(error)) {
	ctx, span := b.tracer.Start(ctx, "broker."+operation,
		trace.WithAttributes(attribute.String(instrumentation.AttrOperation, operation)))
	if b.inst.ShouldLogClientIPs() {
		instrumentation.AddSecurityAttributes(span, clientIP)
	}
	finish := func(err error) {
		if err == nil {
			instrumentation.SetSpanSuccess(span)
		} else {
			var fe *FederationError
			if errors.As(err, &fe) {
				instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrErrorCode, fe.Code))
			}
			instrumentation.RecordError(span, err)
		}
		span.End()
	}
	return ctx, finish
}

// admit applies the local admission gate, when enabled, before the shared
// limiter sees the request. A denial is cheap and instance-local; the bucket
// refills continuously, so unlike a sliding-window denial it carries no reset
// time.
func (b *Broker) admit(ctx context.Context, clientIP string) error {
	if b.admission == nil || clientIP == "" {
		return nil
	}
	if b.admission.Allow(clientIP) {
		return nil
	}
	b.metrics.RecordRateLimitDecision(ctx, string(security.KeyTypeIP), false)
	b.auditor.LogRateLimitExceeded(string(security.KeyTypeIP), clientIP)
	return ErrRateLimited("too many requests")
}

// TestConnectivity resolves an organization's endpoints and probes them for
// reachability. Intended for the administrator-facing "test connection"
// action on a configuration form.
func (b *Broker) TestConnectivity(ctx context.Context, orgID string) (*oidc.ConnectivityReport, error) {
	cfg, err := b.configuration(ctx, orgID)
	if err != nil {
		return nil, err
	}
	eps, err := b.resolveEndpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return b.resolver.TestConnectivity(ctx, eps), nil
}

// configuration loads and validates the organization's active configuration.
func (b *Broker) configuration(ctx context.Context, orgID string) (*Configuration, error) {
	if orgID == "" {
		return nil, ErrInvalidConfiguration("organization ID is required")
	}

	cfg, err := b.configs.GetConfiguration(ctx, orgID)
	if err != nil {
		fe := ErrServerError("failed to load SSO configuration")
		fe.Err = err
		return nil, fe
	}
	if cfg == nil || !cfg.Enabled {
		return nil, ErrConfigurationMissing("no enabled SSO configuration for organization")
	}

	if err := cfg.Validate(b.config.Production); err != nil {
		b.auditor.LogEvent(security.AuditEvent{
			Type:    security.EventConfigurationRejected,
			OrgID:   orgID,
			Details: map[string]any{"reason": err.Error()},
		})
		fe := ErrInvalidConfiguration(err.Error())
		fe.Err = err
		return nil, fe
	}

	instrumentation.AddFederationAttributes(trace.SpanFromContext(ctx), cfg.OrgID, cfg.ID)
	return cfg, nil
}

// resolveEndpoints resolves the configuration's provider endpoints, honoring
// the auto-discovery preference and manual fallback.
func (b *Broker) resolveEndpoints(ctx context.Context, cfg *Configuration) (*oidc.Endpoints, error) {
	start := time.Now()
	eps, err := b.resolver.ResolveEndpoints(ctx, cfg.IssuerURL, cfg.ManualEndpoints, cfg.AutoDiscovery)
	if err != nil {
		b.metrics.RecordDiscovery(ctx, "discovery", false, float64(time.Since(start).Milliseconds()))
		b.auditor.LogDiscoveryFailed(cfg.OrgID, cfg.IssuerURL, err.Error())
		return nil, classifyError(err, ErrDiscoveryFailed)
	}
	b.metrics.RecordDiscovery(ctx, string(eps.Source), true, float64(time.Since(start).Milliseconds()))
	instrumentation.AddProviderAttributes(trace.SpanFromContext(ctx), eps.Issuer, string(eps.Source))
	return eps, nil
}

// encryptorFor returns the tenant-scoped encryptor for an organization.
func (b *Broker) encryptorFor(orgID string) (*security.Encryptor, error) {
	enc, err := b.encryptor.ForOrganization(orgID)
	if err != nil {
		fe := ErrServerError("failed to derive organization encryption key")
		fe.Err = err
		return nil, fe
	}
	return enc, nil
}

// endpointURLOptions returns the SSRF policy applied to resolved endpoints
// immediately before each outbound call.
func (b *Broker) endpointURLOptions() security.URLOptions {
	if b.config.Production {
		return security.URLOptions{}
	}
	return security.URLOptions{AllowHTTP: true, AllowLoopback: true, AllowPrivateIPs: true}
}

// checkOutboundURL validates a resolved endpoint right before use. Verdicts
// are never cached across URLs: a cached endpoint set re-validates on every
// call so a poisoned cache cannot smuggle an internal address through.
func (b *Broker) checkOutboundURL(rawURL, orgID string) error {
	if err := security.ValidateURL(rawURL, b.endpointURLOptions()); err != nil {
		b.auditor.LogEvent(security.AuditEvent{
			Type:  security.EventBlockedURL,
			OrgID: orgID,
			Details: map[string]any{
				"url": security.SanitizeURLForLogging(rawURL),
			},
		})
		return classifyError(err, ErrInvalidConfiguration)
	}
	return nil
}

// sessionTTL returns the configured session record lifetime.
func (b *Broker) sessionTTL() time.Duration {
	return b.config.Sessions.TTL
}

// validReturnTo validates an optional post-flow redirect target. Empty is
// always fine; anything else must pass the open-redirect check.
func (b *Broker) validReturnTo(returnTo string) (string, error) {
	returnTo = strings.TrimSpace(returnTo)
	if returnTo == "" {
		return "", nil
	}
	if err := security.ValidateReturnURL(returnTo, b.config.Security.AllowedReturnHosts); err != nil {
		fe := ErrInvalidCallback("return URL is not allowed")
		fe.Err = err
		return "", fe
	}
	return returnTo, nil
}
