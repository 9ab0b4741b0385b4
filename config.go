package sso

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/security"
)

// Config holds the federation broker configuration
// Structured using composition for better organization and maintainability
type Config struct {
	// Production tightens every URL check: HTTPS-only issuers and endpoints,
	// no loopback or private addresses anywhere. Leave false only for local
	// development against a provider on localhost.
	Production bool

	// Discovery controls endpoint resolution and caching
	Discovery DiscoveryConfig

	// RateLimit holds the request-governance policies
	RateLimit RateLimitConfig

	// Security settings (secure by default)
	Security SecurityConfig

	// Sessions controls SSO session and login-state lifetimes
	Sessions SessionConfig

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger

	// HTTPClient is a custom HTTP client for provider requests
	// If not provided, a client with a 10 second timeout is used
	HTTPClient *http.Client

	// Instrumentation provides OpenTelemetry metrics and tracing (optional).
	// Nil falls back to a no-op instance.
	Instrumentation *instrumentation.Instrumentation
}

// DiscoveryConfig holds endpoint discovery configuration
type DiscoveryConfig struct {
	// CacheSize bounds the number of issuers kept in the endpoint cache.
	// Default: 256
	CacheSize int

	// CacheTTL is how long a resolved endpoint set stays valid.
	// Default: 1 hour
	CacheTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration.
// Zero-valued policies fall back to the named defaults in the security
// package (authorization 10/hour per user, token exchange 20/hour per IP).
type RateLimitConfig struct {
	// Authorization governs login starts, keyed per user
	Authorization security.Policy

	// TokenExchange governs code exchanges, keyed per client IP
	TokenExchange security.Policy

	// AdmissionPerSecond enables a local per-client-IP admission gate in
	// front of the shared sliding-window limiter: a token bucket per client
	// that absorbs floods before they reach the rate-limit store. Zero
	// disables the gate. Enable it on internet-facing deployments so a
	// single flooding address cannot turn every login into a store
	// round-trip.
	AdmissionPerSecond int

	// AdmissionBurst is the admission gate's bucket size. Zero defaults to
	// AdmissionPerSecond.
	AdmissionBurst int

	// FailClosed rejects requests when the rate-limit store is unreachable.
	// The default is fail-open: an unreachable store admits the request and
	// the error is logged and audited.
	FailClosed bool

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For. Zero assumes one trusted proxy.
	TrustedProxyCount int
}

// SecurityConfig holds federation security settings (secure by default)
type SecurityConfig struct {
	// EncryptionKey is the AES-256 master key (32 bytes) for token encryption
	// at rest. Per-organization subkeys are derived from it, so one tenant's
	// ciphertext never decrypts under another tenant's key.
	// Nil disables encryption (tests only). Generate with security.GenerateKey().
	EncryptionKey []byte

	// EnableAuditLogging enables security audit logging.
	// Logs login flow events, revocation outcomes, and violations
	// (sensitive data hashed).
	EnableAuditLogging bool

	// AllowedReturnHosts lists hosts permitted as absolute post-logout
	// redirect targets. Relative paths are always allowed.
	AllowedReturnHosts []string

	// ClockSkewGracePeriod extends token expiry checks to tolerate clock
	// drift between this service and the provider.
	// Default: 5 seconds
	ClockSkewGracePeriod time.Duration
}

// SessionConfig holds session lifetime configuration
type SessionConfig struct {
	// TTL is how long an SSO session record survives without being
	// refreshed. Default: 24 hours
	TTL time.Duration

	// LoginStateTTL bounds how long a provider callback remains valid after
	// the login started. Default: 10 minutes
	LoginStateTTL time.Duration
}

// Default configuration values
const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultLoginStateTTL = 10 * time.Minute
	DefaultHTTPTimeout   = 10 * time.Second
)

// DefaultConfig returns a Config with production-safe defaults. The
// encryption key is deliberately absent: deployments must supply their own.
func DefaultConfig() *Config {
	return &Config{
		Production: true,
		Security: SecurityConfig{
			EnableAuditLogging:   true,
			ClockSkewGracePeriod: security.DefaultClockSkewGracePeriod,
		},
		Sessions: SessionConfig{
			TTL:           DefaultSessionTTL,
			LoginStateTTL: DefaultLoginStateTTL,
		},
	}
}

// Validate checks the configuration for hard misconfigurations. Soft gaps
// (missing logger, zero TTLs) are filled with defaults by NewBroker instead.
func (c *Config) Validate() error {
	if key := c.Security.EncryptionKey; len(key) != 0 && len(key) != 32 {
		return fmt.Errorf("security: encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	if c.Production && len(c.Security.EncryptionKey) == 0 {
		return fmt.Errorf("security: encryption key is required in production")
	}
	if c.RateLimit.AdmissionPerSecond < 0 || c.RateLimit.AdmissionBurst < 0 {
		return fmt.Errorf("rate limit: admission gate values must not be negative")
	}
	if c.Discovery.CacheSize < 0 {
		return fmt.Errorf("discovery: cache size must not be negative")
	}
	if c.Discovery.CacheTTL < 0 {
		return fmt.Errorf("discovery: cache TTL must not be negative")
	}
	if c.Sessions.TTL < 0 || c.Sessions.LoginStateTTL < 0 {
		return fmt.Errorf("sessions: TTLs must not be negative")
	}
	for _, host := range c.Security.AllowedReturnHosts {
		if host == "" {
			return fmt.Errorf("security: allowed return hosts must not contain empty entries")
		}
	}
	return nil
}
