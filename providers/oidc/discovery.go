package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/internal/util"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
)

// wellKnownPath is the discovery document location relative to the issuer,
// per OIDC Discovery 1.0 section 4.
const wellKnownPath = "/.well-known/openid-configuration"

// maxDocumentSize caps the discovery response body. A legitimate document is
// a few KiB; anything near the cap is hostile or broken.
const maxDocumentSize = 1 << 20

// DiscoveryDocument represents an OIDC discovery document.
// It contains the OpenID Connect provider metadata as defined in RFC 8414.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	JWKSUri                           string   `json:"jwks_uri,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// endpoints converts a validated document into an Endpoints snapshot.
func (d *DiscoveryDocument) endpoints(issuer string, warnings []string) *Endpoints {
	return &Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: d.AuthorizationEndpoint,
		TokenEndpoint:         d.TokenEndpoint,
		UserInfoEndpoint:      d.UserInfoEndpoint,
		RevocationEndpoint:    d.RevocationEndpoint,
		JWKSURI:               d.JWKSUri,
		Source:                SourceDiscovery,
		Warnings:              append([]string(nil), warnings...),
	}
}

// ClientConfig configures the discovery client. The zero value gets safe
// defaults for everything except Production, which callers must set
// deliberately for deployed environments.
type ClientConfig struct {
	// HTTPClient performs discovery fetches (default: 10s timeout client).
	HTTPClient *http.Client

	// Cache holds resolved endpoint sets. Nil constructs a default cache.
	Cache *Cache

	// RetryPolicy overrides the discovery retry budget
	// (default: resilience.DiscoveryPolicy).
	RetryPolicy *resilience.Policy

	// Breakers guards fetches with one circuit breaker per issuer host.
	// Nil constructs a registry with default thresholds.
	Breakers *resilience.BreakerRegistry

	// Production tightens URL validation: HTTPS only, no loopback or private
	// addresses anywhere.
	Production bool

	// Logger receives discovery progress and warnings (default slog.Default).
	Logger *slog.Logger

	// Metrics records cache and retry telemetry (default: no-op instruments).
	Metrics *instrumentation.Metrics

	// Tracer records discovery spans (default: no-op tracer).
	Tracer trace.Tracer
}

// Client resolves OIDC provider endpoints. It fetches and caches discovery
// documents, validates administrator-supplied manual endpoints, and probes
// resolved endpoints for reachability.
//
// The client is safe for concurrent use from multiple goroutines.
type Client struct {
	httpClient *http.Client
	cache      *Cache
	retry      resilience.Policy
	breakers   *resilience.BreakerRegistry
	production bool
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	tracer     trace.Tracer
}

// NewClient creates a discovery client.
//
// Example:
//
//	client := oidc.NewClient(oidc.ClientConfig{Production: true})
//	eps, err := client.Discover(ctx, "https://login.example.com")
func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Cache == nil {
		cfg.Cache = NewCache(DefaultCacheSize, DefaultCacheTTL)
	}
	retry := resilience.DiscoveryPolicy()
	if cfg.RetryPolicy != nil {
		retry = *cfg.RetryPolicy
	}
	if cfg.Breakers == nil {
		cfg.Breakers = resilience.NewBreakerRegistry(resilience.BreakerConfig{Logger: cfg.Logger})
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = instrumentation.Disabled().Metrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}

	return &Client{
		httpClient: cfg.HTTPClient,
		cache:      cfg.Cache,
		retry:      retry,
		breakers:   cfg.Breakers,
		production: cfg.Production,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}
}

// NormalizeIssuer canonicalizes an issuer URL for cache keys and issuer
// comparison: the scheme defaults to https when absent, scheme and host are
// lower-cased, and trailing slashes are stripped. The path, which is
// case-sensitive per OIDC, is preserved as given.
func NormalizeIssuer(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("issuer URL is empty")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid issuer URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("issuer URL has no host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	return util.NormalizeURL(u.String()), nil
}

// Discover resolves the endpoint set for an issuer through its discovery
// document.
//
// The pipeline per attempt is strictly sequential: validate issuer, consult
// cache, validate the well-known URL, fetch (retried, breaker-guarded),
// validate status and content type, parse, validate the document, cache.
// Any step failure returns a *DiscoveryError naming the stage; no step is
// skipped.
//
// Security Features:
//   - SSRF protection on the issuer, the discovery URL, and every endpoint
//     inside the document, immediately before use
//   - Issuer binding: the document's issuer must equal the normalized
//     requested issuer exactly
//   - Response size cap and content-type enforcement
//
// Example:
//
//	eps, err := client.Discover(ctx, "https://login.example.com")
//	if err != nil {
//	    var de *oidc.DiscoveryError
//	    if errors.As(err, &de) {
//	        log.Printf("discovery failed at %s: %v", de.Stage, de.Err)
//	    }
//	    return err
//	}
func (c *Client) Discover(ctx context.Context, issuerURL string) (*Endpoints, error) {
	ctx, span := c.tracer.Start(ctx, "oidc.discover")
	defer span.End()

	eps, err := c.discover(ctx, issuerURL)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.AddProviderAttributes(span, eps.Issuer, string(eps.Source))
	instrumentation.SetSpanSuccess(span)
	return eps, nil
}

func (c *Client) discover(ctx context.Context, issuerURL string) (*Endpoints, error) {
	issuer, err := NormalizeIssuer(issuerURL)
	if err != nil {
		return nil, &DiscoveryError{Stage: StageValidateIssuer, Issuer: issuerURL, Err: err}
	}

	// SECURITY: Validate the issuer before any network interaction.
	if err := security.ValidateIssuerURL(issuer, c.production); err != nil {
		return nil, &DiscoveryError{Stage: StageValidateIssuer, Issuer: issuer, Err: err}
	}

	if eps, ok := c.cache.Get(issuer); ok {
		c.logger.Debug("OIDC discovery cache hit", "issuer", issuer)
		c.metrics.RecordCacheHit(ctx)
		return eps, nil
	}
	c.metrics.RecordCacheMiss(ctx)

	discoveryURL := issuer + wellKnownPath

	// SECURITY: The well-known URL is validated independently; a crafted
	// issuer path could otherwise steer the fetch somewhere the issuer
	// check did not cover.
	if err := security.ValidateURL(discoveryURL, c.urlOptions()); err != nil {
		return nil, &DiscoveryError{Stage: StageValidateURL, Issuer: issuer, Err: err}
	}

	c.logger.Debug("Fetching OIDC discovery document", "url", discoveryURL)

	breaker := c.breakers.Get(breakerName(issuer))
	resp, stats, err := resilience.Execute(ctx, c.logger, c.retry, "oidc_discovery",
		func(ctx context.Context) (*discoveryResponse, error) {
			return resilience.Guard(ctx, breaker, func(ctx context.Context) (*discoveryResponse, error) {
				return c.fetchOnce(ctx, discoveryURL)
			})
		})
	c.metrics.RecordRetryAttempts(ctx, "oidc_discovery", stats.Attempts-1)
	if err != nil {
		return nil, &DiscoveryError{Stage: StageFetch, Issuer: issuer, Err: err}
	}

	if !strings.Contains(resp.contentType, "application/json") {
		return nil, &DiscoveryError{
			Stage:  StageValidateResponse,
			Issuer: issuer,
			Err:    fmt.Errorf("discovery response content type %q is not application/json", resp.contentType),
		}
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(resp.body, &doc); err != nil {
		return nil, &DiscoveryError{
			Stage:  StageParse,
			Issuer: issuer,
			Err:    fmt.Errorf("malformed discovery document: %w", err),
		}
	}

	warnings, err := ValidateDocument(&doc, issuer, c.urlOptions())
	if err != nil {
		return nil, &DiscoveryError{Stage: StageValidateDocument, Issuer: issuer, Err: err}
	}
	for _, warning := range warnings {
		c.logger.Warn("OIDC discovery document warning", "issuer", issuer, "warning", warning)
	}

	eps := doc.endpoints(issuer, warnings)
	c.cache.Set(issuer, eps)

	c.logger.Info("OIDC discovery successful",
		"issuer", issuer,
		"authorization_endpoint", eps.AuthorizationEndpoint,
		"token_endpoint", eps.TokenEndpoint,
		"attempts", stats.Attempts)

	return eps, nil
}

// discoveryResponse carries one fetch attempt's outcome into response
// validation.
type discoveryResponse struct {
	body        []byte
	contentType string
}

// fetchOnce performs a single discovery GET. Transport failures and non-2xx
// statuses are returned as errors so the retry classifier can see them;
// content-type and document checks happen after the retry loop because a
// well-formed response with the wrong shape will not improve on retry.
func (c *Client) fetchOnce(ctx context.Context, discoveryURL string) (*discoveryResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &resilience.HTTPError{
			URL:        discoveryURL,
			StatusCode: resp.StatusCode,
			Body:       util.SafeTruncate(string(body), 256),
		}
	}

	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("discovery document exceeds %d bytes", maxDocumentSize)
	}

	return &discoveryResponse{
		body:        body,
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) urlOptions() security.URLOptions {
	return endpointURLOptions(c.production)
}

// endpointURLOptions derives the SSRF policy for endpoint URLs from the
// deployment mode. Production permits public HTTPS only; development
// additionally tolerates http, loopback, and private addresses for local
// providers.
func endpointURLOptions(production bool) security.URLOptions {
	if production {
		return security.URLOptions{}
	}
	return security.URLOptions{
		AllowHTTP:       true,
		AllowLoopback:   true,
		AllowPrivateIPs: true,
	}
}

// breakerName scopes breaker state to the issuer host so one failing
// provider cannot trip the breaker for every tenant.
func breakerName(issuer string) string {
	if u, err := url.Parse(issuer); err == nil && u.Host != "" {
		return "discovery:" + u.Host
	}
	return "discovery:" + issuer
}

// ClearCache drops all cached discovery results, forcing a refresh on the
// next Discover call.
func (c *Client) ClearCache() {
	c.cache.Purge()
	c.logger.Debug("OIDC discovery cache cleared")
}
