package oidc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
)

// ProbeResult is the outcome of one endpoint connectivity probe.
type ProbeResult struct {
	// Endpoint is the logical endpoint name (authorization_endpoint, ...).
	Endpoint string
	// URL is the probed URL.
	URL string
	// Status is the HTTP status received, 0 when no response arrived.
	Status int
	// Healthy reports whether the endpoint answered with an expected status.
	Healthy bool
	// Detail explains an unhealthy result.
	Detail string
}

// ConnectivityReport aggregates the probe results for one endpoint set.
// Probes are diagnostic: individual failures are recorded here, never
// returned as errors, so an administrator testing a half-configured provider
// sees every problem at once.
type ConnectivityReport struct {
	CheckedAt time.Time
	Probes    []ProbeResult
}

// Healthy reports whether every probed endpoint responded as expected.
func (r *ConnectivityReport) Healthy() bool {
	for _, p := range r.Probes {
		if !p.Healthy {
			return false
		}
	}
	return true
}

// TestConnectivity sends minimal unauthenticated probes to each configured
// endpoint and reports whether the responses look like a live provider.
//
// Expectations encode how OAuth endpoints answer bare requests: the
// authorization and token endpoints reject a parameterless request with 400,
// userinfo rejects a missing bearer token with 401, and revocation accepts
// or rejects an empty form with 200 or 400 (RFC 7009 tolerates unknown
// tokens). Any other status, or no response at all, marks the probe
// unhealthy with a detail string.
//
// Optional endpoints that are not configured are skipped rather than failed.
func (c *Client) TestConnectivity(ctx context.Context, eps *Endpoints) *ConnectivityReport {
	report := &ConnectivityReport{CheckedAt: time.Now()}
	if eps == nil {
		return report
	}

	probes := []struct {
		name   string
		url    string
		method string
		expect []int
	}{
		{"authorization_endpoint", eps.AuthorizationEndpoint, http.MethodGet, []int{http.StatusBadRequest}},
		{"token_endpoint", eps.TokenEndpoint, http.MethodPost, []int{http.StatusBadRequest}},
		{"userinfo_endpoint", eps.UserInfoEndpoint, http.MethodGet, []int{http.StatusUnauthorized}},
		{"revocation_endpoint", eps.RevocationEndpoint, http.MethodPost, []int{http.StatusOK, http.StatusBadRequest}},
	}

	for _, probe := range probes {
		if probe.url == "" {
			continue
		}
		report.Probes = append(report.Probes, c.probe(ctx, probe.name, probe.url, probe.method, probe.expect))
	}

	return report
}

func (c *Client) probe(ctx context.Context, name, probeURL, method string, expect []int) ProbeResult {
	result := ProbeResult{Endpoint: name, URL: probeURL}

	// SECURITY: Probes dereference URLs like any other outbound call and get
	// the same validation immediately before use.
	if err := security.ValidateURL(probeURL, c.urlOptions()); err != nil {
		result.Detail = fmt.Sprintf("url validation failed: %v", err)
		return result
	}

	status, _, err := resilience.Execute(ctx, c.logger, resilience.ConnectivityPolicy(), "connectivity_probe",
		func(ctx context.Context) (int, error) {
			return c.probeOnce(ctx, probeURL, method)
		})
	if err != nil {
		result.Detail = fmt.Sprintf("request failed: %v", err)
		return result
	}

	result.Status = status
	for _, want := range expect {
		if status == want {
			result.Healthy = true
			return result
		}
	}
	result.Detail = fmt.Sprintf("unexpected status %d (want %s)", status, statusList(expect))
	return result
}

// probeOnce issues one probe request. Redirects are treated as responses,
// not followed: a probe checks that the endpoint itself answers, not
// whatever a login page chain ends at.
func (c *Client) probeOnce(ctx context.Context, probeURL, method string) (int, error) {
	var body io.Reader
	if method == http.MethodPost {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, probeURL, body)
	if err != nil {
		return 0, err
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	client := *c.httpClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused across probes.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return resp.StatusCode, nil
}

func statusList(codes []int) string {
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprint(code)
	}
	return strings.Join(parts, " or ")
}
