package oidc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// probeServer answers each endpoint path with its configured status.
func probeServer(t *testing.T, statuses map[string]int) (*httptest.Server, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, ok := statuses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, testIssuer(t, srv)
}

func probeEndpoints(issuer string) *Endpoints {
	return &Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/auth",
		TokenEndpoint:         issuer + "/token",
		UserInfoEndpoint:      issuer + "/userinfo",
		RevocationEndpoint:    issuer + "/revoke",
	}
}

func TestClient_TestConnectivity_Healthy(t *testing.T) {
	srv, issuer := probeServer(t, map[string]int{
		"/auth":     http.StatusBadRequest,
		"/token":    http.StatusBadRequest,
		"/userinfo": http.StatusUnauthorized,
		"/revoke":   http.StatusOK,
	})
	client := newTestClient(srv)

	report := client.TestConnectivity(context.Background(), probeEndpoints(issuer))
	if !report.Healthy() {
		t.Errorf("report should be healthy, probes: %+v", report.Probes)
	}
	if len(report.Probes) != 4 {
		t.Errorf("probed %d endpoints, want 4", len(report.Probes))
	}
}

func TestClient_TestConnectivity_UnexpectedStatus(t *testing.T) {
	// A userinfo endpoint answering 200 to an unauthenticated request is not
	// behaving like a userinfo endpoint.
	srv, issuer := probeServer(t, map[string]int{
		"/auth":     http.StatusBadRequest,
		"/token":    http.StatusBadRequest,
		"/userinfo": http.StatusOK,
		"/revoke":   http.StatusBadRequest,
	})
	client := newTestClient(srv)

	report := client.TestConnectivity(context.Background(), probeEndpoints(issuer))
	if report.Healthy() {
		t.Fatal("report should be unhealthy")
	}
	for _, p := range report.Probes {
		if p.Endpoint == "userinfo_endpoint" {
			if p.Healthy {
				t.Error("userinfo probe should be unhealthy")
			}
			if !strings.Contains(p.Detail, "unexpected status 200") {
				t.Errorf("Detail = %q", p.Detail)
			}
		}
	}
}

func TestClient_TestConnectivity_SkipsUnconfiguredEndpoints(t *testing.T) {
	srv, issuer := probeServer(t, map[string]int{
		"/auth":  http.StatusBadRequest,
		"/token": http.StatusBadRequest,
	})
	client := newTestClient(srv)

	eps := probeEndpoints(issuer)
	eps.UserInfoEndpoint = ""
	eps.RevocationEndpoint = ""

	report := client.TestConnectivity(context.Background(), eps)
	if len(report.Probes) != 2 {
		t.Errorf("probed %d endpoints, want 2 (optional endpoints skipped)", len(report.Probes))
	}
	if !report.Healthy() {
		t.Errorf("report should be healthy, probes: %+v", report.Probes)
	}
}

func TestClient_TestConnectivity_BlockedURL(t *testing.T) {
	srv, issuer := probeServer(t, map[string]int{
		"/auth":  http.StatusBadRequest,
		"/token": http.StatusBadRequest,
	})
	client := newTestClient(srv)

	eps := probeEndpoints(issuer)
	eps.UserInfoEndpoint = "https://169.254.169.254/userinfo"
	eps.RevocationEndpoint = ""

	report := client.TestConnectivity(context.Background(), eps)
	if report.Healthy() {
		t.Fatal("a blocked URL should fail its probe")
	}
	for _, p := range report.Probes {
		if p.Endpoint == "userinfo_endpoint" {
			if !strings.Contains(p.Detail, "url validation failed") {
				t.Errorf("Detail = %q, the probe should report the validation failure", p.Detail)
			}
			if p.Status != 0 {
				t.Errorf("Status = %d, a blocked URL must never be dereferenced", p.Status)
			}
		}
	}
}

func TestClient_TestConnectivity_NilEndpoints(t *testing.T) {
	client := NewClient(ClientConfig{})

	report := client.TestConnectivity(context.Background(), nil)
	if len(report.Probes) != 0 {
		t.Errorf("Probes = %v, want none", report.Probes)
	}
	if !report.Healthy() {
		t.Error("an empty report is vacuously healthy")
	}
}

func TestClient_TestConnectivity_RedirectNotFollowed(t *testing.T) {
	// The authorization endpoint redirects, as real login pages do. The probe
	// must report the redirect status rather than follow it.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth" {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	issuer := testIssuer(t, srv)
	client := newTestClient(srv)

	eps := &Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/auth",
		TokenEndpoint:         issuer + "/token",
	}
	report := client.TestConnectivity(context.Background(), eps)
	for _, p := range report.Probes {
		if p.Endpoint == "authorization_endpoint" {
			if p.Status != http.StatusFound {
				t.Errorf("Status = %d, want 302 (redirect treated as the response)", p.Status)
			}
			if p.Healthy {
				t.Error("a 302 is not the expected 400 for a bare authorization request")
			}
		}
	}
}
