package oidc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// discoveryServer serves a well-formed discovery document, or the given
// status when failStatus is non-zero.
func discoveryServer(t *testing.T, failStatus int) (*httptest.Server, string) {
	t.Helper()

	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failStatus != 0 {
			w.WriteHeader(failStatus)
			return
		}
		if r.URL.Path != "/.well-known/openid-configuration" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testDocument(issuer))
	}))
	t.Cleanup(srv.Close)
	issuer = testIssuer(t, srv)
	return srv, issuer
}

func manualSet(issuer string) *ManualEndpoints {
	return &ManualEndpoints{
		AuthorizationEndpoint: issuer + "/manual/auth",
		TokenEndpoint:         issuer + "/manual/token",
	}
}

func TestClient_ResolveEndpoints_DiscoveryPreferred(t *testing.T) {
	srv, issuer := discoveryServer(t, 0)
	client := newTestClient(srv)

	eps, err := client.ResolveEndpoints(context.Background(), issuer, manualSet(issuer), true)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v", err)
	}
	if eps.Source != SourceDiscovery {
		t.Errorf("Source = %q, want discovery", eps.Source)
	}
	if eps.TokenEndpoint != issuer+"/token" {
		t.Errorf("TokenEndpoint = %q, discovery document should win over the manual set", eps.TokenEndpoint)
	}
}

func TestClient_ResolveEndpoints_FallsBackToManual(t *testing.T) {
	srv, issuer := discoveryServer(t, http.StatusNotFound)
	client := newTestClient(srv)

	eps, err := client.ResolveEndpoints(context.Background(), issuer, manualSet(issuer), true)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v, manual fallback should succeed", err)
	}
	if eps.Source != SourceManual {
		t.Errorf("Source = %q, want manual", eps.Source)
	}
	if eps.TokenEndpoint != issuer+"/manual/token" {
		t.Errorf("TokenEndpoint = %q", eps.TokenEndpoint)
	}
}

func TestClient_ResolveEndpoints_DiscoveryFailureNoManual(t *testing.T) {
	srv, issuer := discoveryServer(t, http.StatusNotFound)
	client := newTestClient(srv)

	_, err := client.ResolveEndpoints(context.Background(), issuer, nil, true)
	if err == nil {
		t.Fatal("ResolveEndpoints() should fail without a manual fallback")
	}
	if !strings.Contains(err.Error(), "no manual endpoints") {
		t.Errorf("error = %v, should explain the missing fallback", err)
	}
}

func TestClient_ResolveEndpoints_BothSourcesFail(t *testing.T) {
	srv, issuer := discoveryServer(t, http.StatusNotFound)
	client := newTestClient(srv)

	// Loopback token endpoint fails SSRF validation, so the fallback is
	// unusable too.
	bad := &ManualEndpoints{
		AuthorizationEndpoint: issuer + "/auth",
		TokenEndpoint:         "https://127.0.0.1/token",
	}
	_, err := client.ResolveEndpoints(context.Background(), issuer, bad, true)
	if err == nil {
		t.Fatal("ResolveEndpoints() should fail when both sources fail")
	}
	if !strings.Contains(err.Error(), "manual endpoint fallback also failed") {
		t.Errorf("error = %v, should carry both failures", err)
	}
}

func TestClient_ResolveEndpoints_ManualPreferred(t *testing.T) {
	srv, issuer := discoveryServer(t, 0)
	client := newTestClient(srv)

	eps, err := client.ResolveEndpoints(context.Background(), issuer, manualSet(issuer), false)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v", err)
	}
	if eps.Source != SourceManual {
		t.Errorf("Source = %q, want manual when discovery is not preferred", eps.Source)
	}
}

func TestClient_ResolveEndpoints_ManualPreferredFallsBackToDiscovery(t *testing.T) {
	srv, issuer := discoveryServer(t, 0)
	client := newTestClient(srv)

	bad := &ManualEndpoints{
		AuthorizationEndpoint: issuer + "/auth",
		TokenEndpoint:         "https://169.254.169.254/token",
	}
	eps, err := client.ResolveEndpoints(context.Background(), issuer, bad, false)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v, discovery fallback should succeed", err)
	}
	if eps.Source != SourceDiscovery {
		t.Errorf("Source = %q, want discovery", eps.Source)
	}
}

func TestClient_ResolveEndpoints_ManualWithoutJWKSWarns(t *testing.T) {
	srv, issuer := discoveryServer(t, http.StatusNotFound)
	client := newTestClient(srv)

	eps, err := client.ResolveEndpoints(context.Background(), issuer, manualSet(issuer), true)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v", err)
	}
	found := false
	for _, w := range eps.Warnings {
		if w == warnNoJWKS {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, a manual set without jwks_uri should warn", eps.Warnings)
	}
}
