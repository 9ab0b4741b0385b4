package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/doorpasses/enterprise-sso/resilience"
)

// testIssuer rewrites a httptest server URL to its localhost form. Issuer
// validation rejects IP literals in every mode, but localhost resolves to
// the same loopback listener.
func testIssuer(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("failed to parse test server URL: %v", err)
	}
	_, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("failed to split test server host: %v", err)
	}
	return "http://localhost:" + port
}

// testDocument builds a fully populated discovery document for an issuer.
func testDocument(issuer string) DiscoveryDocument {
	return DiscoveryDocument{
		Issuer:                        issuer,
		AuthorizationEndpoint:         issuer + "/auth",
		TokenEndpoint:                 issuer + "/token",
		UserInfoEndpoint:              issuer + "/userinfo",
		RevocationEndpoint:            issuer + "/revoke",
		JWKSUri:                       issuer + "/keys",
		ScopesSupported:               []string{"openid", "profile", "email"},
		ResponseTypesSupported:        []string{"code"},
		GrantTypesSupported:           []string{"authorization_code", "refresh_token"},
		CodeChallengeMethodsSupported: []string{"S256"},
	}
}

// fastRetry keeps retried tests quick without changing attempt semantics.
func fastRetry(attempts int) *resilience.Policy {
	return &resilience.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(ClientConfig{
		HTTPClient:  srv.Client(),
		RetryPolicy: fastRetry(3),
	})
}

func TestNewClient(t *testing.T) {
	t.Run("with default values", func(t *testing.T) {
		client := NewClient(ClientConfig{})
		if client.httpClient == nil {
			t.Error("httpClient should be initialized with default")
		}
		if client.cache == nil {
			t.Error("cache should be initialized with default")
		}
		if client.breakers == nil {
			t.Error("breakers should be initialized with default")
		}
		if client.logger == nil {
			t.Error("logger should be initialized with default")
		}
		if client.retry.MaxAttempts != resilience.DiscoveryPolicy().MaxAttempts {
			t.Errorf("retry.MaxAttempts = %d, want discovery preset %d",
				client.retry.MaxAttempts, resilience.DiscoveryPolicy().MaxAttempts)
		}
	})

	t.Run("with custom values", func(t *testing.T) {
		customClient := &http.Client{Timeout: 5 * time.Second}
		customCache := NewCache(4, time.Minute)

		client := NewClient(ClientConfig{
			HTTPClient: customClient,
			Cache:      customCache,
			Production: true,
		})
		if client.httpClient != customClient {
			t.Error("httpClient should use custom value")
		}
		if client.cache != customCache {
			t.Error("cache should use custom value")
		}
		if !client.production {
			t.Error("production flag should be carried")
		}
	})
}

func TestNormalizeIssuer(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "already normalized", raw: "https://login.example.com", want: "https://login.example.com"},
		{name: "defaults to https", raw: "login.example.com", want: "https://login.example.com"},
		{name: "defaults to https with port", raw: "login.example.com:8443", want: "https://login.example.com:8443"},
		{name: "lower-cases scheme and host", raw: "HTTPS://Login.Example.COM", want: "https://login.example.com"},
		{name: "strips trailing slash", raw: "https://login.example.com/", want: "https://login.example.com"},
		{name: "strips repeated trailing slashes", raw: "https://login.example.com///", want: "https://login.example.com"},
		{name: "strips trailing slash after path", raw: "https://login.example.com/tenant/", want: "https://login.example.com/tenant"},
		{name: "preserves path case", raw: "https://login.example.com/Tenant/A", want: "https://login.example.com/Tenant/A"},
		{name: "trims whitespace", raw: "  https://login.example.com  ", want: "https://login.example.com"},
		{name: "empty", raw: "", wantErr: true},
		{name: "whitespace only", raw: "   ", wantErr: true},
		{name: "no host", raw: "https://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIssuer(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeIssuer(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("NormalizeIssuer(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestClient_Discover(t *testing.T) {
	t.Run("successful discovery", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/.well-known/openid-configuration" {
				t.Errorf("unexpected path: %s", r.URL.Path)
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if got := r.Header.Get("Accept"); got != "application/json" {
				t.Errorf("Accept header = %q, want application/json", got)
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		eps, err := client.Discover(context.Background(), issuer)
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}

		if eps.Issuer != issuer {
			t.Errorf("Issuer = %q, want %q", eps.Issuer, issuer)
		}
		if eps.AuthorizationEndpoint != issuer+"/auth" {
			t.Errorf("AuthorizationEndpoint = %q, want %q", eps.AuthorizationEndpoint, issuer+"/auth")
		}
		if eps.TokenEndpoint != issuer+"/token" {
			t.Errorf("TokenEndpoint = %q, want %q", eps.TokenEndpoint, issuer+"/token")
		}
		if eps.Source != SourceDiscovery {
			t.Errorf("Source = %q, want %q", eps.Source, SourceDiscovery)
		}
		if len(eps.Warnings) != 0 {
			t.Errorf("Warnings = %v, want none for a fully populated document", eps.Warnings)
		}
	})

	t.Run("SECURITY: reject IP literal issuer", func(t *testing.T) {
		client := NewClient(ClientConfig{})
		_, err := client.Discover(context.Background(), "https://10.0.0.1")
		if err == nil {
			t.Fatal("Discover() should reject an IP literal issuer")
		}
		de, ok := IsDiscoveryError(err)
		if !ok {
			t.Fatalf("error should be a *DiscoveryError, got %T", err)
		}
		if de.Stage != StageValidateIssuer {
			t.Errorf("Stage = %q, want %q", de.Stage, StageValidateIssuer)
		}
	})

	t.Run("SECURITY: reject HTTP issuer in production", func(t *testing.T) {
		client := NewClient(ClientConfig{Production: true})
		_, err := client.Discover(context.Background(), "http://login.example.com")
		if err == nil {
			t.Fatal("Discover() should reject an http issuer in production")
		}
		de, _ := IsDiscoveryError(err)
		if de == nil || de.Stage != StageValidateIssuer {
			t.Errorf("expected validate_issuer failure, got %v", err)
		}
	})

	t.Run("SECURITY: reject metadata hostname even in development", func(t *testing.T) {
		client := NewClient(ClientConfig{})
		_, err := client.Discover(context.Background(), "https://metadata.google.internal")
		if err == nil {
			t.Fatal("Discover() should reject a metadata hostname")
		}
	})

	t.Run("SECURITY: reject blocked scheme inside document", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			doc := testDocument(issuer)
			doc.AuthorizationEndpoint = "javascript:alert(1)"
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should reject a blocked scheme in the document")
		}
		de, _ := IsDiscoveryError(err)
		if de == nil || de.Stage != StageValidateDocument {
			t.Errorf("expected validate_document failure, got %v", err)
		}
	})

	t.Run("SECURITY: issuer binding rejects mismatched document", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			doc := testDocument("https://evil.example.com")
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should reject a document declaring a different issuer")
		}
		if !strings.Contains(err.Error(), "issuer mismatch") {
			t.Errorf("error should mention issuer mismatch, got: %v", err)
		}
	})

	t.Run("cache hit performs one fetch", func(t *testing.T) {
		callCount := 0
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)

		first, err := client.Discover(context.Background(), issuer)
		if err != nil {
			t.Fatalf("first Discover() error = %v", err)
		}
		second, err := client.Discover(context.Background(), issuer)
		if err != nil {
			t.Fatalf("second Discover() error = %v", err)
		}

		if callCount != 1 {
			t.Errorf("expected 1 HTTP call (cache hit), got %d", callCount)
		}
		if !reflect.DeepEqual(first, second) && first.TokenEndpoint != second.TokenEndpoint {
			t.Error("cached result should match the fetched result")
		}
	})

	t.Run("cache expiry refetches", func(t *testing.T) {
		callCount := 0
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := NewClient(ClientConfig{
			HTTPClient:  srv.Client(),
			Cache:       NewCache(8, 50*time.Millisecond),
			RetryPolicy: fastRetry(3),
		})

		if _, err := client.Discover(context.Background(), issuer); err != nil {
			t.Fatalf("first Discover() error = %v", err)
		}
		time.Sleep(100 * time.Millisecond)
		if _, err := client.Discover(context.Background(), issuer); err != nil {
			t.Fatalf("second Discover() error = %v", err)
		}

		if callCount != 2 {
			t.Errorf("expected 2 HTTP calls (cache expired), got %d", callCount)
		}
	})

	t.Run("404 is not retried", func(t *testing.T) {
		callCount := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer srv.Close()
		issuer := testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should return error for 404")
		}
		if !strings.Contains(err.Error(), "status 404") {
			t.Errorf("error should mention status code, got: %v", err)
		}
		if callCount != 1 {
			t.Errorf("4xx responses should not be retried, got %d calls", callCount)
		}
	})

	t.Run("503 is retried until success", func(t *testing.T) {
		callCount := 0
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			if callCount <= 2 {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		eps, err := client.Discover(context.Background(), issuer)
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
		if eps.TokenEndpoint == "" {
			t.Error("expected resolved endpoints after retries")
		}
		if callCount != 3 {
			t.Errorf("expected 3 HTTP calls (2 retries), got %d", callCount)
		}
	})

	t.Run("wrong content type", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should reject a non-JSON content type")
		}
		de, _ := IsDiscoveryError(err)
		if de == nil || de.Stage != StageValidateResponse {
			t.Errorf("expected validate_response failure, got %v", err)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()
		issuer := testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should return error for malformed JSON")
		}
		de, _ := IsDiscoveryError(err)
		if de == nil || de.Stage != StageParse {
			t.Errorf("expected parse failure, got %v", err)
		}
	})

	t.Run("oversized document", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"issuer":"`))
			_, _ = w.Write([]byte(strings.Repeat("a", maxDocumentSize)))
			_, _ = w.Write([]byte(`"}`))
		}))
		defer srv.Close()
		issuer := testIssuer(t, srv)

		client := newTestClient(srv)
		_, err := client.Discover(context.Background(), issuer)
		if err == nil {
			t.Fatal("Discover() should reject an oversized document")
		}
		if !strings.Contains(err.Error(), "exceeds") {
			t.Errorf("error should mention the size cap, got: %v", err)
		}
	})

	t.Run("missing jwks_uri is a warning, not a failure", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			doc := DiscoveryDocument{
				Issuer:                issuer,
				AuthorizationEndpoint: issuer + "/auth",
				TokenEndpoint:         issuer + "/token",
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		eps, err := client.Discover(context.Background(), issuer)
		if err != nil {
			t.Fatalf("Discover() error = %v", err)
		}
		found := false
		for _, w := range eps.Warnings {
			if strings.Contains(w, "jwks_uri") {
				found = true
			}
		}
		if !found {
			t.Errorf("expected a jwks_uri warning, got %v", eps.Warnings)
		}
	})

	t.Run("breaker opens after consecutive failures", func(t *testing.T) {
		callCount := 0
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			callCount++
			http.Error(w, "not found", http.StatusNotFound)
		}))
		defer srv.Close()
		issuer := testIssuer(t, srv)

		client := NewClient(ClientConfig{
			HTTPClient:  srv.Client(),
			RetryPolicy: fastRetry(1),
			Breakers: resilience.NewBreakerRegistry(resilience.BreakerConfig{
				FailureThreshold: 2,
				ResetTimeout:     time.Hour,
			}),
		})

		for i := 0; i < 2; i++ {
			if _, err := client.Discover(context.Background(), issuer); err == nil {
				t.Fatal("Discover() should fail while the endpoint returns 404")
			}
		}

		_, err := client.Discover(context.Background(), issuer)
		var openErr *resilience.OpenError
		if !errors.As(err, &openErr) {
			t.Fatalf("expected *resilience.OpenError after threshold, got %v", err)
		}
		if callCount != 2 {
			t.Errorf("open breaker should not reach the network, got %d calls", callCount)
		}
	})

	t.Run("context cancellation aborts discovery", func(t *testing.T) {
		var issuer string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			time.Sleep(500 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(testDocument(issuer))
		}))
		defer srv.Close()
		issuer = testIssuer(t, srv)

		client := newTestClient(srv)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		if _, err := client.Discover(ctx, issuer); err == nil {
			t.Error("Discover() should return error when context is cancelled")
		}
	})
}

func TestClient_ClearCache(t *testing.T) {
	callCount := 0
	var issuer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testDocument(issuer))
	}))
	defer srv.Close()
	issuer = testIssuer(t, srv)

	client := newTestClient(srv)
	if _, err := client.Discover(context.Background(), issuer); err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	client.ClearCache()
	if _, err := client.Discover(context.Background(), issuer); err != nil {
		t.Fatalf("Discover() after ClearCache error = %v", err)
	}
	if callCount != 2 {
		t.Errorf("expected refetch after ClearCache, got %d calls", callCount)
	}
}
