package sso

import (
	"strings"
	"testing"

	"github.com/doorpasses/enterprise-sso/providers/oidc"
)

func validTestConfiguration() *Configuration {
	return &Configuration{
		ID:            "cfg-1",
		OrgID:         "org-1",
		ProviderName:  "Okta",
		IssuerURL:     "https://login.example.com",
		ClientID:      "client-id",
		ClientSecret:  "client-secret",
		Scopes:        "openid profile email",
		AutoDiscovery: true,
		Enabled:       true,
	}
}

func TestConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Configuration)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *Configuration) {},
		},
		{
			name:    "missing provider name",
			mutate:  func(c *Configuration) { c.ProviderName = " " },
			wantErr: "provider name",
		},
		{
			name:    "missing org",
			mutate:  func(c *Configuration) { c.OrgID = "" },
			wantErr: "organization ID",
		},
		{
			name:    "http issuer in production",
			mutate:  func(c *Configuration) { c.IssuerURL = "http://login.example.com" },
			wantErr: "issuer URL",
		},
		{
			name:    "issuer with internal host",
			mutate:  func(c *Configuration) { c.IssuerURL = "https://idp.corp.internal" },
			wantErr: "issuer URL",
		},
		{
			name:    "missing client id",
			mutate:  func(c *Configuration) { c.ClientID = "" },
			wantErr: "client ID",
		},
		{
			name:    "missing client secret",
			mutate:  func(c *Configuration) { c.ClientSecret = "" },
			wantErr: "client secret",
		},
		{
			name:    "missing openid scope",
			mutate:  func(c *Configuration) { c.Scopes = "profile email" },
			wantErr: "openid",
		},
		{
			name:    "empty scopes",
			mutate:  func(c *Configuration) { c.Scopes = "" },
			wantErr: "scopes are required",
		},
		{
			name: "partial manual endpoints",
			mutate: func(c *Configuration) {
				c.ManualEndpoints = &oidc.ManualEndpoints{
					AuthorizationEndpoint: "https://login.example.com/authorize",
				}
			},
			wantErr: "token",
		},
		{
			name: "manual endpoints required without discovery",
			mutate: func(c *Configuration) {
				c.AutoDiscovery = false
			},
			wantErr: "manual endpoints are required",
		},
		{
			name: "complete manual endpoints without discovery",
			mutate: func(c *Configuration) {
				c.AutoDiscovery = false
				c.ManualEndpoints = &oidc.ManualEndpoints{
					AuthorizationEndpoint: "https://login.example.com/authorize",
					TokenEndpoint:         "https://login.example.com/token",
				}
			},
		},
		{
			name: "oversized attribute mapping",
			mutate: func(c *Configuration) {
				mapping := make(map[string]string)
				for i := 0; i < MaxAttributeMappingEntries+1; i++ {
					mapping[strings.Repeat("k", i+1)] = "v"
				}
				c.AttributeMapping = mapping
			},
			wantErr: "attribute mapping",
		},
		{
			name: "attribute key with invalid characters",
			mutate: func(c *Configuration) {
				c.AttributeMapping = map[string]string{"bad key!": "dept"}
			},
			wantErr: "invalid characters",
		},
		{
			name: "attribute value too long",
			mutate: func(c *Configuration) {
				c.AttributeMapping = map[string]string{"department": strings.Repeat("v", MaxAttributeValueLength+1)}
			},
			wantErr: "attribute mapping value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfiguration()
			tt.mutate(cfg)

			err := cfg.Validate(true)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfiguration_Validate_DevelopmentRelaxed(t *testing.T) {
	cfg := validTestConfiguration()
	cfg.IssuerURL = "http://localhost:5556/dex"

	if err := cfg.Validate(false); err != nil {
		t.Errorf("Validate(false) error = %v, localhost issuer should pass in development", err)
	}
	if err := cfg.Validate(true); err == nil {
		t.Error("Validate(true) should reject a localhost issuer")
	}
}

func TestConfiguration_ScopeList(t *testing.T) {
	tests := []struct {
		name   string
		scopes string
		want   []string
	}{
		{"normal", "openid profile email", []string{"openid", "profile", "email"}},
		{"extra whitespace", "  openid   profile  ", []string{"openid", "profile"}},
		{"empty defaults to openid", "", []string{"openid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Configuration{Scopes: tt.scopes}
			got := cfg.ScopeList()
			if len(got) != len(tt.want) {
				t.Fatalf("ScopeList() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("ScopeList() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestConfiguration_MapAttributes(t *testing.T) {
	cfg := &Configuration{
		AttributeMapping: map[string]string{
			"department": "dept",
			"team":       "team",
		},
	}

	claims := map[string]any{
		"department": "engineering",
		"team":       42, // non-string claims are skipped, not coerced
		"email":      "user@example.com",
	}

	got := cfg.MapAttributes(claims)
	if len(got) != 1 {
		t.Fatalf("MapAttributes() = %v, want exactly the string-valued mapped claim", got)
	}
	if got["dept"] != "engineering" {
		t.Errorf("dept = %q, want engineering", got["dept"])
	}
}

func TestConfiguration_MapAttributes_Empty(t *testing.T) {
	cfg := &Configuration{}
	if got := cfg.MapAttributes(map[string]any{"sub": "x"}); got != nil {
		t.Errorf("MapAttributes() without mapping = %v, want nil", got)
	}

	cfg.AttributeMapping = map[string]string{"department": "dept"}
	if got := cfg.MapAttributes(nil); got != nil {
		t.Errorf("MapAttributes(nil) = %v, want nil", got)
	}
}
