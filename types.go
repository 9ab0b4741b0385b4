package sso

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/security"
)

// Attribute mapping limits. Mappings are administrator-supplied JSON and are
// treated as untrusted input at the validation boundary.
const (
	MaxAttributeMappingEntries = 20
	MaxAttributeKeyLength      = 64
	MaxAttributeValueLength    = 256
)

var attributeCharset = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)

// Configuration is one organization's federation setup: which identity
// provider to delegate authentication to and how. Records are persisted by
// an external collaborator (the ConfigStore); the broker validates them at
// this trust boundary before any value reaches a network call.
type Configuration struct {
	// ID uniquely identifies this configuration.
	ID string `json:"id"`

	// OrgID is the organization this configuration belongs to.
	OrgID string `json:"org_id"`

	// ProviderName is the administrator-facing display name ("Okta", "Entra ID").
	ProviderName string `json:"provider_name"`

	// IssuerURL is the provider's OIDC issuer identifier.
	IssuerURL string `json:"issuer_url"`

	// ClientID and ClientSecret are the relying-party credentials registered
	// with the provider.
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`

	// Scopes is the space-delimited scope list sent on authorization
	// requests. It must include "openid".
	Scopes string `json:"scopes"`

	// AutoDiscovery resolves endpoints from the provider's discovery
	// document. When false, ManualEndpoints is the preferred source.
	AutoDiscovery bool `json:"auto_discovery"`

	// PKCEEnabled sends an S256 code challenge with authorization requests.
	PKCEEnabled bool `json:"pkce_enabled"`

	// AutoProvision creates local accounts for unknown federated subjects.
	// Consumed by the caller's provisioning layer, validated here.
	AutoProvision bool `json:"auto_provision"`

	// Enabled gates the whole configuration. Disabled configurations behave
	// as if no federation is set up.
	Enabled bool `json:"enabled"`

	// ManualEndpoints is an optional administrator-supplied endpoint set for
	// providers without discovery support. Partial sets are invalid.
	ManualEndpoints *oidc.ManualEndpoints `json:"manual_endpoints,omitempty"`

	// AttributeMapping maps ID token claim names to local identity attribute
	// names, e.g. {"department": "dept"}.
	AttributeMapping map[string]string `json:"attribute_mapping,omitempty"`

	// CreatedAt and UpdatedAt are maintained by the configuration store.
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks the configuration against the input schema before it is
// trusted: issuer URL policy, credential presence, scope requirements, and
// attribute-mapping shape. production selects the strict URL rules.
//
// Example:
//
//	if err := cfg.Validate(true); err != nil {
//	    return sso.ErrInvalidConfiguration(err.Error())
//	}
func (c *Configuration) Validate(production bool) error {
	if strings.TrimSpace(c.ProviderName) == "" {
		return fmt.Errorf("provider name is required")
	}
	if c.OrgID == "" {
		return fmt.Errorf("organization ID is required")
	}

	if err := security.ValidateIssuerURL(c.IssuerURL, production); err != nil {
		return fmt.Errorf("issuer URL: %w", err)
	}

	if c.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client secret is required")
	}

	if err := validateScopes(c.Scopes); err != nil {
		return err
	}

	// A manual endpoint set, when present, must be complete and valid on its
	// own; it cannot be patched up later by discovery results.
	if c.ManualEndpoints != nil && !c.ManualEndpoints.IsZero() {
		opts := security.URLOptions{}
		if !production {
			opts = security.URLOptions{AllowHTTP: true, AllowLoopback: true, AllowPrivateIPs: true}
		}
		if err := oidc.ValidateManualEndpoints(*c.ManualEndpoints, opts); err != nil {
			return err
		}
	}

	if !c.AutoDiscovery && (c.ManualEndpoints == nil || c.ManualEndpoints.IsZero()) {
		return fmt.Errorf("manual endpoints are required when auto-discovery is disabled")
	}

	return validateAttributeMapping(c.AttributeMapping)
}

// ScopeList splits the space-delimited scope string, dropping empty entries.
func (c *Configuration) ScopeList() []string {
	fields := strings.Fields(c.Scopes)
	if len(fields) == 0 {
		return []string{"openid"}
	}
	return fields
}

// MapAttributes projects verified token claims through the configured
// attribute mapping. Only string-valued claims are mapped; anything else is
// skipped rather than coerced, so downstream consumers see exactly what the
// provider asserted.
func (c *Configuration) MapAttributes(claims map[string]any) map[string]string {
	if len(c.AttributeMapping) == 0 || len(claims) == 0 {
		return nil
	}
	mapped := make(map[string]string)
	for claim, attribute := range c.AttributeMapping {
		value, ok := claims[claim]
		if !ok {
			continue
		}
		if s, ok := value.(string); ok {
			mapped[attribute] = s
		}
	}
	if len(mapped) == 0 {
		return nil
	}
	return mapped
}

func validateScopes(scopes string) error {
	fields := strings.Fields(scopes)
	if len(fields) == 0 {
		return fmt.Errorf("scopes are required and must include %q", "openid")
	}
	hasOpenID := false
	for _, scope := range fields {
		if !attributeCharset.MatchString(scope) {
			return fmt.Errorf("scope %q contains invalid characters", scope)
		}
		if scope == "openid" {
			hasOpenID = true
		}
	}
	if !hasOpenID {
		return fmt.Errorf("scopes must include %q", "openid")
	}
	return nil
}

func validateAttributeMapping(mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	if len(mapping) > MaxAttributeMappingEntries {
		return fmt.Errorf("attribute mapping has %d entries, maximum is %d", len(mapping), MaxAttributeMappingEntries)
	}
	for key, value := range mapping {
		if len(key) == 0 || len(key) > MaxAttributeKeyLength {
			return fmt.Errorf("attribute mapping key %q must be 1-%d characters", key, MaxAttributeKeyLength)
		}
		if len(value) == 0 || len(value) > MaxAttributeValueLength {
			return fmt.Errorf("attribute mapping value for %q must be 1-%d characters", key, MaxAttributeValueLength)
		}
		if !attributeCharset.MatchString(key) {
			return fmt.Errorf("attribute mapping key %q contains invalid characters", key)
		}
		if !attributeCharset.MatchString(value) {
			return fmt.Errorf("attribute mapping value for %q contains invalid characters", key)
		}
	}
	return nil
}
