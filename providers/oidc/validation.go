package oidc

import (
	"fmt"
	"slices"

	"github.com/doorpasses/enterprise-sso/security"
)

// Warning strings surfaced on Endpoints.Warnings. They are stable values so
// operators can alert on them.
const (
	warnNoJWKS          = "jwks_uri is absent; ID token signatures cannot be verified against published keys"
	warnNoCodeResponse  = "provider does not advertise the code response type"
	warnNoAuthCodeGrant = "provider does not advertise the authorization_code grant"
	warnNoS256          = "provider does not advertise S256 PKCE support"
)

// ValidateDocument validates a discovery document against the issuer it was
// fetched for. It returns advisory warnings alongside hard failures: a
// warning never fails the resolution, only degrades it (for example a
// missing jwks_uri downgrades ID token verification).
//
// Hard failures:
//   - issuer mismatch with the requested issuer
//   - missing authorization_endpoint or token_endpoint
//   - any endpoint URL that fails SSRF validation
//
// Security Considerations:
//   - Issuer Binding: a document declaring a different issuer is rejected
//     even if every URL inside it is otherwise valid, so a compromised host
//     cannot impersonate another tenant's provider
//   - Endpoint Validation: every URL in the document is SSRF-checked before
//     it can ever be dereferenced
func ValidateDocument(doc *DiscoveryDocument, expectedIssuer string, urlOpts security.URLOptions) ([]string, error) {
	if doc.Issuer == "" {
		return nil, fmt.Errorf("issuer is required but missing")
	}

	// SECURITY: Exact match. Normalization happened before the fetch, so any
	// difference here means the document describes a different provider.
	if doc.Issuer != expectedIssuer {
		return nil, fmt.Errorf("issuer mismatch: document declares %q, expected %q", doc.Issuer, expectedIssuer)
	}

	endpoints := []struct {
		name     string
		url      string
		required bool
	}{
		{"authorization_endpoint", doc.AuthorizationEndpoint, true},
		{"token_endpoint", doc.TokenEndpoint, true},
		{"userinfo_endpoint", doc.UserInfoEndpoint, false},
		{"revocation_endpoint", doc.RevocationEndpoint, false},
		{"jwks_uri", doc.JWKSUri, false},
	}

	for _, endpoint := range endpoints {
		if endpoint.url == "" {
			if endpoint.required {
				return nil, fmt.Errorf("%s is required but missing", endpoint.name)
			}
			continue
		}
		if err := security.ValidateURL(endpoint.url, urlOpts); err != nil {
			return nil, fmt.Errorf("%s rejected: %w", endpoint.name, err)
		}
	}

	var warnings []string
	if doc.JWKSUri == "" {
		warnings = append(warnings, warnNoJWKS)
	}
	if !slices.Contains(doc.ResponseTypesSupported, "code") {
		warnings = append(warnings, warnNoCodeResponse)
	}
	// An absent grant_types_supported defaults to authorization_code per
	// OIDC Discovery 1.0 section 3, so only a present list can contradict it.
	if len(doc.GrantTypesSupported) > 0 && !slices.Contains(doc.GrantTypesSupported, "authorization_code") {
		warnings = append(warnings, warnNoAuthCodeGrant)
	}
	if !slices.Contains(doc.CodeChallengeMethodsSupported, "S256") {
		warnings = append(warnings, warnNoS256)
	}

	return warnings, nil
}

// ValidateManualEndpoints applies the discovery document rules to an
// administrator-supplied endpoint set: authorization and token endpoints are
// required, every URL present must pass SSRF validation. A partial set is
// invalid; there is no implicit completion from other sources.
//
// Example:
//
//	err := oidc.ValidateManualEndpoints(cfg.ManualEndpoints, security.URLOptions{})
//	if err != nil {
//	    return fmt.Errorf("manual endpoints rejected: %w", err)
//	}
func ValidateManualEndpoints(eps ManualEndpoints, urlOpts security.URLOptions) error {
	endpoints := []struct {
		name     string
		url      string
		required bool
	}{
		{"authorization_endpoint", eps.AuthorizationEndpoint, true},
		{"token_endpoint", eps.TokenEndpoint, true},
		{"userinfo_endpoint", eps.UserInfoEndpoint, false},
		{"revocation_endpoint", eps.RevocationEndpoint, false},
		{"jwks_uri", eps.JWKSURI, false},
	}

	for _, endpoint := range endpoints {
		if endpoint.url == "" {
			if endpoint.required {
				return fmt.Errorf("manual endpoints: %s is required but missing", endpoint.name)
			}
			continue
		}
		if err := security.ValidateURL(endpoint.url, urlOpts); err != nil {
			return fmt.Errorf("manual endpoints: %s rejected: %w", endpoint.name, err)
		}
	}

	return nil
}
