// Package oidc resolves and verifies OpenID Connect provider endpoints for
// organization federation.
//
// The Client turns an issuer URL into a validated endpoint set, either
// through the provider's discovery document or through administrator-supplied
// manual endpoints, with a TTL cache in front and retry plus circuit-breaker
// protection behind. The Verifier validates ID tokens against the provider's
// published signing keys.
//
// # Security Features
//
//   - SSRF protection for the issuer, the discovery URL, and every endpoint
//     in the document, applied immediately before each use
//   - Issuer binding: documents declaring a different issuer are rejected
//   - Response size caps and content-type enforcement on discovery fetches
//   - Nonce-bound ID token verification
//
// # Example Usage
//
//	// Create discovery client
//	client := oidc.NewClient(oidc.ClientConfig{Production: true})
//
//	// Resolve endpoints (discovery preferred, manual fallback)
//	eps, err := client.ResolveEndpoints(ctx, cfg.IssuerURL, cfg.ManualEndpoints, cfg.AutoDiscovery)
//	if err != nil {
//	    return err
//	}
//
//	// Use resolved endpoints
//	config := &oauth2.Config{
//	    Endpoint: oauth2.Endpoint{
//	        AuthURL:  eps.AuthorizationEndpoint,
//	        TokenURL: eps.TokenEndpoint,
//	    },
//	}
package oidc
