package oidc

// EndpointSource records where a resolved endpoint set came from.
type EndpointSource string

const (
	// SourceDiscovery marks endpoints resolved from a provider's discovery
	// document.
	SourceDiscovery EndpointSource = "discovery"
	// SourceManual marks endpoints supplied by an administrator.
	SourceManual EndpointSource = "manual"
)

// Endpoints is a resolved provider endpoint set. It is an immutable snapshot:
// the resolver hands out copies, so callers may hold one across requests
// without synchronization.
type Endpoints struct {
	// Issuer is the normalized issuer identifier these endpoints belong to.
	Issuer string
	// AuthorizationEndpoint receives the user for login.
	AuthorizationEndpoint string
	// TokenEndpoint exchanges authorization codes and refresh tokens.
	TokenEndpoint string
	// UserInfoEndpoint serves identity claims for an access token (optional).
	UserInfoEndpoint string
	// RevocationEndpoint revokes tokens on logout (optional).
	RevocationEndpoint string
	// JWKSURI publishes the provider's signing keys (optional but expected;
	// absence is surfaced in Warnings).
	JWKSURI string

	// Source records whether discovery or manual configuration produced this
	// set.
	Source EndpointSource
	// Warnings carries non-fatal findings from document validation, such as
	// a missing jwks_uri or unadvertised PKCE support.
	Warnings []string
}

func (e *Endpoints) clone() *Endpoints {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Warnings = append([]string(nil), e.Warnings...)
	return &dup
}

// ManualEndpoints is an administrator-supplied endpoint set used when a
// provider does not support discovery or when discovery is deliberately
// bypassed. It must be validated with ValidateManualEndpoints before use.
type ManualEndpoints struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
}

// IsZero reports whether no endpoint at all has been supplied.
func (m ManualEndpoints) IsZero() bool {
	return m == ManualEndpoints{}
}

// endpoints converts a validated manual set into an Endpoints snapshot.
func (m ManualEndpoints) endpoints(issuer string) *Endpoints {
	eps := &Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: m.AuthorizationEndpoint,
		TokenEndpoint:         m.TokenEndpoint,
		UserInfoEndpoint:      m.UserInfoEndpoint,
		RevocationEndpoint:    m.RevocationEndpoint,
		JWKSURI:               m.JWKSURI,
		Source:                SourceManual,
	}
	if m.JWKSURI == "" {
		eps.Warnings = append(eps.Warnings, warnNoJWKS)
	}
	return eps
}
