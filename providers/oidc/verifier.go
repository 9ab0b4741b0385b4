package oidc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/doorpasses/enterprise-sso/security"
)

// Claims carries the verified ID token claims used for session correlation.
type Claims struct {
	// Issuer is the token's iss claim.
	Issuer string
	// Subject is the provider's stable identifier for the user (sub claim).
	Subject string
	// Audience lists the aud claim entries.
	Audience []string
	// Expiry is the exp claim.
	Expiry time.Time
	// IssuedAt is the iat claim.
	IssuedAt time.Time
	// Nonce is the nonce claim, bound to the login attempt.
	Nonce string
	// Raw contains every claim from the token payload, for attribute
	// mapping.
	Raw map[string]any
}

// VerifyOptions binds one verification to its login context.
type VerifyOptions struct {
	// Issuer is the expected issuer (normalized).
	Issuer string
	// ClientID is the expected audience.
	ClientID string
	// JWKSURI locates the provider's signing keys. Empty downgrades
	// verification to claim-shape checks only.
	JWKSURI string
	// Nonce is the value generated for this login attempt. Empty skips the
	// nonce check.
	Nonce string
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// HTTPClient fetches JWKS documents (default: 10s timeout client).
	HTTPClient *http.Client
	// Production tightens URL validation for the jwks_uri.
	Production bool
	// Logger receives verification warnings (default slog.Default).
	Logger *slog.Logger
}

// Verifier validates provider ID tokens against the provider's published
// signing keys. Remote key sets are cached per jwks_uri so signing keys are
// fetched once and refreshed only on unknown key IDs, not on every login.
//
// The verifier is safe for concurrent use.
type Verifier struct {
	httpClient *http.Client
	production bool
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	keySets map[string]gooidc.KeySet
}

// NewVerifier creates an ID token verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Verifier{
		httpClient: cfg.HTTPClient,
		production: cfg.Production,
		logger:     cfg.Logger,
		now:        time.Now,
		keySets:    make(map[string]gooidc.KeySet),
	}
}

// VerifyIDToken verifies an ID token's signature, issuer, audience, and
// expiry, then checks the nonce against the login attempt that requested it.
//
// When opts.JWKSURI is empty the provider publishes no signing keys and the
// signature check is skipped; issuer, audience, expiry, and nonce are still
// enforced so a malformed or replayed token cannot establish a session. The
// downgrade is logged every time it happens.
//
// Example:
//
//	claims, err := verifier.VerifyIDToken(ctx, tokenResponse.IDToken, oidc.VerifyOptions{
//	    Issuer:   eps.Issuer,
//	    ClientID: cfg.ClientID,
//	    JWKSURI:  eps.JWKSURI,
//	    Nonce:    loginState.Nonce,
//	})
func (v *Verifier) VerifyIDToken(ctx context.Context, rawIDToken string, opts VerifyOptions) (*Claims, error) {
	if rawIDToken == "" {
		return nil, ErrIDTokenMissing
	}

	cfg := &gooidc.Config{
		ClientID: opts.ClientID,
		Now:      v.now,
	}

	var keySet gooidc.KeySet
	if opts.JWKSURI == "" {
		cfg.InsecureSkipSignatureCheck = true
		v.logger.Warn("Verifying ID token without signature check, provider publishes no jwks_uri",
			"issuer", opts.Issuer)
	} else {
		// SECURITY: The jwks_uri is dereferenced by the key set; validate it
		// immediately before use like every other outbound URL.
		if err := security.ValidateURL(opts.JWKSURI, endpointURLOptions(v.production)); err != nil {
			return nil, fmt.Errorf("jwks_uri rejected: %w", err)
		}
		keySet = v.keySet(opts.JWKSURI)
	}

	idToken, err := gooidc.NewVerifier(opts.Issuer, keySet, cfg).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id token verification failed: %w", err)
	}

	// Nonce binding prevents replay: the token must have been minted for
	// this exact login attempt.
	if opts.Nonce != "" {
		if idToken.Nonce == "" {
			return nil, ErrNonceMissing
		}
		if idToken.Nonce != opts.Nonce {
			return nil, ErrNonceMismatch
		}
	}

	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode id token claims: %w", err)
	}

	return &Claims{
		Issuer:   idToken.Issuer,
		Subject:  idToken.Subject,
		Audience: append([]string(nil), idToken.Audience...),
		Expiry:   idToken.Expiry,
		IssuedAt: idToken.IssuedAt,
		Nonce:    idToken.Nonce,
		Raw:      raw,
	}, nil
}

// keySet returns the cached remote key set for a jwks_uri, creating it on
// first use. The key set outlives any single request, so it is constructed
// over a background context carrying the verifier's HTTP client; the
// per-call context still bounds each verification's fetch.
func (v *Verifier) keySet(jwksURI string) gooidc.KeySet {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ks, ok := v.keySets[jwksURI]; ok {
		return ks
	}
	ctx := gooidc.ClientContext(context.Background(), v.httpClient)
	ks := gooidc.NewRemoteKeySet(ctx, jwksURI)
	v.keySets[jwksURI] = ks
	return ks
}
