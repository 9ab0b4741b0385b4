package sso

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/doorpasses/enterprise-sso/security"
	"github.com/doorpasses/enterprise-sso/storage"
)

// StartLoginRequest carries the parameters for initiating a federated login.
type StartLoginRequest struct {
	// OrgID selects which organization's configuration to use.
	OrgID string
	// UserID identifies the local user starting the login, when known. It
	// keys the authorization rate limit; anonymous logins fall back to the
	// client IP.
	UserID string
	// ClientIP is the requester's IP address for audit and rate limiting.
	ClientIP string
	// RedirectURI is the caller's callback URL registered with the provider.
	RedirectURI string
	// ReturnTo is an optional post-login redirect target. It must pass the
	// open-redirect check and is stored with the login state.
	ReturnTo string
}

// AuthorizationRedirect is the provider authorization URL the caller should
// redirect the browser to, plus the state that will come back on the callback.
type AuthorizationRedirect struct {
	// URL is the fully built provider authorization URL.
	URL string
	// State is the CSRF-binding value; the callback must present it.
	State string
	// ExpiresAt is when the login state (and thus the callback) expires.
	ExpiresAt time.Time
}

// StartLogin begins a federated login: it rate-limits the caller, resolves
// the organization's provider endpoints, generates the state, nonce, and PKCE
// parameters, persists the in-flight login state, and returns the provider
// authorization URL. The caller owns the actual browser redirect.
func (b *Broker) StartLogin(ctx context.Context, req StartLoginRequest) (*AuthorizationRedirect, error) {
	ctx, finish := b.startSpan(ctx, "start_login", req.ClientIP)
	redirect, err := b.startLogin(ctx, req)
	finish(err)
	return redirect, err
}

func (b *Broker) startLogin(ctx context.Context, req StartLoginRequest) (*AuthorizationRedirect, error) {
	if req.RedirectURI == "" {
		return nil, ErrInvalidConfiguration("redirect URI is required")
	}
	if err := b.admit(ctx, req.ClientIP); err != nil {
		return nil, err
	}

	limitKey := security.Key{Type: security.KeyTypeUser, Value: req.UserID}
	if req.UserID == "" {
		limitKey = security.Key{Type: security.KeyTypeIP, Value: req.ClientIP}
	}
	decision, err := b.limiter.Check(ctx, limitKey, b.config.RateLimit.Authorization)
	if err != nil {
		b.metrics.RecordRateLimitStoreFailure(ctx)
		return nil, classifyError(err, ErrServerError)
	}
	b.metrics.RecordRateLimitDecision(ctx, string(limitKey.Type), decision.Allowed)
	if !decision.Allowed {
		return nil, classifyError(&security.RateLimitError{Key: limitKey, ResetAt: decision.ResetAt}, ErrRateLimited)
	}

	cfg, err := b.configuration(ctx, req.OrgID)
	if err != nil {
		return nil, err
	}

	returnTo, err := b.validReturnTo(req.ReturnTo)
	if err != nil {
		return nil, err
	}

	eps, err := b.resolveEndpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}

	state := generateRandomToken()
	nonce := generateRandomToken()

	loginState := &storage.LoginState{
		State:     state,
		OrgID:     cfg.OrgID,
		ConfigID:  cfg.ID,
		Nonce:     nonce,
		ReturnTo:  returnTo,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(b.config.Sessions.LoginStateTTL),
	}

	authOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
	}
	if cfg.PKCEEnabled {
		verifier := newPKCEVerifier()
		loginState.CodeVerifier = verifier
		authOpts = append(authOpts, oauth2.S256ChallengeOption(verifier))
	}

	if err := b.loginStates.SaveLoginState(ctx, loginState); err != nil {
		fe := ErrServerError("failed to persist login state")
		fe.Err = err
		return nil, fe
	}

	oc := oauth2Config(cfg, eps, req.RedirectURI)
	authURL := oc.AuthCodeURL(state, authOpts...)

	b.metrics.RecordLoginStarted(ctx, cfg.OrgID)
	b.auditor.LogLoginStarted(cfg.OrgID, req.UserID, req.ClientIP, eps.Issuer)
	b.logger.Info("Federated login started",
		"org_id", cfg.OrgID,
		"issuer", eps.Issuer,
		"source", string(eps.Source),
		"pkce", cfg.PKCEEnabled)

	return &AuthorizationRedirect{
		URL:       authURL,
		State:     state,
		ExpiresAt: loginState.ExpiresAt,
	}, nil
}
