package sso

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
	"github.com/doorpasses/enterprise-sso/storage"
)

// ExchangeRequest carries the provider callback parameters.
type ExchangeRequest struct {
	// State is the state parameter returned by the provider.
	State string
	// Code is the single-use authorization code.
	Code string
	// ClientIP is the requester's IP address; it keys the exchange rate limit.
	ClientIP string
	// RedirectURI must match the one sent on the authorization request.
	RedirectURI string
	// SessionID is the local session to bind the login to. Empty generates
	// a new session ID.
	SessionID string
}

// LoginResult is a completed federated login.
type LoginResult struct {
	// SessionID is the local session the SSO session record is bound to.
	SessionID string
	// OrgID and ConfigID identify the configuration that served the login.
	OrgID    string
	ConfigID string
	// Subject is the provider's stable user identifier.
	Subject string
	// Attributes holds claims projected through the attribute mapping.
	Attributes map[string]string
	// ReturnTo is the validated post-login redirect target from StartLogin.
	ReturnTo string
	// TokenExpiry is when the provider access token expires.
	TokenExpiry time.Time
}

// ExchangeCode completes a federated login from the provider callback. The
// state is consumed atomically so a replayed callback fails closed, the code
// is exchanged against the resolved token endpoint, and the ID token is
// verified (signature, issuer, audience, nonce) before any claim is trusted.
//
// The exchange retries only connection-establishment failures. Once the
// request may have reached the provider the single-use code is treated as
// spent; a retry would be rejected and could mask a code-replay attack.
func (b *Broker) ExchangeCode(ctx context.Context, req ExchangeRequest) (*LoginResult, error) {
	ctx, finish := b.startSpan(ctx, "exchange_code", req.ClientIP)
	result, err := b.exchangeCode(ctx, req)
	finish(err)
	return result, err
}

func (b *Broker) exchangeCode(ctx context.Context, req ExchangeRequest) (*LoginResult, error) {
	if req.State == "" || req.Code == "" {
		return nil, ErrInvalidCallback("state and code are required")
	}
	if err := b.admit(ctx, req.ClientIP); err != nil {
		return nil, err
	}

	limitKey := security.Key{Type: security.KeyTypeIP, Value: req.ClientIP}
	decision, err := b.limiter.Check(ctx, limitKey, b.config.RateLimit.TokenExchange)
	if err != nil {
		b.metrics.RecordRateLimitStoreFailure(ctx)
		return nil, classifyError(err, ErrServerError)
	}
	b.metrics.RecordRateLimitDecision(ctx, string(limitKey.Type), decision.Allowed)
	if !decision.Allowed {
		return nil, classifyError(&security.RateLimitError{Key: limitKey, ResetAt: decision.ResetAt}, ErrRateLimited)
	}

	loginState, err := b.loginStates.AtomicGetAndDeleteLoginState(ctx, req.State)
	if err != nil {
		if errors.Is(err, storage.ErrLoginStateNotFound) {
			b.auditor.LogCallbackReplayed("", req.ClientIP)
			return nil, ErrInvalidCallback("unknown, expired, or already used state")
		}
		fe := ErrServerError("failed to load login state")
		fe.Err = err
		return nil, fe
	}
	if time.Now().After(loginState.ExpiresAt) {
		b.auditor.LogLoginFailed(loginState.OrgID, req.ClientIP, "login state expired")
		return nil, ErrInvalidCallback("login attempt expired")
	}

	cfg, err := b.configuration(ctx, loginState.OrgID)
	if err != nil {
		return nil, err
	}
	if cfg.ID != loginState.ConfigID {
		// Configuration was replaced mid-flight; the stored nonce and PKCE
		// parameters belong to the old one.
		b.auditor.LogLoginFailed(loginState.OrgID, req.ClientIP, "configuration changed during login")
		return nil, ErrInvalidCallback("configuration changed during login")
	}

	eps, err := b.resolveEndpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := b.checkOutboundURL(eps.TokenEndpoint, cfg.OrgID); err != nil {
		return nil, err
	}

	exchangeStart := time.Now()
	token, err := b.exchange(ctx, cfg, eps, req, loginState.CodeVerifier)
	if err != nil {
		b.metrics.RecordExchange(ctx, cfg.OrgID, false, float64(time.Since(exchangeStart).Milliseconds()))
		b.auditor.LogLoginFailed(cfg.OrgID, req.ClientIP, "code exchange failed")
		return nil, classifyError(err, ErrExchangeFailed)
	}
	b.metrics.RecordExchange(ctx, cfg.OrgID, true, float64(time.Since(exchangeStart).Milliseconds()))
	if token.AccessToken == "" {
		b.auditor.LogLoginFailed(cfg.OrgID, req.ClientIP, "empty access token in provider response")
		return nil, ErrTokenInvalid("provider returned no access token")
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		b.auditor.LogTokenValidationFailed(cfg.OrgID, req.ClientIP, "id token missing")
		fe := ErrTokenInvalid("provider returned no ID token")
		fe.Err = oidc.ErrIDTokenMissing
		return nil, fe
	}

	claims, err := b.verifier.VerifyIDToken(ctx, rawIDToken, oidc.VerifyOptions{
		Issuer:   eps.Issuer,
		ClientID: cfg.ClientID,
		JWKSURI:  eps.JWKSURI,
		Nonce:    loginState.Nonce,
	})
	if err != nil {
		b.auditor.LogTokenValidationFailed(cfg.OrgID, req.ClientIP, err.Error())
		if errors.Is(err, oidc.ErrNonceMismatch) || errors.Is(err, oidc.ErrNonceMissing) {
			b.auditor.LogEvent(security.AuditEvent{
				Type:      security.EventNonceMismatch,
				OrgID:     cfg.OrgID,
				IPAddress: req.ClientIP,
			})
		}
		fe := ErrTokenInvalid("ID token failed verification")
		fe.Err = err
		return nil, fe
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session, err := b.buildSession(sessionID, cfg, claims, token, rawIDToken)
	if err != nil {
		return nil, err
	}
	if err := b.sessions.SaveSession(ctx, session); err != nil {
		fe := ErrServerError("failed to persist SSO session")
		fe.Err = err
		return nil, fe
	}

	b.auditor.LogLoginCompleted(cfg.OrgID, claims.Subject, req.ClientIP)
	b.logger.Info("Federated login completed",
		"org_id", cfg.OrgID,
		"session_id", sessionID,
		"token_expiry", token.Expiry)

	return &LoginResult{
		SessionID:   sessionID,
		OrgID:       cfg.OrgID,
		ConfigID:    cfg.ID,
		Subject:     claims.Subject,
		Attributes:  cfg.MapAttributes(claims.Raw),
		ReturnTo:    loginState.ReturnTo,
		TokenExpiry: token.Expiry,
	}, nil
}

// exchange performs the code-for-token exchange with the connect-failure-only
// retry budget.
func (b *Broker) exchange(ctx context.Context, cfg *Configuration, eps *oidc.Endpoints, req ExchangeRequest, codeVerifier string) (*oauth2.Token, error) {
	oc := oauth2Config(cfg, eps, req.RedirectURI)

	var exchangeOpts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(codeVerifier))
	}

	token, stats, err := resilience.Execute(ctx, b.logger, resilience.TokenExchangePolicy(), "token_exchange",
		func(ctx context.Context) (*oauth2.Token, error) {
			return oc.Exchange(b.oauthContext(ctx), req.Code, exchangeOpts...)
		})
	b.metrics.RecordRetryAttempts(ctx, "token_exchange", stats.Attempts-1)
	return token, err
}

// RefreshResult reports a refreshed session's new token expiry.
type RefreshResult struct {
	SessionID   string
	TokenExpiry time.Time
}

// RefreshSession runs a refresh-token grant for the session and updates the
// stored encrypted tokens. Sessions without a refresh token cannot be
// refreshed and return a token_invalid error.
func (b *Broker) RefreshSession(ctx context.Context, sessionID string) (*RefreshResult, error) {
	ctx, finish := b.startSpan(ctx, "refresh_session", "")
	result, err := b.refreshSession(ctx, sessionID)
	finish(err)
	return result, err
}

func (b *Broker) refreshSession(ctx context.Context, sessionID string) (*RefreshResult, error) {
	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return nil, ErrSessionNotFound("no SSO session for session ID")
		}
		fe := ErrServerError("failed to load SSO session")
		fe.Err = err
		return nil, fe
	}

	cfg, err := b.configuration(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}

	enc, err := b.encryptorFor(session.OrgID)
	if err != nil {
		return nil, err
	}
	refreshToken, err := enc.Decrypt(session.EncryptedRefreshToken)
	if err != nil {
		fe := ErrServerError("failed to decrypt refresh token")
		fe.Err = err
		return nil, fe
	}
	if refreshToken == "" {
		return nil, ErrTokenInvalid("session has no refresh token")
	}

	eps, err := b.resolveEndpoints(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := b.checkOutboundURL(eps.TokenEndpoint, cfg.OrgID); err != nil {
		return nil, err
	}

	oc := oauth2Config(cfg, eps, "")
	token, stats, err := resilience.Execute(ctx, b.logger, resilience.TokenExchangePolicy(), "token_refresh",
		func(ctx context.Context) (*oauth2.Token, error) {
			return oc.TokenSource(b.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
		})
	b.metrics.RecordRetryAttempts(ctx, "token_refresh", stats.Attempts-1)
	if err != nil {
		b.metrics.RecordRefresh(ctx, false, false)
		return nil, classifyError(err, ErrExchangeFailed)
	}
	if token.AccessToken == "" {
		return nil, ErrTokenInvalid("provider returned no access token on refresh")
	}

	session.EncryptedAccessToken, err = enc.Encrypt(token.AccessToken)
	if err != nil {
		fe := ErrServerError("failed to encrypt access token")
		fe.Err = err
		return nil, fe
	}
	// Providers may rotate the refresh token; keep the old one otherwise.
	rotated := token.RefreshToken != "" && token.RefreshToken != refreshToken
	if rotated {
		session.EncryptedRefreshToken, err = enc.Encrypt(token.RefreshToken)
		if err != nil {
			fe := ErrServerError("failed to encrypt refresh token")
			fe.Err = err
			return nil, fe
		}
	}
	if token.TokenType != "" {
		session.TokenType = token.TokenType
	}
	session.TokenExpiry = token.Expiry
	session.ExpiresAt = time.Now().Add(b.sessionTTL())

	if err := b.sessions.SaveSession(ctx, session); err != nil {
		fe := ErrServerError("failed to persist refreshed session")
		fe.Err = err
		return nil, fe
	}

	b.metrics.RecordRefresh(ctx, true, rotated)
	instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx),
		attribute.Bool(instrumentation.AttrTokenRotated, rotated))
	b.auditor.LogEvent(security.AuditEvent{
		Type:   security.EventSessionRefreshed,
		OrgID:  session.OrgID,
		UserID: session.Subject,
	})

	return &RefreshResult{SessionID: sessionID, TokenExpiry: token.Expiry}, nil
}

// SessionAccessToken returns the session's provider access token, running a
// refresh first when the token has expired or will expire within the
// configured clock-skew grace period. Callers making provider API calls use
// this instead of tracking token expiry themselves.
func (b *Broker) SessionAccessToken(ctx context.Context, sessionID string) (string, error) {
	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return "", ErrSessionNotFound("no SSO session for session ID")
		}
		fe := ErrServerError("failed to load SSO session")
		fe.Err = err
		return "", fe
	}

	if security.IsTokenExpiringSoon(session.TokenExpiry, b.config.Security.ClockSkewGracePeriod) {
		if _, err := b.RefreshSession(ctx, sessionID); err != nil {
			return "", err
		}
		if session, err = b.sessions.GetSession(ctx, sessionID); err != nil {
			fe := ErrServerError("failed to reload refreshed session")
			fe.Err = err
			return "", fe
		}
	}

	enc, err := b.encryptorFor(session.OrgID)
	if err != nil {
		return "", err
	}
	accessToken, err := enc.Decrypt(session.EncryptedAccessToken)
	if err != nil {
		fe := ErrServerError("failed to decrypt access token")
		fe.Err = err
		return "", fe
	}
	if accessToken == "" {
		return "", ErrTokenInvalid("session has no access token")
	}
	return accessToken, nil
}

// buildSession encrypts the provider tokens and assembles the session record.
func (b *Broker) buildSession(sessionID string, cfg *Configuration, claims *oidc.Claims, token *oauth2.Token, rawIDToken string) (*storage.SSOSession, error) {
	enc, err := b.encryptorFor(cfg.OrgID)
	if err != nil {
		return nil, err
	}

	encAccess, err := enc.Encrypt(token.AccessToken)
	if err != nil {
		fe := ErrServerError("failed to encrypt access token")
		fe.Err = err
		return nil, fe
	}
	var encRefresh string
	if token.RefreshToken != "" {
		if encRefresh, err = enc.Encrypt(token.RefreshToken); err != nil {
			fe := ErrServerError("failed to encrypt refresh token")
			fe.Err = err
			return nil, fe
		}
	}
	encID, err := enc.Encrypt(rawIDToken)
	if err != nil {
		fe := ErrServerError("failed to encrypt ID token")
		fe.Err = err
		return nil, fe
	}

	now := time.Now()
	return &storage.SSOSession{
		SessionID:             sessionID,
		ConfigID:              cfg.ID,
		OrgID:                 cfg.OrgID,
		Subject:               claims.Subject,
		EncryptedAccessToken:  encAccess,
		EncryptedRefreshToken: encRefresh,
		EncryptedIDToken:      encID,
		TokenType:             token.TokenType,
		TokenExpiry:           token.Expiry,
		IdentityAttributes:    cfg.MapAttributes(claims.Raw),
		CreatedAt:             now,
		ExpiresAt:             now.Add(b.sessionTTL()),
	}, nil
}

// oauth2Config builds the x/oauth2 client configuration for the resolved
// endpoint set.
func oauth2Config(cfg *Configuration, eps *oidc.Endpoints, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       cfg.ScopeList(),
		Endpoint: oauth2.Endpoint{
			AuthURL:  eps.AuthorizationEndpoint,
			TokenURL: eps.TokenEndpoint,
		},
	}
}

// oauthContext routes x/oauth2's internal HTTP calls through the broker's
// client so timeouts and transports stay consistent.
func (b *Broker) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}
