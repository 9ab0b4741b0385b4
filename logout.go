package sso

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/storage"
)

// revocationTimeout bounds each best-effort revocation call so a slow
// provider cannot stall logout.
const revocationTimeout = 5 * time.Second

// LogoutRequest carries the parameters for terminating an SSO session.
type LogoutRequest struct {
	// OrgID selects the organization's configuration.
	OrgID string
	// SessionID is the local session being terminated.
	SessionID string
	// ClientIP is the requester's IP address for audit logging.
	ClientIP string
	// ReturnTo is an optional post-logout redirect target. It must pass the
	// open-redirect check.
	ReturnTo string
}

// LogoutResult reports what logout accomplished. Logout itself never fails
// because of the provider: revocation is best-effort and its failure is
// logged, not returned.
type LogoutResult struct {
	// SessionDeleted is true when an SSO session record existed and was
	// removed.
	SessionDeleted bool
	// TokensRevoked is true when every applicable provider token was
	// revoked successfully.
	TokensRevoked bool
	// ReturnTo is the validated redirect target, empty when none was given.
	ReturnTo string
}

// Logout terminates an SSO session. The session record is always deleted;
// provider token revocation is attempted when the organization has an enabled
// configuration with a revocation endpoint, and its failure never blocks the
// logout. The session is consumed atomically so concurrent logouts revoke
// tokens at most once.
func (b *Broker) Logout(ctx context.Context, req LogoutRequest) (*LogoutResult, error) {
	ctx, finish := b.startSpan(ctx, "logout", req.ClientIP)
	result, err := b.logout(ctx, req)
	if result != nil {
		instrumentation.SetSpanAttributes(trace.SpanFromContext(ctx),
			attribute.Bool(instrumentation.AttrSessionPresent, result.SessionDeleted))
	}
	finish(err)
	return result, err
}

func (b *Broker) logout(ctx context.Context, req LogoutRequest) (*LogoutResult, error) {
	if req.SessionID == "" {
		return nil, ErrInvalidConfiguration("session ID is required")
	}

	returnTo, err := b.validReturnTo(req.ReturnTo)
	if err != nil {
		return nil, err
	}
	result := &LogoutResult{ReturnTo: returnTo}

	cfg, err := b.configs.GetConfiguration(ctx, req.OrgID)
	if err != nil {
		fe := ErrServerError("failed to load SSO configuration")
		fe.Err = err
		return nil, fe
	}
	if cfg == nil || !cfg.Enabled {
		// No federation for this organization: plain logout, just make sure
		// no stale session record survives.
		if err := b.sessions.DeleteSession(ctx, req.SessionID); err != nil {
			fe := ErrServerError("failed to delete SSO session")
			fe.Err = err
			return nil, fe
		}
		return result, nil
	}

	session, err := b.sessions.AtomicGetAndDeleteSession(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) || errors.Is(err, storage.ErrSessionExpired) {
			return result, nil
		}
		fe := ErrServerError("failed to consume SSO session")
		fe.Err = err
		return nil, fe
	}
	result.SessionDeleted = true

	result.TokensRevoked = b.revokeSessionTokens(ctx, cfg, session)
	b.auditor.LogLogout(session.OrgID, session.Subject, result.TokensRevoked)
	b.logger.Info("SSO session terminated",
		"org_id", session.OrgID,
		"session_id", req.SessionID,
		"tokens_revoked", result.TokensRevoked)

	return result, nil
}

// revokeSessionTokens best-effort revokes the session's provider tokens.
// Returns true only when every applicable token was revoked. All failures
// are logged and audited, never returned.
func (b *Broker) revokeSessionTokens(ctx context.Context, cfg *Configuration, session *storage.SSOSession) bool {
	eps, err := b.resolveEndpoints(ctx, cfg)
	if err != nil {
		b.auditor.LogRevocationFailed(session.OrgID, session.Subject, "endpoint resolution failed")
		b.logger.Warn("Token revocation skipped, endpoint resolution failed",
			"org_id", session.OrgID, "error", err)
		return false
	}
	if eps.RevocationEndpoint == "" {
		// Provider does not support RFC 7009; nothing to revoke against.
		return false
	}
	if err := b.checkOutboundURL(eps.RevocationEndpoint, session.OrgID); err != nil {
		b.auditor.LogRevocationFailed(session.OrgID, session.Subject, "revocation endpoint rejected by URL policy")
		return false
	}

	enc, err := b.encryptorFor(session.OrgID)
	if err != nil {
		b.auditor.LogRevocationFailed(session.OrgID, session.Subject, "key derivation failed")
		return false
	}

	// Refresh token first: revoking it invalidates derived access tokens on
	// providers that cascade, and it is the longer-lived credential.
	revoked := true
	for _, tok := range []struct {
		ciphertext string
		hint       string
	}{
		{session.EncryptedRefreshToken, "refresh_token"},
		{session.EncryptedAccessToken, "access_token"},
	} {
		if tok.ciphertext == "" {
			continue
		}
		plaintext, err := enc.Decrypt(tok.ciphertext)
		if err != nil {
			b.auditor.LogRevocationFailed(session.OrgID, session.Subject, "token decryption failed")
			revoked = false
			continue
		}
		err = b.revokeToken(ctx, cfg, eps, plaintext, tok.hint)
		b.metrics.RecordRevocation(ctx, err == nil)
		if err != nil {
			b.auditor.LogRevocationFailed(session.OrgID, session.Subject, err.Error())
			b.logger.Warn("Provider token revocation failed",
				"org_id", session.OrgID,
				"token_type_hint", tok.hint,
				"error", err)
			revoked = false
		}
	}
	return revoked
}

// revokeToken posts one RFC 7009 revocation request, timeout-bounded.
// Providers answer 200 for both revoked and unknown tokens; anything else is
// a failure.
func (b *Broker) revokeToken(ctx context.Context, cfg *Configuration, eps *oidc.Endpoints, token, hint string) error {
	_, err := resilience.WithTimeout(ctx, revocationTimeout, "token_revocation",
		func(ctx context.Context) (struct{}, error) {
			form := url.Values{}
			form.Set("token", token)
			form.Set("token_type_hint", hint)

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, eps.RevocationEndpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return struct{}{}, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.SetBasicAuth(url.QueryEscape(cfg.ClientID), url.QueryEscape(cfg.ClientSecret))

			resp, err := b.httpClient.Do(req)
			if err != nil {
				return struct{}{}, err
			}
			defer resp.Body.Close()
			// Drain so the connection can be reused.
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

			if resp.StatusCode != http.StatusOK {
				return struct{}{}, fmt.Errorf("revocation endpoint returned status %d", resp.StatusCode)
			}
			return struct{}{}, nil
		})
	return err
}
