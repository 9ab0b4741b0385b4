// Package storage defines interfaces for persisting SSO sessions, login flow
// state, and rate-limit counters. It supports in-memory and Redis backends so
// deployments can scale from a single instance to a horizontally scaled fleet
// sharing one view of sessions and counters.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by store implementations.
var (
	// ErrSessionNotFound indicates no session exists for the given ID.
	ErrSessionNotFound = errors.New("sso session not found")
	// ErrSessionExpired indicates the session exists but is past its expiry.
	ErrSessionExpired = errors.New("sso session expired")
	// ErrLoginStateNotFound indicates no login state exists for the given
	// state parameter. This also covers states that were already consumed.
	ErrLoginStateNotFound = errors.New("login state not found")
)

// SSOSession correlates a local application session with the identity
// provider tokens obtained for it. Token fields hold ciphertext produced by
// the broker's encryptor; stores never see plaintext tokens.
type SSOSession struct {
	// SessionID is the local application session this SSO login is bound to.
	SessionID string
	// ConfigID identifies the SSO configuration that produced this session.
	ConfigID string
	// OrgID is the organization the configuration belongs to.
	OrgID string
	// Subject is the provider's stable user identifier (the "sub" claim).
	Subject string
	// EncryptedAccessToken is the provider access token, encrypted at rest.
	EncryptedAccessToken string
	// EncryptedRefreshToken is the provider refresh token, encrypted at rest.
	// Empty when the provider did not issue one.
	EncryptedRefreshToken string
	// EncryptedIDToken is the raw ID token, encrypted at rest. It carries PII
	// claims and is needed for RP-initiated logout hints.
	EncryptedIDToken string
	// TokenType is the access token type reported by the provider.
	TokenType string
	// TokenExpiry is when the access token expires.
	TokenExpiry time.Time
	// IdentityAttributes holds claims mapped through the configuration's
	// attribute mapping.
	IdentityAttributes map[string]string
	// CreatedAt is when the session record was created.
	CreatedAt time.Time
	// ExpiresAt is when the session record itself should be evicted.
	ExpiresAt time.Time
}

// SessionStore persists SSO session records.
// All methods accept context.Context for tracing and cancellation.
type SessionStore interface {
	// SaveSession stores a session record, replacing any existing record
	// with the same session ID.
	SaveSession(ctx context.Context, session *SSOSession) error

	// GetSession retrieves a session by local session ID.
	// Returns ErrSessionNotFound or ErrSessionExpired as appropriate.
	GetSession(ctx context.Context, sessionID string) (*SSOSession, error)

	// DeleteSession removes a session record. Deleting a missing session is
	// not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// AtomicGetAndDeleteSession retrieves and deletes a session in one step.
	// SECURITY: This operation MUST be atomic so concurrent logouts for the
	// same session revoke provider tokens at most once.
	AtomicGetAndDeleteSession(ctx context.Context, sessionID string) (*SSOSession, error)
}

// LoginState holds the transient parameters of an in-flight login between
// the authorization redirect and the provider callback.
type LoginState struct {
	// State is the value sent to the provider and returned in the callback.
	// It is the lookup key.
	State string
	// OrgID and ConfigID identify which configuration started the login.
	OrgID    string
	ConfigID string
	// Nonce binds the eventual ID token to this login.
	Nonce string
	// CodeVerifier is the PKCE verifier matching the challenge sent to the
	// provider. Empty when PKCE is disabled for the configuration.
	CodeVerifier string
	// ReturnTo is the validated post-login redirect target, if any.
	ReturnTo string
	// CreatedAt is when the login started.
	CreatedAt time.Time
	// ExpiresAt bounds how long the callback remains valid.
	ExpiresAt time.Time
}

// LoginStateStore persists in-flight login state.
// All methods accept context.Context for tracing and cancellation.
type LoginStateStore interface {
	// SaveLoginState stores login state keyed by the state parameter.
	SaveLoginState(ctx context.Context, state *LoginState) error

	// AtomicGetAndDeleteLoginState retrieves and deletes login state in one
	// step. Returns ErrLoginStateNotFound when the state is unknown, expired,
	// or already consumed.
	// SECURITY: This operation MUST be atomic so a provider callback is
	// processed exactly once per state value, even under concurrent replays.
	AtomicGetAndDeleteLoginState(ctx context.Context, state string) (*LoginState, error)
}

// TakeResult reports the outcome of a rate-limit check-and-record operation.
type TakeResult struct {
	// Allowed is true when the request was admitted and recorded.
	Allowed bool
	// Count is the number of in-window entries after the decision. For an
	// allowed request it includes the request itself; for a denied request
	// it counts only previously recorded entries.
	Count int
	// OldestInWindow is the timestamp of the oldest entry still inside the
	// window, or the zero time when the window held no prior entries.
	OldestInWindow time.Time
}

// RateLimitStore maintains sliding-window request counters shared across
// instances.
type RateLimitStore interface {
	// Take purges entries older than the window for the key, counts the
	// remainder, and records the request only when the count is below limit.
	// The caller supplies now so time can be injected in tests.
	// SECURITY: The purge-count-record sequence MUST be atomic per key so
	// concurrent checks across instances never admit more than limit
	// requests per window.
	Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (TakeResult, error)
}
