package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Login flow events

	// EventLoginStarted is logged when a federated login flow is initiated
	EventLoginStarted = "sso_login_started"

	// EventLoginCompleted is logged when a code exchange produces a session
	EventLoginCompleted = "sso_login_completed"

	// EventLoginFailed is logged when a login flow fails after the redirect
	EventLoginFailed = "sso_login_failed"

	// EventCallbackReplayed is logged when a callback presents an unknown or
	// already-consumed state parameter (replay or CSRF attempt)
	EventCallbackReplayed = "sso_callback_replayed"

	// EventSessionRefreshed is logged when provider tokens are refreshed for a session
	EventSessionRefreshed = "sso_session_refreshed"

	// Logout events

	// EventLogout is logged when an SSO session is terminated
	EventLogout = "sso_logout"

	// EventRevocationFailed is logged when best-effort token revocation at
	// the provider fails; logout still completes
	EventRevocationFailed = "sso_revocation_failed"

	// Discovery and configuration events

	// EventDiscoveryFailed is logged when endpoint discovery for an issuer fails
	EventDiscoveryFailed = "sso_discovery_failed"

	// EventConfigurationRejected is logged when an SSO configuration fails validation
	EventConfigurationRejected = "sso_configuration_rejected"

	// EventBlockedURL is logged when SSRF validation rejects an outbound URL
	EventBlockedURL = "sso_blocked_url"

	// Rate limiting events

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventRateLimitStoreFailure is logged when the rate-limit store is
	// unreachable and the limiter degrades to its fail-open/fail-closed policy
	EventRateLimitStoreFailure = "rate_limit_store_failure"

	// Token validation events

	// EventTokenValidationFailed is logged when an ID token fails verification
	EventTokenValidationFailed = "sso_token_validation_failed"

	// EventNonceMismatch is logged when an ID token's nonce does not match
	// the login attempt (replay indicator)
	EventNonceMismatch = "sso_nonce_mismatch"
)
