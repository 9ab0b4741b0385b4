package security

import "time"

const (
	// DefaultClockSkewGracePeriod is the grace applied to provider token
	// expiry checks. Identity providers, this service, and the client rarely
	// agree on the time to the second; 5 seconds absorbs typical NTP drift
	// without meaningfully extending token lifetime.
	DefaultClockSkewGracePeriod = 5 * time.Second
)

// IsTokenExpired checks whether a provider token is expired, with the default
// clock skew grace period applied.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks token expiry with a custom grace
// period. A zero expiresAt means the token never expires.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsTokenExpiringSoon checks whether a token will expire within the given
// threshold. Used to refresh sessions proactively instead of failing a
// request on an expired access token.
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return time.Now().Add(threshold).After(expiresAt)
}
