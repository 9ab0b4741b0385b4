// Package resilience provides the retry, circuit breaker, and timeout
// primitives used for all outbound calls to identity providers.
//
// # Retry
//
// Execute runs an operation under a Policy: exponential backoff with a
// one-sided jitter spread, a hard attempt ceiling, and an error classifier
// that decides which failures are worth retrying. Per-operation presets
// (DiscoveryPolicy, TokenExchangePolicy, UserInfoPolicy, ConnectivityPolicy)
// encode the budgets each provider interaction tolerates.
//
// The token exchange preset deliberately retries only connection
// establishment failures. Authorization codes are single use; replaying an
// exchange whose request may have reached the provider would burn the code.
//
// # Circuit Breaker
//
// Breaker tracks consecutive failures per logical operation (for example
// discovery against one issuer host) and fast-fails while the provider is
// known to be down. State transitions happen only on recorded call outcomes:
// closed -> open after FailureThreshold consecutive failures, open ->
// half-open after ResetTimeout, and half-open -> closed/open depending on a
// single trial call. Time is read through the Clock interface so tests can
// drive transitions deterministically.
//
// # Timeout
//
// WithTimeout bounds an operation with a context deadline and converts expiry
// into a typed *TimeoutError. The operation must honor context cancellation.
package resilience
