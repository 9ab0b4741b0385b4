package sso

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
)

// Federation error codes as constants
const (
	ErrorCodeInvalidConfiguration = "invalid_configuration"
	ErrorCodeConfigurationMissing = "configuration_missing"
	ErrorCodeDiscoveryFailed      = "discovery_failed"
	ErrorCodeProviderUnavailable  = "provider_unavailable"
	ErrorCodeRateLimited          = "rate_limited"
	ErrorCodeInvalidCallback      = "invalid_callback"
	ErrorCodeExchangeFailed       = "exchange_failed"
	ErrorCodeTokenInvalid         = "token_invalid"
	ErrorCodeSessionNotFound      = "session_not_found"
	ErrorCodeServerError          = "server_error"
)

// FederationError is the broker's caller-facing error type. The Code is
// stable and machine-matchable; the Description is safe to show to an
// administrator; Status suggests an HTTP status for transports that need
// one. The underlying cause stays available through Unwrap for logs.
type FederationError struct {
	Code        string // stable error code (e.g., "discovery_failed")
	Description string // human-readable description, safe for operators
	Status      int    // suggested HTTP status code
	// RetryAfter is set for rate-limit and circuit-open failures so callers
	// can communicate when the operation is worth repeating.
	RetryAfter time.Time
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface
func (e *FederationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *FederationError) Unwrap() error { return e.Err }

// NewFederationError creates a new federation error
func NewFederationError(code, description string, status int) *FederationError {
	return &FederationError{
		Code:        code,
		Description: description,
		Status:      status,
	}
}

// Common federation errors as reusable constructors
var (
	// ErrInvalidConfiguration indicates an SSO configuration failed validation
	ErrInvalidConfiguration = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeInvalidConfiguration, desc, http.StatusBadRequest)
	}

	// ErrConfigurationMissing indicates no enabled SSO configuration exists for the organization
	ErrConfigurationMissing = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeConfigurationMissing, desc, http.StatusNotFound)
	}

	// ErrDiscoveryFailed indicates provider endpoint resolution failed
	ErrDiscoveryFailed = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeDiscoveryFailed, desc, http.StatusBadGateway)
	}

	// ErrProviderUnavailable indicates the provider is temporarily unreachable
	// (circuit open or retries exhausted); distinct from a provider rejection
	ErrProviderUnavailable = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeProviderUnavailable, desc, http.StatusServiceUnavailable)
	}

	// ErrRateLimited indicates a rate-limit policy rejected the request
	ErrRateLimited = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeRateLimited, desc, http.StatusTooManyRequests)
	}

	// ErrInvalidCallback indicates the provider callback carried an unknown,
	// expired, or replayed state parameter
	ErrInvalidCallback = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeInvalidCallback, desc, http.StatusBadRequest)
	}

	// ErrExchangeFailed indicates the authorization code exchange was rejected
	ErrExchangeFailed = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeExchangeFailed, desc, http.StatusBadGateway)
	}

	// ErrTokenInvalid indicates the provider's token response failed validation
	ErrTokenInvalid = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeTokenInvalid, desc, http.StatusBadGateway)
	}

	// ErrSessionNotFound indicates no SSO session exists for the given session ID
	ErrSessionNotFound = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeSessionNotFound, desc, http.StatusNotFound)
	}

	// ErrServerError indicates an internal failure unrelated to the provider
	ErrServerError = func(desc string) *FederationError {
		return NewFederationError(ErrorCodeServerError, desc, http.StatusInternalServerError)
	}
)

// classifyError converts lower-layer failures into a FederationError so
// callers can branch on the Code without unwrapping resolver and retry
// internals. A *FederationError passes through unchanged.
func classifyError(err error, fallback func(string) *FederationError) *FederationError {
	var fe *FederationError
	if errors.As(err, &fe) {
		return fe
	}

	var rateErr *security.RateLimitError
	if errors.As(err, &rateErr) {
		out := ErrRateLimited(rateErr.Error())
		out.RetryAfter = rateErr.ResetAt
		out.Err = err
		return out
	}

	var openErr *resilience.OpenError
	if errors.As(err, &openErr) {
		out := ErrProviderUnavailable("identity provider is temporarily unavailable")
		out.RetryAfter = openErr.RetryAt
		out.Err = err
		return out
	}

	var exhausted *resilience.RetryExhaustedError
	if errors.As(err, &exhausted) {
		out := ErrProviderUnavailable("identity provider did not respond")
		out.Err = err
		return out
	}

	var urlErr *security.URLValidationError
	if errors.As(err, &urlErr) {
		out := ErrInvalidConfiguration(urlErr.ClientMessage)
		out.Err = err
		return out
	}

	var discErr *oidc.DiscoveryError
	if errors.As(err, &discErr) {
		out := ErrDiscoveryFailed(fmt.Sprintf("endpoint discovery failed at %s", discErr.Stage))
		out.Err = err
		return out
	}

	out := fallback(err.Error())
	out.Err = err
	return out
}
