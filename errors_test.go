package sso

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
	"github.com/doorpasses/enterprise-sso/security"
)

func TestFederationError(t *testing.T) {
	cause := errors.New("underlying")
	fe := &FederationError{
		Code:        ErrorCodeDiscoveryFailed,
		Description: "endpoint discovery failed",
		Status:      http.StatusBadGateway,
		Err:         cause,
	}

	if got := fe.Error(); got != "discovery_failed: endpoint discovery failed" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(fe, cause) {
		t.Error("errors.Is should reach the wrapped cause")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *FederationError
		wantCode   string
		wantStatus int
	}{
		{"invalid configuration", ErrInvalidConfiguration("x"), ErrorCodeInvalidConfiguration, http.StatusBadRequest},
		{"configuration missing", ErrConfigurationMissing("x"), ErrorCodeConfigurationMissing, http.StatusNotFound},
		{"discovery failed", ErrDiscoveryFailed("x"), ErrorCodeDiscoveryFailed, http.StatusBadGateway},
		{"provider unavailable", ErrProviderUnavailable("x"), ErrorCodeProviderUnavailable, http.StatusServiceUnavailable},
		{"rate limited", ErrRateLimited("x"), ErrorCodeRateLimited, http.StatusTooManyRequests},
		{"invalid callback", ErrInvalidCallback("x"), ErrorCodeInvalidCallback, http.StatusBadRequest},
		{"exchange failed", ErrExchangeFailed("x"), ErrorCodeExchangeFailed, http.StatusBadGateway},
		{"token invalid", ErrTokenInvalid("x"), ErrorCodeTokenInvalid, http.StatusBadGateway},
		{"session not found", ErrSessionNotFound("x"), ErrorCodeSessionNotFound, http.StatusNotFound},
		{"server error", ErrServerError("x"), ErrorCodeServerError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", tt.err.Status, tt.wantStatus)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	resetAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{
			name:     "rate limit error",
			err:      &security.RateLimitError{Key: security.Key{Type: security.KeyTypeUser, Value: "u"}, ResetAt: resetAt},
			wantCode: ErrorCodeRateLimited,
		},
		{
			name:     "circuit open",
			err:      &resilience.OpenError{Name: "discovery:idp.example.com", RetryAt: resetAt},
			wantCode: ErrorCodeProviderUnavailable,
		},
		{
			name:     "retries exhausted",
			err:      &resilience.RetryExhaustedError{Operation: "discovery", Attempts: 3, Err: errors.New("timeout")},
			wantCode: ErrorCodeProviderUnavailable,
		},
		{
			name:     "blocked URL",
			err:      &security.URLValidationError{Category: "blocked_ip", URL: "https://169.254.169.254", ClientMessage: "URL not allowed"},
			wantCode: ErrorCodeInvalidConfiguration,
		},
		{
			name:     "discovery error",
			err:      &oidc.DiscoveryError{Stage: "fetch", Issuer: "https://idp.example.com", Err: errors.New("refused")},
			wantCode: ErrorCodeDiscoveryFailed,
		},
		{
			name:     "unknown error uses fallback",
			err:      errors.New("mystery"),
			wantCode: ErrorCodeServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe := classifyError(tt.err, ErrServerError)
			if fe.Code != tt.wantCode {
				t.Errorf("classifyError() code = %q, want %q", fe.Code, tt.wantCode)
			}
			if !errors.Is(fe, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}
}

func TestClassifyError_CarriesRetryAfter(t *testing.T) {
	resetAt := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	fe := classifyError(&security.RateLimitError{ResetAt: resetAt}, ErrServerError)
	if !fe.RetryAfter.Equal(resetAt) {
		t.Errorf("RetryAfter = %v, want %v", fe.RetryAfter, resetAt)
	}

	fe = classifyError(&resilience.OpenError{RetryAt: resetAt}, ErrServerError)
	if !fe.RetryAfter.Equal(resetAt) {
		t.Errorf("RetryAfter = %v, want %v", fe.RetryAfter, resetAt)
	}
}

func TestClassifyError_PassesThroughFederationError(t *testing.T) {
	original := ErrInvalidCallback("bad state")
	fe := classifyError(original, ErrServerError)
	if fe != original {
		t.Error("an existing FederationError should pass through unchanged")
	}
}
