package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY WARNING: Never attach actual sensitive values (access tokens,
// refresh tokens, ID tokens, authorization codes, client secrets) to traces
// or metrics. Only attach metadata such as issuer identifiers, endpoint
// sources, and outcomes. Traces are persisted, widely readable, and
// replicated across monitoring infrastructure.
const (
	// Federation flow attributes - metadata only
	AttrOrgID          = "sso.org_id"          // Organization identifier
	AttrConfigID       = "sso.config_id"       // Provider configuration identifier
	AttrIssuer         = "sso.issuer"          // Normalized issuer URL (non-secret)
	AttrEndpointSource = "sso.endpoint_source" // discovery or manual
	AttrOperation      = "sso.operation"       // Broker operation name
	AttrOutcome        = "sso.outcome"         // success or an error code
	AttrTokenRotated   = "sso.token_rotated"   //nolint:gosec // Whether the refresh token rotated (boolean)
	AttrSessionPresent = "sso.session_present" // Whether a session record existed (boolean)
	AttrErrorCode      = "sso.error_code"      // Stable federation error code

	// Security attributes
	AttrRateLimitKeyType = "security.rate_limit.key_type"
	AttrClientIP         = "security.client_ip"
	AttrAuditEventType   = "security.audit.event_type"

	// Provider attributes
	AttrProviderName      = "provider.name"
	AttrProviderOperation = "provider.operation"
	AttrProviderStatus    = "provider.status"
)

// RecordError records an error on a span with proper status codes (nil-safe).
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe).
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe).
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe).
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddFederationAttributes adds common login flow attributes to a span
// (nil-safe).
func AddFederationAttributes(span trace.Span, orgID, configID string) {
	if orgID != "" {
		SetSpanAttributes(span, attribute.String(AttrOrgID, orgID))
	}
	if configID != "" {
		SetSpanAttributes(span, attribute.String(AttrConfigID, configID))
	}
}

// AddProviderAttributes adds provider attributes to a span (nil-safe).
func AddProviderAttributes(span trace.Span, issuer, source string) {
	if issuer != "" {
		SetSpanAttributes(span, attribute.String(AttrIssuer, issuer))
	}
	if source != "" {
		SetSpanAttributes(span, attribute.String(AttrEndpointSource, source))
	}
}

// AddSecurityAttributes adds security-related attributes to a span
// (nil-safe).
//
// PRIVACY NOTE: Client IP addresses may be PII. Check
// instrumentation.ShouldLogClientIPs() before calling:
//
//	if inst.ShouldLogClientIPs() {
//	    AddSecurityAttributes(span, clientIP)
//	}
func AddSecurityAttributes(span trace.Span, clientIP string) {
	if clientIP != "" {
		SetSpanAttributes(span, attribute.String(AttrClientIP, clientIP))
	}
}
