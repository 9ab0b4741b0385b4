package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection. User and
// subject identifiers are hashed before they reach the log stream; IP
// addresses and organization IDs are logged as-is because operators need
// them for incident response.
type Auditor struct {
	logger   *slog.Logger
	enabled  bool
	observer func(eventType string)
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// SetObserver registers a callback invoked with the event type of every
// emitted audit event, typically to count events in metrics. Must be called
// before the auditor is shared across goroutines.
func (a *Auditor) SetObserver(fn func(eventType string)) {
	a.observer = fn
}

// AuditEvent represents a security audit event
type AuditEvent struct {
	Type      string
	OrgID     string
	UserID    string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event AuditEvent) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	if a.observer != nil {
		a.observer(event.Type)
	}

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"org_id", event.OrgID,
		"user_id_hash", hashForLogging(event.UserID),
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogLoginStarted logs the start of a federated login flow
func (a *Auditor) LogLoginStarted(orgID, userID, ipAddress, issuer string) {
	a.LogEvent(AuditEvent{
		Type:      EventLoginStarted,
		OrgID:     orgID,
		UserID:    userID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"issuer": issuer,
		},
	})
}

// LogLoginCompleted logs a successful code exchange and session creation
func (a *Auditor) LogLoginCompleted(orgID, subject, ipAddress string) {
	a.LogEvent(AuditEvent{
		Type:      EventLoginCompleted,
		OrgID:     orgID,
		UserID:    subject,
		IPAddress: ipAddress,
	})
}

// LogLoginFailed logs a failed login flow with the failure reason
func (a *Auditor) LogLoginFailed(orgID, ipAddress, reason string) {
	a.LogEvent(AuditEvent{
		Type:      EventLoginFailed,
		OrgID:     orgID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogCallbackReplayed logs a callback with an unknown or consumed state
func (a *Auditor) LogCallbackReplayed(orgID, ipAddress string) {
	a.LogEvent(AuditEvent{
		Type:      EventCallbackReplayed,
		OrgID:     orgID,
		IPAddress: ipAddress,
	})
}

// LogLogout logs the termination of an SSO session
func (a *Auditor) LogLogout(orgID, subject string, revoked bool) {
	a.LogEvent(AuditEvent{
		Type:   EventLogout,
		OrgID:  orgID,
		UserID: subject,
		Details: map[string]any{
			"tokens_revoked": revoked,
		},
	})
}

// LogRevocationFailed logs a failed best-effort token revocation. The
// failure is advisory: logout completes regardless.
func (a *Auditor) LogRevocationFailed(orgID, subject, reason string) {
	a.LogEvent(AuditEvent{
		Type:   EventRevocationFailed,
		OrgID:  orgID,
		UserID: subject,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogDiscoveryFailed logs a failed endpoint discovery attempt
func (a *Auditor) LogDiscoveryFailed(orgID, issuer, reason string) {
	a.LogEvent(AuditEvent{
		Type:  EventDiscoveryFailed,
		OrgID: orgID,
		Details: map[string]any{
			"issuer": issuer,
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(keyType, keyValue string) {
	a.LogEvent(AuditEvent{
		Type:   EventRateLimitExceeded,
		UserID: keyValue,
		Details: map[string]any{
			"key_type": keyType,
		},
	})
}

// LogRateLimitStoreFailure logs a rate-limit store outage
func (a *Auditor) LogRateLimitStoreFailure(keyType string, err error) {
	a.LogEvent(AuditEvent{
		Type: EventRateLimitStoreFailure,
		Details: map[string]any{
			"key_type": keyType,
			"error":    err.Error(),
		},
	})
}

// LogTokenValidationFailed logs an ID token verification failure
func (a *Auditor) LogTokenValidationFailed(orgID, ipAddress, reason string) {
	a.LogEvent(AuditEvent{
		Type:      EventTokenValidationFailed,
		OrgID:     orgID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
