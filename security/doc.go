// Package security provides the trust layer's security primitives:
// SSRF-aware URL validation, token encryption at rest, sliding-window rate
// limiting, per-client admission control, and audit logging.
//
// # URL Validation
//
// ValidateURL and its wrappers (ValidateIssuerURL, ValidateReturnURL) reject
// URLs that would let administrator-supplied configuration steer server-side
// requests at internal infrastructure: private and loopback address ranges,
// link-local and cloud metadata addresses, internal-looking hostnames, and
// dangerous schemes. Every outbound URL in the login flow passes through this
// check before a request is made, whether it came from discovery or from
// manual configuration.
//
// # Rate Limiting
//
// Limiter enforces sliding-window budgets (Policy) over a shared
// storage.RateLimitStore, so with a Redis-backed store all instances share
// one view of the counters. The window slides continuously: an event counts
// against the budget until exactly Window has elapsed. Denied requests are
// not counted, so a saturated window drains as old events age out.
//
//	limiter := security.NewLimiter(store, security.LimiterOptions{Auditor: auditor})
//	decision, err := limiter.Check(ctx, security.Key{Type: security.KeyTypeUser, Value: userID}, security.PolicyAuthorization)
//	if err != nil {
//	    return err
//	}
//	if !decision.Allowed {
//	    return &security.RateLimitError{...}
//	}
//
// By default the limiter fails open when the store is unreachable: a Redis
// outage degrades rate governance rather than blocking every login. Set
// LimiterOptions.FailClosed to invert that trade for deployments that prefer
// availability loss over an unmetered window.
//
// AdmissionLimiter is the complementary local gate: a per-client token bucket
// with LRU eviction, cheap enough to run in front of every inbound request on
// a single instance.
//
// # Encryption
//
// Encryptor stores provider tokens encrypted with AES-256-GCM. ForOrganization
// derives a tenant-scoped subkey with HKDF-SHA256 so ciphertext never crosses
// organization boundaries. With a nil key the encryptor passes values through
// unchanged, which keeps local development free of key management.
//
// # Audit Logging
//
// Auditor emits structured security events (login flow milestones, replayed
// callbacks, revocation failures, rate-limit denials) with user identifiers
// hashed before they reach the log stream.
package security
