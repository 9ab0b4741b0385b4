// Package storage provides interfaces and shared types for SSO session,
// login flow, and rate-limit counter persistence.
//
// The storage package defines the core storage interfaces used throughout the
// enterprise-sso library:
//   - SessionStore: Manages SSO session records binding local sessions to
//     encrypted provider tokens
//   - LoginStateStore: Manages transient login state between the
//     authorization redirect and the provider callback
//   - RateLimitStore: Manages sliding-window request counters
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development, testing, and
//     single-instance deployments
//   - storage/redis: Redis-backed distributed storage for horizontally
//     scaled deployments
package storage
