// Package memory provides an in-memory implementation of the SSO storage interfaces.
//
// This package implements SessionStore, LoginStateStore, and RateLimitStore
// using Go's built-in maps with mutex protection for thread safety. It is
// suitable for development, testing, and single-instance deployments where
// persistence is not required.
//
// Features:
//   - Thread-safe operations using sync.RWMutex
//   - Automatic cleanup of expired sessions and login states
//   - LRU-bounded rate-limit key tracking with idle eviction
//   - Configurable cleanup interval
//
// For multi-instance deployments that need one shared view of sessions and
// rate-limit counters, use the storage/redis package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	// Use store for SessionStore, LoginStateStore, and RateLimitStore
//	broker, _ := sso.NewBroker(configs, store, store, store, cfg, logger)
package memory
