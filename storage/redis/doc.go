// Package redis provides Redis-backed storage for sessions, login state,
// and rate-limit counters.
//
// Use this backend when the broker runs as multiple instances: sessions
// survive restarts, a login started on one instance can complete on another,
// and rate limits apply across the whole fleet. Records carry a Redis TTL
// matching their expiry, so stale entries evict server-side without a
// cleanup loop.
//
// The sliding-window rate limiter runs as a Lua script over a sorted set,
// which keeps the purge-count-record sequence atomic per key even with many
// broker instances hitting the same Redis.
package redis
