// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/doorpasses/enterprise-sso/storage"
)

const (
	// DefaultCleanupInterval is how often the background cleanup runs.
	DefaultCleanupInterval = time.Minute

	// DefaultMaxRateLimitEntries is the maximum number of rate-limit keys to
	// track. When the limit is reached, the least recently used keys are
	// evicted to keep memory bounded under distributed attacks.
	DefaultMaxRateLimitEntries = 10000

	// rateLimitIdleTimeout is how long an untouched rate-limit key survives
	// before cleanup removes it. Policies use windows of at most one hour,
	// so two hours of idleness means the window is certainly empty.
	rateLimitIdleTimeout = 2 * time.Hour
)

// rateLimitEntry tracks request timestamps for one rate-limit key.
type rateLimitEntry struct {
	key        string
	timestamps []time.Time // in insertion order, oldest first
	lastAccess time.Time
}

// Store is an in-memory implementation of all storage interfaces.
// It implements SessionStore, LoginStateStore, and RateLimitStore.
type Store struct {
	mu sync.RWMutex

	sessions    map[string]*storage.SSOSession
	loginStates map[string]*storage.LoginState

	// Rate limiting (LRU-bounded per-key timestamp windows)
	rateEntries    map[string]*list.Element
	rateLRU        *list.List
	maxRateEntries int
	rateEvictions  int64

	// Cleanup
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.SessionStore    = (*Store)(nil)
	_ storage.LoginStateStore = (*Store)(nil)
	_ storage.RateLimitStore  = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	return NewWithConfig(cleanupInterval, DefaultMaxRateLimitEntries)
}

// NewWithConfig creates a new in-memory store with a custom cleanup interval
// and rate-limit key capacity.
func NewWithConfig(cleanupInterval time.Duration, maxRateEntries int) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if maxRateEntries < 0 {
		maxRateEntries = DefaultMaxRateLimitEntries
	}

	s := &Store{
		sessions:        make(map[string]*storage.SSOSession),
		loginStates:     make(map[string]*storage.LoginState),
		rateEntries:     make(map[string]*list.Element),
		rateLRU:         list.New(),
		maxRateEntries:  maxRateEntries,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	// Start background cleanup
	go s.cleanupLoop()

	return s
}

// SetLogger replaces the store's logger. Call before the store is shared
// across goroutines.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Stop gracefully stops the background cleanup goroutine.
// Safe to call multiple times.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}

// SaveSession stores a session record, replacing any existing record with the
// same session ID.
func (s *Store) SaveSession(_ context.Context, session *storage.SSOSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if session.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = copySession(session)
	return nil
}

// GetSession retrieves a session by local session ID.
func (s *Store) GetSession(_ context.Context, sessionID string) (*storage.SSOSession, error) {
	s.mu.RLock()
	session, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	if sessionExpired(session, time.Now()) {
		// Leave removal to cleanup; report expiry to the caller.
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionExpired, sessionID)
	}
	return copySession(session), nil
}

// DeleteSession removes a session record. Deleting a missing session is not
// an error.
func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// AtomicGetAndDeleteSession retrieves and deletes a session in one step.
func (s *Store) AtomicGetAndDeleteSession(_ context.Context, sessionID string) (*storage.SSOSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionNotFound, sessionID)
	}
	delete(s.sessions, sessionID)

	if sessionExpired(session, time.Now()) {
		return nil, fmt.Errorf("%w: %s", storage.ErrSessionExpired, sessionID)
	}
	return copySession(session), nil
}

// SaveLoginState stores login state keyed by the state parameter.
func (s *Store) SaveLoginState(_ context.Context, state *storage.LoginState) error {
	if state == nil {
		return fmt.Errorf("login state cannot be nil")
	}
	if state.State == "" {
		return fmt.Errorf("state parameter cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.loginStates[state.State] = &cp
	return nil
}

// AtomicGetAndDeleteLoginState retrieves and deletes login state in one step.
// Expired or already-consumed states report ErrLoginStateNotFound.
func (s *Store) AtomicGetAndDeleteLoginState(_ context.Context, state string) (*storage.LoginState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ls, ok := s.loginStates[state]
	if !ok {
		return nil, storage.ErrLoginStateNotFound
	}
	delete(s.loginStates, state)

	if !ls.ExpiresAt.IsZero() && time.Now().After(ls.ExpiresAt) {
		return nil, storage.ErrLoginStateNotFound
	}
	cp := *ls
	return &cp, nil
}

// Take purges entries older than the window for the key, counts the
// remainder, and records the request only when the count is below limit.
// The whole sequence runs under the store mutex, so concurrent checks for
// the same key serialize and never admit more than limit requests per window.
func (s *Store) Take(_ context.Context, key string, limit int, window time.Duration, now time.Time) (storage.TakeResult, error) {
	windowStart := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.rateEntries[key]
	if !exists {
		if s.maxRateEntries > 0 && len(s.rateEntries) >= s.maxRateEntries {
			s.evictLRU()
		}
		entry := &rateLimitEntry{
			key:        key,
			timestamps: []time.Time{now},
			lastAccess: now,
		}
		s.rateEntries[key] = s.rateLRU.PushFront(entry)
		return storage.TakeResult{Allowed: true, Count: 1, OldestInWindow: now}, nil
	}

	// Move to front (most recently used)
	s.rateLRU.MoveToFront(elem)
	entry := elem.Value.(*rateLimitEntry)
	entry.lastAccess = now

	// Clean old timestamps outside the window (in-place filtering)
	n := 0
	for _, t := range entry.timestamps {
		if t.After(windowStart) {
			entry.timestamps[n] = t
			n++
		}
	}
	entry.timestamps = entry.timestamps[:n]

	count := len(entry.timestamps)
	oldest := now
	if count > 0 {
		oldest = entry.timestamps[0]
	}

	// Rejected requests are not recorded, so a full window drains as the
	// oldest entries age out rather than being pushed forward.
	if count >= limit {
		return storage.TakeResult{Allowed: false, Count: count, OldestInWindow: oldest}, nil
	}

	entry.timestamps = append(entry.timestamps, now)
	return storage.TakeResult{Allowed: true, Count: count + 1, OldestInWindow: oldest}, nil
}

// evictLRU removes the least recently used rate-limit entry.
// Must be called with the mutex held.
func (s *Store) evictLRU() {
	elem := s.rateLRU.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*rateLimitEntry)
	delete(s.rateEntries, entry.key)
	s.rateLRU.Remove(elem)
	s.rateEvictions++

	s.logger.Debug("Rate limit LRU eviction",
		"key", entry.key,
		"total_evictions", s.rateEvictions,
		"current_entries", len(s.rateEntries))
}

// Stats reports current entry counts for monitoring.
type Stats struct {
	Sessions           int
	LoginStates        int
	RateLimitKeys      int
	RateLimitEvictions int64
}

// GetStats returns current store statistics.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Sessions:           len(s.sessions),
		LoginStates:        len(s.loginStates),
		RateLimitKeys:      len(s.rateEntries),
		RateLimitEvictions: s.rateEvictions,
	}
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes expired sessions, expired login states, and idle
// rate-limit keys.
func (s *Store) cleanup() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removedSessions := 0
	for id, session := range s.sessions {
		if sessionExpired(session, now) {
			delete(s.sessions, id)
			removedSessions++
		}
	}

	removedStates := 0
	for state, ls := range s.loginStates {
		if !ls.ExpiresAt.IsZero() && now.After(ls.ExpiresAt) {
			delete(s.loginStates, state)
			removedStates++
		}
	}

	removedKeys := 0
	var next *list.Element
	for elem := s.rateLRU.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*rateLimitEntry)
		if now.Sub(entry.lastAccess) > rateLimitIdleTimeout {
			delete(s.rateEntries, entry.key)
			s.rateLRU.Remove(elem)
			removedKeys++
		}
	}

	if removedSessions > 0 || removedStates > 0 || removedKeys > 0 {
		s.logger.Debug("Store cleanup completed",
			"expired_sessions", removedSessions,
			"expired_login_states", removedStates,
			"idle_rate_limit_keys", removedKeys)
	}
}

func sessionExpired(session *storage.SSOSession, now time.Time) bool {
	return !session.ExpiresAt.IsZero() && now.After(session.ExpiresAt)
}

// copySession returns a deep copy so callers and the store never share
// mutable state.
func copySession(session *storage.SSOSession) *storage.SSOSession {
	cp := *session
	if session.IdentityAttributes != nil {
		cp.IdentityAttributes = make(map[string]string, len(session.IdentityAttributes))
		for k, v := range session.IdentityAttributes {
			cp.IdentityAttributes[k] = v
		}
	}
	return &cp
}
