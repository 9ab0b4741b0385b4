// Package mock provides mock implementations of the storage interfaces for
// testing. Every operation delegates to an overridable function field with an
// in-memory default, so tests can inject failures for a single operation
// while the rest of the store keeps working.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/doorpasses/enterprise-sso/storage"
)

// MockStore implements SessionStore, LoginStateStore, and RateLimitStore.
// Override any of the Func fields to inject behavior; the defaults act as a
// plain in-memory store without expiry or cleanup.
type MockStore struct {
	mu          sync.RWMutex
	sessions    map[string]*storage.SSOSession
	loginStates map[string]*storage.LoginState
	rateEvents  map[string][]time.Time

	SaveSessionFunc                  func(ctx context.Context, session *storage.SSOSession) error
	GetSessionFunc                   func(ctx context.Context, sessionID string) (*storage.SSOSession, error)
	DeleteSessionFunc                func(ctx context.Context, sessionID string) error
	AtomicGetAndDeleteSessionFunc    func(ctx context.Context, sessionID string) (*storage.SSOSession, error)
	SaveLoginStateFunc               func(ctx context.Context, state *storage.LoginState) error
	AtomicGetAndDeleteLoginStateFunc func(ctx context.Context, state string) (*storage.LoginState, error)
	TakeFunc                         func(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (storage.TakeResult, error)

	callMu     sync.Mutex
	CallCounts map[string]int
}

var (
	_ storage.SessionStore    = (*MockStore)(nil)
	_ storage.LoginStateStore = (*MockStore)(nil)
	_ storage.RateLimitStore  = (*MockStore)(nil)
)

// NewMockStore creates a mock store with in-memory defaults.
func NewMockStore() *MockStore {
	m := &MockStore{
		sessions:    make(map[string]*storage.SSOSession),
		loginStates: make(map[string]*storage.LoginState),
		rateEvents:  make(map[string][]time.Time),
		CallCounts:  make(map[string]int),
	}

	m.SaveSessionFunc = func(_ context.Context, session *storage.SSOSession) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sessions[session.SessionID] = session
		return nil
	}

	m.GetSessionFunc = func(_ context.Context, sessionID string) (*storage.SSOSession, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		session, ok := m.sessions[sessionID]
		if !ok {
			return nil, storage.ErrSessionNotFound
		}
		return session, nil
	}

	m.DeleteSessionFunc = func(_ context.Context, sessionID string) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.sessions, sessionID)
		return nil
	}

	m.AtomicGetAndDeleteSessionFunc = func(_ context.Context, sessionID string) (*storage.SSOSession, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		session, ok := m.sessions[sessionID]
		if !ok {
			return nil, storage.ErrSessionNotFound
		}
		delete(m.sessions, sessionID)
		return session, nil
	}

	m.SaveLoginStateFunc = func(_ context.Context, state *storage.LoginState) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.loginStates[state.State] = state
		return nil
	}

	m.AtomicGetAndDeleteLoginStateFunc = func(_ context.Context, state string) (*storage.LoginState, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		ls, ok := m.loginStates[state]
		if !ok {
			return nil, storage.ErrLoginStateNotFound
		}
		delete(m.loginStates, state)
		return ls, nil
	}

	m.TakeFunc = func(_ context.Context, key string, limit int, window time.Duration, now time.Time) (storage.TakeResult, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		windowStart := now.Add(-window)
		kept := m.rateEvents[key][:0]
		for _, t := range m.rateEvents[key] {
			if t.After(windowStart) {
				kept = append(kept, t)
			}
		}
		m.rateEvents[key] = kept

		oldest := now
		if len(kept) > 0 {
			oldest = kept[0]
		}
		if len(kept) >= limit {
			return storage.TakeResult{Allowed: false, Count: len(kept), OldestInWindow: oldest}, nil
		}
		m.rateEvents[key] = append(kept, now)
		return storage.TakeResult{Allowed: true, Count: len(kept) + 1, OldestInWindow: oldest}, nil
	}

	return m
}

func (m *MockStore) recordCall(name string) {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	m.CallCounts[name]++
}

// Calls reports how many times the named operation ran.
func (m *MockStore) Calls(name string) int {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	return m.CallCounts[name]
}

// SaveSession implements storage.SessionStore.
func (m *MockStore) SaveSession(ctx context.Context, session *storage.SSOSession) error {
	m.recordCall("SaveSession")
	return m.SaveSessionFunc(ctx, session)
}

// GetSession implements storage.SessionStore.
func (m *MockStore) GetSession(ctx context.Context, sessionID string) (*storage.SSOSession, error) {
	m.recordCall("GetSession")
	return m.GetSessionFunc(ctx, sessionID)
}

// DeleteSession implements storage.SessionStore.
func (m *MockStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.recordCall("DeleteSession")
	return m.DeleteSessionFunc(ctx, sessionID)
}

// AtomicGetAndDeleteSession implements storage.SessionStore.
func (m *MockStore) AtomicGetAndDeleteSession(ctx context.Context, sessionID string) (*storage.SSOSession, error) {
	m.recordCall("AtomicGetAndDeleteSession")
	return m.AtomicGetAndDeleteSessionFunc(ctx, sessionID)
}

// SaveLoginState implements storage.LoginStateStore.
func (m *MockStore) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	m.recordCall("SaveLoginState")
	return m.SaveLoginStateFunc(ctx, state)
}

// AtomicGetAndDeleteLoginState implements storage.LoginStateStore.
func (m *MockStore) AtomicGetAndDeleteLoginState(ctx context.Context, state string) (*storage.LoginState, error) {
	m.recordCall("AtomicGetAndDeleteLoginState")
	return m.AtomicGetAndDeleteLoginStateFunc(ctx, state)
}

// Take implements storage.RateLimitStore.
func (m *MockStore) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (storage.TakeResult, error) {
	m.recordCall("Take")
	return m.TakeFunc(ctx, key, limit, window, now)
}
