package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/doorpasses/enterprise-sso/storage"
)

func setupStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewStoreWithClient(client, "test:")
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func testSession(sessionID string) *storage.SSOSession {
	now := time.Now().Truncate(time.Second)
	return &storage.SSOSession{
		SessionID:             sessionID,
		ConfigID:              "cfg-1",
		OrgID:                 "org-1",
		Subject:               "subject-1",
		EncryptedAccessToken:  "enc-access",
		EncryptedRefreshToken: "enc-refresh",
		EncryptedIDToken:      "enc-id",
		TokenType:             "Bearer",
		TokenExpiry:           now.Add(time.Hour),
		IdentityAttributes:    map[string]string{"dept": "sales"},
		CreatedAt:             now,
		ExpiresAt:             now.Add(8 * time.Hour),
	}
}

func TestStore_SessionRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	want := testSession("session-1")
	if err := store.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := store.GetSession(ctx, "session-1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}

	if got.SessionID != want.SessionID || got.OrgID != want.OrgID || got.Subject != want.Subject {
		t.Errorf("GetSession() = %+v, want %+v", got, want)
	}
	if got.EncryptedAccessToken != want.EncryptedAccessToken ||
		got.EncryptedRefreshToken != want.EncryptedRefreshToken ||
		got.EncryptedIDToken != want.EncryptedIDToken {
		t.Error("encrypted token fields did not round-trip")
	}
	if !got.TokenExpiry.Equal(want.TokenExpiry) || !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("timestamps did not round-trip: got expiry=%v expires=%v", got.TokenExpiry, got.ExpiresAt)
	}
	if got.IdentityAttributes["dept"] != "sales" {
		t.Errorf("IdentityAttributes = %v", got.IdentityAttributes)
	}
}

func TestStore_GetSession_NotFound(t *testing.T) {
	store, _ := setupStore(t)

	_, err := store.GetSession(context.Background(), "nope")
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_SessionExpiresViaTTL(t *testing.T) {
	store, mr := setupStore(t)
	ctx := context.Background()

	session := testSession("session-ttl")
	session.ExpiresAt = time.Now().Add(time.Minute)
	if err := store.SaveSession(ctx, session); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, err := store.GetSession(ctx, "session-ttl")
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("GetSession() after TTL error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_SaveSession_AlreadyExpired(t *testing.T) {
	store, _ := setupStore(t)

	session := testSession("session-old")
	session.ExpiresAt = time.Now().Add(-time.Minute)
	if err := store.SaveSession(context.Background(), session); err == nil {
		t.Error("SaveSession() should reject an already expired session")
	}
}

func TestStore_AtomicGetAndDeleteSession(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if err := store.SaveSession(ctx, testSession("session-once")); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := store.AtomicGetAndDeleteSession(ctx, "session-once")
	if err != nil {
		t.Fatalf("AtomicGetAndDeleteSession() error = %v", err)
	}
	if got.SessionID != "session-once" {
		t.Errorf("SessionID = %q", got.SessionID)
	}

	_, err = store.AtomicGetAndDeleteSession(ctx, "session-once")
	if !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("second consume error = %v, want ErrSessionNotFound", err)
	}
}

func TestStore_DeleteSession_Missing(t *testing.T) {
	store, _ := setupStore(t)

	if err := store.DeleteSession(context.Background(), "nope"); err != nil {
		t.Errorf("DeleteSession() of a missing session error = %v, want nil", err)
	}
}

func TestStore_LoginStateRoundTrip(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	want := &storage.LoginState{
		State:        "state-abc",
		OrgID:        "org-1",
		ConfigID:     "cfg-1",
		Nonce:        "nonce-xyz",
		CodeVerifier: "verifier",
		ReturnTo:     "https://app.example.com/dashboard",
		CreatedAt:    now,
		ExpiresAt:    now.Add(10 * time.Minute),
	}
	if err := store.SaveLoginState(ctx, want); err != nil {
		t.Fatalf("SaveLoginState() error = %v", err)
	}

	got, err := store.AtomicGetAndDeleteLoginState(ctx, "state-abc")
	if err != nil {
		t.Fatalf("AtomicGetAndDeleteLoginState() error = %v", err)
	}
	if got.Nonce != want.Nonce || got.CodeVerifier != want.CodeVerifier || got.ReturnTo != want.ReturnTo {
		t.Errorf("AtomicGetAndDeleteLoginState() = %+v, want %+v", got, want)
	}

	// Consuming is destructive, so a replayed state is gone.
	_, err = store.AtomicGetAndDeleteLoginState(ctx, "state-abc")
	if !errors.Is(err, storage.ErrLoginStateNotFound) {
		t.Errorf("replay error = %v, want ErrLoginStateNotFound", err)
	}
}

func TestStore_SaveLoginState_Expired(t *testing.T) {
	store, _ := setupStore(t)

	err := store.SaveLoginState(context.Background(), &storage.LoginState{
		State:     "state-old",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err == nil {
		t.Error("SaveLoginState() should reject expired state")
	}
}

func TestStore_Take_WindowBoundary(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	for i := 1; i <= 3; i++ {
		result, err := store.Take(ctx, "user:alice", 3, time.Hour, base)
		if err != nil {
			t.Fatalf("Take() %d error = %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("Take() %d should be allowed", i)
		}
		if result.Count != i {
			t.Errorf("Take() %d count = %d, want %d", i, result.Count, i)
		}
	}

	// Over the limit: denied and not counted.
	result, err := store.Take(ctx, "user:alice", 3, time.Hour, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if result.Allowed {
		t.Error("4th Take() should be denied")
	}
	if result.Count != 3 {
		t.Errorf("denied Take() count = %d, want 3", result.Count)
	}
	if !result.OldestInWindow.Equal(base) {
		t.Errorf("OldestInWindow = %v, want %v", result.OldestInWindow, base)
	}

	// One window after the first events they age out.
	result, err = store.Take(ctx, "user:alice", 3, time.Hour, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if !result.Allowed {
		t.Error("Take() a full window later should be allowed again")
	}
	if result.Count != 1 {
		t.Errorf("count after window = %d, want 1", result.Count)
	}
}

func TestStore_Take_KeyIsolation(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.Take(ctx, "user:alice", 1, time.Hour, now); err != nil {
		t.Fatalf("Take() error = %v", err)
	}

	result, err := store.Take(ctx, "user:bob", 1, time.Hour, now)
	if err != nil {
		t.Fatalf("Take() error = %v", err)
	}
	if !result.Allowed {
		t.Error("a different key must have its own window")
	}
}

func TestStore_Take_InvalidArgs(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	if _, err := store.Take(ctx, "k", 0, time.Hour, time.Now()); err == nil {
		t.Error("Take() with zero limit should error")
	}
	if _, err := store.Take(ctx, "k", 1, 0, time.Now()); err == nil {
		t.Error("Take() with zero window should error")
	}
}

func TestStore_KeyPrefixIsolation(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	storeA := NewStoreWithClient(client, "tenant-a:")
	storeB := NewStoreWithClient(client, "tenant-b:")
	ctx := context.Background()

	if err := storeA.SaveSession(ctx, testSession("shared-id")); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	if _, err := storeB.GetSession(ctx, "shared-id"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("GetSession() across prefixes error = %v, want ErrSessionNotFound", err)
	}
}

func TestNewStore(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewStore(context.Background(), Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if store.keyPrefix != DefaultKeyPrefix {
		t.Errorf("keyPrefix = %q, want %q", store.keyPrefix, DefaultKeyPrefix)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestNewStore_RequiresAddr(t *testing.T) {
	if _, err := NewStore(context.Background(), Config{}); err == nil {
		t.Error("NewStore() without an address should error")
	}
}
