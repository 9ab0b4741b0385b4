package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doorpasses/enterprise-sso/storage"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultKeyPrefix namespaces this module's keys in a shared Redis.
	DefaultKeyPrefix = "sso:"
)

// Config holds Redis connection configuration.
type Config struct {
	// Addr is the Redis server address ("host:port").
	Addr string

	// Username and Password authenticate with Redis ACLs. Empty means no
	// authentication.
	Username string
	Password string

	// DB selects the logical database.
	DB int

	// KeyPrefix namespaces keys (default "sso:").
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements the storage interfaces on Redis, giving a horizontally
// scaled deployment one shared view of sessions, login state, and rate-limit
// counters.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

// Store implements all three storage interfaces.
var (
	_ storage.SessionStore    = (*Store)(nil)
	_ storage.LoginStateStore = (*Store)(nil)
	_ storage.RateLimitStore  = (*Store)(nil)
)

// NewStore connects to Redis and verifies the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Store{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewStoreWithClient creates a Store over a pre-configured client.
// This is useful for testing with miniredis.
func NewStoreWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) sessionKey(sessionID string) string {
	return s.keyPrefix + "session:" + sessionID
}

func (s *Store) loginKey(state string) string {
	return s.keyPrefix + "login:" + state
}

func (s *Store) rateKey(key string) string {
	return s.keyPrefix + "rate:" + key
}

// storedSession is the JSON wire form of a session record.
type storedSession struct {
	SessionID             string            `json:"session_id"`
	ConfigID              string            `json:"config_id"`
	OrgID                 string            `json:"org_id"`
	Subject               string            `json:"subject"`
	EncryptedAccessToken  string            `json:"encrypted_access_token"`
	EncryptedRefreshToken string            `json:"encrypted_refresh_token,omitempty"`
	EncryptedIDToken      string            `json:"encrypted_id_token,omitempty"`
	TokenType             string            `json:"token_type,omitempty"`
	TokenExpiry           int64             `json:"token_expiry,omitempty"`
	IdentityAttributes    map[string]string `json:"identity_attributes,omitempty"`
	CreatedAt             int64             `json:"created_at"`
	ExpiresAt             int64             `json:"expires_at,omitempty"`
}

func toStoredSession(session *storage.SSOSession) *storedSession {
	stored := &storedSession{
		SessionID:             session.SessionID,
		ConfigID:              session.ConfigID,
		OrgID:                 session.OrgID,
		Subject:               session.Subject,
		EncryptedAccessToken:  session.EncryptedAccessToken,
		EncryptedRefreshToken: session.EncryptedRefreshToken,
		EncryptedIDToken:      session.EncryptedIDToken,
		TokenType:             session.TokenType,
		IdentityAttributes:    session.IdentityAttributes,
		CreatedAt:             session.CreatedAt.Unix(),
	}
	if !session.TokenExpiry.IsZero() {
		stored.TokenExpiry = session.TokenExpiry.Unix()
	}
	if !session.ExpiresAt.IsZero() {
		stored.ExpiresAt = session.ExpiresAt.Unix()
	}
	return stored
}

func (st *storedSession) session() *storage.SSOSession {
	session := &storage.SSOSession{
		SessionID:             st.SessionID,
		ConfigID:              st.ConfigID,
		OrgID:                 st.OrgID,
		Subject:               st.Subject,
		EncryptedAccessToken:  st.EncryptedAccessToken,
		EncryptedRefreshToken: st.EncryptedRefreshToken,
		EncryptedIDToken:      st.EncryptedIDToken,
		TokenType:             st.TokenType,
		IdentityAttributes:    st.IdentityAttributes,
		CreatedAt:             time.Unix(st.CreatedAt, 0),
	}
	if st.TokenExpiry != 0 {
		session.TokenExpiry = time.Unix(st.TokenExpiry, 0)
	}
	if st.ExpiresAt != 0 {
		session.ExpiresAt = time.Unix(st.ExpiresAt, 0)
	}
	return session
}

// SaveSession stores a session record. The Redis TTL mirrors the record's
// expiry so stale sessions evict server-side.
func (s *Store) SaveSession(ctx context.Context, session *storage.SSOSession) error {
	if session == nil || session.SessionID == "" {
		return errors.New("session with session ID is required")
	}

	data, err := json.Marshal(toStoredSession(session))
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt)
		if ttl <= 0 {
			return errors.New("session is already expired")
		}
	}

	if err := s.client.Set(ctx, s.sessionKey(session.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by local session ID.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*storage.SSOSession, error) {
	data, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s.decodeSession(data)
}

// DeleteSession removes a session record. Missing sessions are not an error.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// AtomicGetAndDeleteSession retrieves and deletes a session in one step via
// GETDEL, so concurrent logouts consume the record at most once.
func (s *Store) AtomicGetAndDeleteSession(ctx context.Context, sessionID string) (*storage.SSOSession, error) {
	data, err := s.client.GetDel(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to consume session: %w", err)
	}
	return s.decodeSession(data)
}

func (s *Store) decodeSession(data []byte) (*storage.SSOSession, error) {
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	session := stored.session()
	// The TTL usually evicts expired records; this covers clock drift and
	// records written without an expiry.
	if !session.ExpiresAt.IsZero() && time.Now().After(session.ExpiresAt) {
		return nil, storage.ErrSessionExpired
	}
	return session, nil
}

// storedLoginState is the JSON wire form of in-flight login state.
type storedLoginState struct {
	State        string `json:"state"`
	OrgID        string `json:"org_id"`
	ConfigID     string `json:"config_id"`
	Nonce        string `json:"nonce"`
	CodeVerifier string `json:"code_verifier,omitempty"`
	ReturnTo     string `json:"return_to,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

// SaveLoginState stores login state keyed by the state parameter.
func (s *Store) SaveLoginState(ctx context.Context, state *storage.LoginState) error {
	if state == nil || state.State == "" {
		return errors.New("login state with state parameter is required")
	}

	ttl := time.Until(state.ExpiresAt)
	if ttl <= 0 {
		return errors.New("login state is already expired")
	}

	data, err := json.Marshal(&storedLoginState{
		State:        state.State,
		OrgID:        state.OrgID,
		ConfigID:     state.ConfigID,
		Nonce:        state.Nonce,
		CodeVerifier: state.CodeVerifier,
		ReturnTo:     state.ReturnTo,
		CreatedAt:    state.CreatedAt.Unix(),
		ExpiresAt:    state.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal login state: %w", err)
	}

	if err := s.client.Set(ctx, s.loginKey(state.State), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store login state: %w", err)
	}
	return nil
}

// AtomicGetAndDeleteLoginState consumes login state in one step via GETDEL,
// so a provider callback is processed exactly once per state even under
// concurrent replays.
func (s *Store) AtomicGetAndDeleteLoginState(ctx context.Context, state string) (*storage.LoginState, error) {
	data, err := s.client.GetDel(ctx, s.loginKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrLoginStateNotFound
		}
		return nil, fmt.Errorf("failed to consume login state: %w", err)
	}

	var stored storedLoginState
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal login state: %w", err)
	}
	loginState := &storage.LoginState{
		State:        stored.State,
		OrgID:        stored.OrgID,
		ConfigID:     stored.ConfigID,
		Nonce:        stored.Nonce,
		CodeVerifier: stored.CodeVerifier,
		ReturnTo:     stored.ReturnTo,
		CreatedAt:    time.Unix(stored.CreatedAt, 0),
		ExpiresAt:    time.Unix(stored.ExpiresAt, 0),
	}
	if time.Now().After(loginState.ExpiresAt) {
		return nil, storage.ErrLoginStateNotFound
	}
	return loginState, nil
}

// takeScript runs the sliding-window check atomically per key: purge entries
// that have aged out of the window, count the remainder, and record the
// request only when the count is below the limit. Scores are microsecond
// timestamps; members carry a random suffix so concurrent requests in the
// same microsecond stay distinct.
// Returns {allowed, count, oldest-score} (oldest 0 when the window is empty).
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)

local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, math.ceil(window / 1000))
	allowed = 1
	count = count + 1
end

local oldest = 0
local entries = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if entries[2] then
	oldest = tonumber(entries[2])
end

return {allowed, count, oldest}
`)

// Take implements the sliding-window check-and-record operation. The Lua
// script gives per-key atomicity across instances, so a horizontally scaled
// fleet never admits more than limit requests per window.
func (s *Store) Take(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (storage.TakeResult, error) {
	if limit <= 0 || window <= 0 {
		return storage.TakeResult{}, errors.New("limit and window must be positive")
	}

	member := make([]byte, 8)
	if _, err := rand.Read(member); err != nil {
		return storage.TakeResult{}, fmt.Errorf("failed to generate member suffix: %w", err)
	}

	raw, err := takeScript.Run(ctx, s.client,
		[]string{s.rateKey(key)},
		now.UnixMicro(),
		window.Microseconds(),
		limit,
		fmt.Sprintf("%d-%s", now.UnixNano(), hex.EncodeToString(member)),
	).Slice()
	if err != nil {
		return storage.TakeResult{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(raw) != 3 {
		return storage.TakeResult{}, fmt.Errorf("rate limit script returned %d values, want 3", len(raw))
	}

	allowed, _ := raw[0].(int64)
	count, _ := raw[1].(int64)
	result := storage.TakeResult{
		Allowed: allowed == 1,
		Count:   int(count),
	}
	if oldest, ok := raw[2].(int64); ok && oldest > 0 {
		result.OldestInWindow = time.UnixMicro(oldest)
	}
	return result, nil
}
