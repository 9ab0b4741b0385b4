package testutil

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// FakeIdP is an in-process OIDC identity provider for tests. It serves a
// discovery document, a JWKS endpoint backed by a real RSA key, and token,
// userinfo, and revocation endpoints with injectable failure behavior, so
// tests exercise the full verification path including signatures.
type FakeIdP struct {
	Server *httptest.Server

	// ClientID and ClientSecret are the relying-party credentials the token
	// endpoint accepts.
	ClientID     string
	ClientSecret string

	// Subject is the sub claim minted into ID tokens and userinfo responses.
	Subject string

	// Nonce is minted into the next ID token. Tests set it from the
	// authorization URL's nonce parameter before exchanging the code.
	Nonce string

	// ExtraClaims are merged into ID tokens and userinfo responses.
	ExtraClaims map[string]any

	// RefreshToken is included in token responses when non-empty.
	RefreshToken string

	// TokenStatus overrides the token endpoint status (default 200).
	TokenStatus int
	// RevokeStatus overrides the revocation endpoint status (default 200).
	RevokeStatus int
	// UserInfoStatus overrides the userinfo endpoint status (default 200).
	UserInfoStatus int
	// OmitJWKS drops jwks_uri from the discovery document, forcing the
	// shape-only verification downgrade.
	OmitJWKS bool

	key    *rsa.PrivateKey
	keyID  string
	issuer string

	mu             sync.Mutex
	tokenRequests  int
	revokeRequests int
	revokedTokens  []string
}

// NewFakeIdP starts a fake identity provider. Callers must Close it.
func NewFakeIdP() *FakeIdP {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic("rsa.GenerateKey: " + err.Error())
	}

	idp := &FakeIdP{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		Subject:      "subject-1",
		key:          key,
		keyID:        "test-key-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/keys", idp.handleJWKS)
	mux.HandleFunc("/token", idp.handleToken)
	mux.HandleFunc("/userinfo", idp.handleUserInfo)
	mux.HandleFunc("/revoke", idp.handleRevoke)
	idp.Server = httptest.NewServer(mux)
	// Issuer validation rejects IP-literal hosts in every mode, but localhost
	// resolves to the same loopback listener the test server binds.
	idp.issuer = strings.Replace(idp.Server.URL, "127.0.0.1", "localhost", 1)
	return idp
}

// Close shuts the server down.
func (f *FakeIdP) Close() { f.Server.Close() }

// Issuer returns the provider's issuer identifier.
func (f *FakeIdP) Issuer() string { return f.issuer }

// TokenRequests reports how many times the token endpoint was called.
func (f *FakeIdP) TokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequests
}

// RevokeRequests reports how many times the revocation endpoint was called.
func (f *FakeIdP) RevokeRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revokeRequests
}

// RevokedTokens returns the token values posted to the revocation endpoint.
func (f *FakeIdP) RevokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revokedTokens...)
}

func (f *FakeIdP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	doc := map[string]any{
		"issuer":                 f.issuer,
		"authorization_endpoint": f.issuer + "/authorize",
		"token_endpoint":         f.issuer + "/token",
		"userinfo_endpoint":      f.issuer + "/userinfo",
		"revocation_endpoint":    f.issuer + "/revoke",
	}
	if !f.OmitJWKS {
		doc["jwks_uri"] = f.issuer + "/keys"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (f *FakeIdP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	pub := &f.key.PublicKey
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": f.keyID,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(jwks)
}

func (f *FakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenRequests++
	f.mu.Unlock()

	if f.TokenStatus != 0 && f.TokenStatus != http.StatusOK {
		http.Error(w, `{"error":"server_error"}`, f.TokenStatus)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}

	resp := map[string]any{
		"access_token": "access-token-value",
		"token_type":   "Bearer",
		"expires_in":   3600,
		"id_token":     f.MintIDToken(f.issuer, f.ClientID, f.Nonce, time.Hour),
	}
	if f.RefreshToken != "" {
		resp["refresh_token"] = f.RefreshToken
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *FakeIdP) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if f.UserInfoStatus != 0 && f.UserInfoStatus != http.StatusOK {
		http.Error(w, `{"error":"server_error"}`, f.UserInfoStatus)
		return
	}
	if r.Header.Get("Authorization") == "" {
		http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
		return
	}
	claims := map[string]any{"sub": f.Subject}
	for k, v := range f.ExtraClaims {
		claims[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(claims)
}

func (f *FakeIdP) handleRevoke(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.revokeRequests++
	f.mu.Unlock()

	if f.RevokeStatus != 0 && f.RevokeStatus != http.StatusOK {
		http.Error(w, "revocation failed", f.RevokeStatus)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.revokedTokens = append(f.revokedTokens, r.PostFormValue("token"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// MintIDToken signs an RS256 ID token with the provider's key. Lifetime may
// be negative to mint an already-expired token.
func (f *FakeIdP) MintIDToken(issuer, audience, nonce string, lifetime time.Duration) string {
	now := time.Now()
	claims := map[string]any{
		"iss": issuer,
		"sub": f.Subject,
		"aud": audience,
		"exp": now.Add(lifetime).Unix(),
		"iat": now.Unix(),
	}
	if nonce != "" {
		claims["nonce"] = nonce
	}
	for k, v := range f.ExtraClaims {
		claims[k] = v
	}
	return f.sign(claims)
}

func (f *FakeIdP) sign(claims map[string]any) string {
	header := map[string]any{"alg": "RS256", "typ": "JWT", "kid": f.keyID}
	signingInput := b64JSON(header) + "." + b64JSON(claims)

	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, digest[:])
	if err != nil {
		panic("rsa.SignPKCS1v15: " + err.Error())
	}
	return signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func b64JSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("json.Marshal: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}
