package sso

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/oauth2"
)

// generateRandomToken generates a cryptographically secure random token for
// state and nonce parameters (256 bits, base64url).
func generateRandomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic("crypto/rand failure: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// newPKCEVerifier generates a PKCE code verifier. The matching S256 challenge
// is attached to the authorization URL via oauth2.S256ChallengeOption and the
// verifier travels with the login state until the code exchange.
func newPKCEVerifier() string {
	return oauth2.GenerateVerifier()
}
