package oidc

import (
	"errors"
	"fmt"
)

// Discovery pipeline stages. Each DiscoveryError records the stage that
// failed so logs and callers can tell a rejected issuer from a provider
// outage from a malformed document.
const (
	StageValidateIssuer   = "validate_issuer"
	StageValidateURL      = "validate_discovery_url"
	StageFetch            = "fetch"
	StageValidateResponse = "validate_response"
	StageParse            = "parse"
	StageValidateDocument = "validate_document"
)

// DiscoveryError describes a failed discovery attempt for one issuer.
type DiscoveryError struct {
	// Stage is the pipeline step that failed (Stage* constants).
	Stage string
	// Issuer is the normalized issuer being resolved.
	Issuer string
	// Err is the underlying cause.
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("oidc discovery for %s failed at %s: %v", e.Issuer, e.Stage, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// IsDiscoveryError reports whether err is a *DiscoveryError anywhere in its
// chain, returning it when found.
func IsDiscoveryError(err error) (*DiscoveryError, bool) {
	var de *DiscoveryError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ID token verification failures that callers branch on. Nonce errors mean
// the token was not minted for this login attempt and the session must not
// be established.
var (
	// ErrIDTokenMissing indicates the provider's token response carried no
	// id_token even though the openid scope was requested.
	ErrIDTokenMissing = errors.New("provider response missing id_token")

	// ErrNonceMissing indicates the ID token has no nonce claim although one
	// was sent in the authorization request.
	ErrNonceMissing = errors.New("id token missing nonce claim")

	// ErrNonceMismatch indicates the ID token's nonce does not match the one
	// generated for this login attempt.
	ErrNonceMismatch = errors.New("id token nonce does not match login state")
)
