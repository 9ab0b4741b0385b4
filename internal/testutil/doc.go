// Package testutil provides test doubles for the federation broker,
// centered on FakeIdP: an in-process OIDC provider with real RS256-signed
// ID tokens and injectable failure modes.
package testutil
