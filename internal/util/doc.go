// Package util provides small shared helpers that don't fit into
// domain-specific packages.
//
// Key utilities:
//   - SafeTruncate: safely truncates strings when logging sensitive data
//   - NormalizeURL: trailing-slash normalization for issuer comparison
package util
