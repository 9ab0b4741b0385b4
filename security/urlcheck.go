package security

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidationError represents a URL validation failure with detailed
// information for operators while keeping error messages generic for clients.
type URLValidationError struct {
	// Category is the error category for logging/metrics
	Category string
	// URL is the offending URL (sanitized for logging)
	URL string
	// Reason is the detailed internal reason (for logs, not returned to client)
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *URLValidationError) Error() string {
	return e.ClientMessage
}

// URL validation error categories for metrics and logging.
const (
	URLErrorCategoryBlockedScheme    = "blocked_scheme"
	URLErrorCategorySchemeNotAllowed = "scheme_not_allowed"
	URLErrorCategoryInvalidFormat    = "invalid_format"
	URLErrorCategoryMissingHost      = "missing_host"
	URLErrorCategoryLoopback         = "loopback_not_allowed"
	URLErrorCategoryPrivateIP        = "private_ip"
	URLErrorCategoryLinkLocal        = "link_local"
	URLErrorCategoryUnspecifiedAddr  = "unspecified_address"
	URLErrorCategoryMetadataService  = "metadata_service"
	URLErrorCategoryInternalDomain   = "internal_domain"
	URLErrorCategoryHostNotAllowed   = "host_not_allowed"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// MaxURLLength bounds URL inputs to prevent resource exhaustion during parsing.
const MaxURLLength = 2048

// BlockedURLSchemes lists URI schemes that are never allowed for outbound
// endpoint URLs, regardless of configuration (security invariant).
var BlockedURLSchemes = []string{"javascript", "data", "file", "vbscript", "about"}

// metadataAddresses are cloud metadata service addresses that are blocked
// unconditionally. Reaching these from a server-side fetch exposes instance
// credentials (AWS/GCP/Azure IMDS, ECS task metadata).
var metadataAddresses = []net.IP{
	net.ParseIP("169.254.169.254"),
	net.ParseIP("169.254.170.2"),
	net.ParseIP("fd00:ec2::254"),
}

// URLOptions controls which classes of URLs ValidateURL accepts.
// The zero value is the strictest mode: HTTPS only, public addresses only.
type URLOptions struct {
	// AllowedSchemes overrides the default scheme allow-list (https only).
	// Blocked schemes are rejected even if listed here.
	AllowedSchemes []string
	// AllowHTTP additionally permits the http scheme (development only).
	AllowHTTP bool
	// AllowLoopback permits loopback hosts (localhost, 127.0.0.0/8, ::1).
	AllowLoopback bool
	// AllowPrivateIPs permits RFC 1918, IPv6 unique-local, link-local
	// addresses and internal-looking domain names (VPN/internal deployments).
	AllowPrivateIPs bool
}

// ValidateURL performs SSRF-aware validation of an outbound URL before it is
// fetched. It is a pure function: every call re-validates, and verdicts are
// never cached.
//
// Security Considerations:
//   - Scheme Blocking: javascript:, data:, file: and friends are always rejected
//   - Private IP Blocking: Prevents SSRF against internal services
//   - Metadata Blocking: 169.254.169.254 and ECS/IMDSv6 addresses are always rejected
//   - Internal Domain Heuristics: Catches *.internal, internal.*, *.local names
//     that resolve inside the perimeter
//
// Example:
//
//	if err := security.ValidateURL(doc.TokenEndpoint, security.URLOptions{}); err != nil {
//	    return fmt.Errorf("token endpoint rejected: %w", err)
//	}
func ValidateURL(rawURL string, opts URLOptions) error {
	if rawURL == "" {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			Reason:        "empty URL",
			ClientMessage: "url: must not be empty",
		}
	}
	if len(rawURL) > MaxURLLength {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("URL length %d exceeds maximum %d", len(rawURL), MaxURLLength),
			ClientMessage: "url: exceeds maximum length",
		}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "url: invalid format",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)

	// Step 1: Blocked schemes are rejected before the allow-list is consulted.
	for _, blocked := range BlockedURLSchemes {
		if scheme == blocked {
			return &URLValidationError{
				Category:      URLErrorCategoryBlockedScheme,
				URL:           SanitizeURLForLogging(rawURL),
				Reason:        fmt.Sprintf("scheme '%s' is in blocked list", scheme),
				ClientMessage: fmt.Sprintf("url: scheme '%s' is blocked for security reasons", scheme),
			}
		}
	}

	// Step 2: Scheme allow-list (https by default, http only when opted in).
	allowed := make([]string, 0, len(opts.AllowedSchemes)+2)
	if len(opts.AllowedSchemes) == 0 {
		allowed = append(allowed, SchemeHTTPS)
	} else {
		allowed = append(allowed, opts.AllowedSchemes...)
	}
	if opts.AllowHTTP {
		allowed = append(allowed, SchemeHTTP)
	}
	schemeOK := false
	for _, s := range allowed {
		if scheme == strings.ToLower(s) {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		return &URLValidationError{
			Category:      URLErrorCategorySchemeNotAllowed,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("scheme '%s' not in allowed set %v", scheme, allowed),
			ClientMessage: fmt.Sprintf("url: scheme '%s' is not allowed", scheme),
		}
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))
	if host == "" {
		return &URLValidationError{
			Category:      URLErrorCategoryMissingHost,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        "URL has no hostname",
			ClientMessage: "url: must have a hostname",
		}
	}

	// Step 3: IP-literal hosts get address-range checks.
	if ip := net.ParseIP(host); ip != nil {
		return validateIPHost(ip, host, rawURL, opts)
	}

	// Step 4: Hostname-based checks.
	return validateDomainHost(host, rawURL, opts)
}

// validateIPHost applies address-range policy to an IP-literal host.
func validateIPHost(ip net.IP, host, rawURL string, opts URLOptions) error {
	// SECURITY: Cloud metadata addresses are rejected unconditionally, even
	// when private ranges are otherwise allowed.
	for _, meta := range metadataAddresses {
		if ip.Equal(meta) {
			return &URLValidationError{
				Category:      URLErrorCategoryMetadataService,
				URL:           SanitizeURLForLogging(rawURL),
				Reason:        fmt.Sprintf("IP %s is a cloud metadata service address", host),
				ClientMessage: "url: cloud metadata addresses are not allowed",
			}
		}
	}

	// Unspecified addresses (0.0.0.0, ::) have undefined connect behavior.
	if ip.IsUnspecified() {
		return &URLValidationError{
			Category:      URLErrorCategoryUnspecifiedAddr,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("IP %s is unspecified (0.0.0.0 or ::)", host),
			ClientMessage: "url: unspecified addresses are not allowed",
		}
	}

	if ip.IsLoopback() && !opts.AllowLoopback {
		return &URLValidationError{
			Category:      URLErrorCategoryLoopback,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("IP %s is loopback", host),
			ClientMessage: "url: loopback addresses are not allowed",
		}
	}

	// IsPrivate covers RFC 1918 (10/8, 172.16/12, 192.168/16) and IPv6
	// unique-local (fc00::/7).
	if ip.IsPrivate() && !opts.AllowPrivateIPs {
		return &URLValidationError{
			Category:      URLErrorCategoryPrivateIP,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("IP %s is in a private range", host),
			ClientMessage: "url: private IP addresses are not allowed (SSRF protection)",
		}
	}

	if (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) && !opts.AllowPrivateIPs {
		return &URLValidationError{
			Category:      URLErrorCategoryLinkLocal,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("IP %s is link-local (could target cloud metadata services)", host),
			ClientMessage: "url: link-local addresses are not allowed (cloud SSRF protection)",
		}
	}

	return nil
}

// validateDomainHost applies loopback and internal-domain heuristics to a
// named host. Heuristics are lexical only; DNS resolution is intentionally
// not performed here because resolve-time answers can change between
// validation and use.
func validateDomainHost(host, rawURL string, opts URLOptions) error {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		if !opts.AllowLoopback {
			return &URLValidationError{
				Category:      URLErrorCategoryLoopback,
				URL:           SanitizeURLForLogging(rawURL),
				Reason:        fmt.Sprintf("hostname '%s' is a loopback name", host),
				ClientMessage: "url: loopback addresses are not allowed",
			}
		}
		return nil
	}

	if !opts.AllowPrivateIPs && isInternalDomain(host) {
		return &URLValidationError{
			Category:      URLErrorCategoryInternalDomain,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("hostname '%s' matches internal-domain heuristics", host),
			ClientMessage: "url: internal hostnames are not allowed (SSRF protection)",
		}
	}

	return nil
}

// isInternalDomain reports whether a hostname looks like an internal network
// name: *.internal (covers metadata.google.internal), internal.*, *.local,
// and the common corporate suffixes *.corp and *.lan.
func isInternalDomain(host string) bool {
	if host == "internal" || host == "local" || host == "corp" || host == "lan" {
		return true
	}
	for _, suffix := range []string{".internal", ".local", ".corp", ".lan"} {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return strings.HasPrefix(host, "internal.")
}

// ValidateIssuerURL validates an OIDC issuer URL with SSRF protection.
// Issuers are held to a stricter standard than generic endpoint URLs:
// IP-literal issuers are rejected, the hostname must carry a TLD, and in
// production HTTPS is mandatory with no private-network exceptions.
// Outside production, http and localhost issuers are tolerated for local
// identity providers.
//
// Example:
//
//	if err := security.ValidateIssuerURL("https://login.example.com", true); err != nil {
//	    return fmt.Errorf("invalid issuer: %w", err)
//	}
func ValidateIssuerURL(issuerURL string, production bool) error {
	if issuerURL == "" {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			Reason:        "empty issuer URL",
			ClientMessage: "issuer: must not be empty",
		}
	}

	parsed, err := url.Parse(issuerURL)
	if err != nil {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(issuerURL),
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "issuer: invalid URL format",
		}
	}

	// OIDC Core 3.1.2.1: the issuer identifier carries no query or fragment.
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(issuerURL),
			Reason:        "issuer URL contains query or fragment component",
			ClientMessage: "issuer: must not contain query or fragment",
		}
	}

	host := strings.ToLower(strings.TrimSuffix(parsed.Hostname(), "."))

	// SECURITY: IP-literal issuers defeat certificate identity checks and are
	// a common SSRF vector; they are rejected in every mode.
	if ip := net.ParseIP(host); ip != nil {
		return &URLValidationError{
			Category:      URLErrorCategoryPrivateIP,
			URL:           SanitizeURLForLogging(issuerURL),
			Reason:        fmt.Sprintf("issuer host '%s' is an IP literal", host),
			ClientMessage: "issuer: IP addresses are not allowed, use a hostname",
		}
	}

	isLocalhost := host == "localhost" || strings.HasSuffix(host, ".localhost")

	if production {
		if !strings.Contains(host, ".") {
			return &URLValidationError{
				Category:      URLErrorCategoryMissingHost,
				URL:           SanitizeURLForLogging(issuerURL),
				Reason:        fmt.Sprintf("issuer host '%s' has no top-level domain", host),
				ClientMessage: "issuer: hostname must be fully qualified",
			}
		}
		return ValidateURL(issuerURL, URLOptions{})
	}

	// Development mode: single-label hosts are fine for localhost only.
	if !isLocalhost && !strings.Contains(host, ".") {
		return &URLValidationError{
			Category:      URLErrorCategoryMissingHost,
			URL:           SanitizeURLForLogging(issuerURL),
			Reason:        fmt.Sprintf("issuer host '%s' has no top-level domain", host),
			ClientMessage: "issuer: hostname must be fully qualified",
		}
	}
	return ValidateURL(issuerURL, URLOptions{
		AllowHTTP:       true,
		AllowLoopback:   true,
		AllowPrivateIPs: true,
	})
}

// ValidateReturnURL validates a caller-supplied post-logout redirect target.
// Relative paths are accepted; absolute URLs must be HTTPS with a host from
// the allow-list. This prevents logout from being abused as an open redirect.
func ValidateReturnURL(rawURL string, allowedHosts []string) error {
	if rawURL == "" {
		return nil
	}
	if strings.ContainsAny(rawURL, "\\\r\n") {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        "return URL contains backslash or control characters",
			ClientMessage: "return_to: invalid characters",
		}
	}

	// Relative path form. "//host" is scheme-relative and must not slip
	// through as a path.
	if strings.HasPrefix(rawURL, "/") {
		if strings.HasPrefix(rawURL, "//") {
			return &URLValidationError{
				Category:      URLErrorCategoryInvalidFormat,
				URL:           SanitizeURLForLogging(rawURL),
				Reason:        "scheme-relative return URL",
				ClientMessage: "return_to: scheme-relative URLs are not allowed",
			}
		}
		return nil
	}

	if err := ValidateURL(rawURL, URLOptions{}); err != nil {
		return err
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return &URLValidationError{
			Category:      URLErrorCategoryInvalidFormat,
			URL:           SanitizeURLForLogging(rawURL),
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "return_to: invalid URL format",
		}
	}
	host := strings.ToLower(parsed.Hostname())
	for _, allowed := range allowedHosts {
		if host == strings.ToLower(allowed) {
			return nil
		}
	}
	return &URLValidationError{
		Category:      URLErrorCategoryHostNotAllowed,
		URL:           SanitizeURLForLogging(rawURL),
		Reason:        fmt.Sprintf("host '%s' not in return URL allow-list", host),
		ClientMessage: "return_to: host is not allowed",
	}
}

// SanitizeURLForLogging removes potentially sensitive information from URLs
// for logging. This prevents leaking credentials or tokens in logs while
// still providing useful context.
func SanitizeURLForLogging(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		// If we can't parse it, truncate for safety
		if len(rawURL) > 100 {
			return rawURL[:100] + "...[truncated]"
		}
		return rawURL
	}

	// Remove query parameters and fragment
	parsed.RawQuery = ""
	parsed.Fragment = ""

	// Remove userinfo (user:password in URLs)
	parsed.User = nil

	return parsed.String()
}

// IsURLValidationError checks if an error is a URL validation error.
func IsURLValidationError(err error) bool {
	_, ok := err.(*URLValidationError)
	return ok
}

// URLErrorCategory returns the error category if the error is a URLValidationError.
func URLErrorCategory(err error) string {
	if secErr, ok := err.(*URLValidationError); ok {
		return secErr.Category
	}
	return ""
}
