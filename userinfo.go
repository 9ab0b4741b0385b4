package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/doorpasses/enterprise-sso/instrumentation"
	"github.com/doorpasses/enterprise-sso/providers/oidc"
	"github.com/doorpasses/enterprise-sso/resilience"
)

// maxUserInfoBody caps the userinfo response size. Providers return a small
// claim set; anything bigger is misbehavior.
const maxUserInfoBody = 1 << 20 // 1 MB

// UserInfo is the provider's userinfo response, raw and mapped.
type UserInfo struct {
	// Subject is the sub claim. Providers must return it.
	Subject string
	// Claims is the full userinfo response body.
	Claims map[string]any
	// Attributes holds the claims projected through the configuration's
	// attribute mapping.
	Attributes map[string]string
}

// FetchUserInfo fetches claims from the provider's userinfo endpoint with the
// given access token and projects them through the configuration's attribute
// mapping. The endpoint URL is SSRF-validated immediately before the call and
// the request carries the userinfo retry budget.
func (b *Broker) FetchUserInfo(ctx context.Context, cfg *Configuration, eps *oidc.Endpoints, accessToken string) (*UserInfo, error) {
	ctx, finish := b.startSpan(ctx, "fetch_userinfo", "")
	instrumentation.AddFederationAttributes(trace.SpanFromContext(ctx), cfg.OrgID, cfg.ID)
	info, err := b.fetchUserInfo(ctx, cfg, eps, accessToken)
	finish(err)
	return info, err
}

func (b *Broker) fetchUserInfo(ctx context.Context, cfg *Configuration, eps *oidc.Endpoints, accessToken string) (*UserInfo, error) {
	if eps.UserInfoEndpoint == "" {
		return nil, ErrInvalidConfiguration("provider has no userinfo endpoint")
	}
	if accessToken == "" {
		return nil, ErrTokenInvalid("access token is required")
	}
	if err := b.checkOutboundURL(eps.UserInfoEndpoint, cfg.OrgID); err != nil {
		return nil, err
	}

	claims, stats, err := resilience.Execute(ctx, b.logger, resilience.UserInfoPolicy(), "userinfo",
		func(ctx context.Context) (map[string]any, error) {
			return b.fetchUserInfoOnce(ctx, eps.UserInfoEndpoint, accessToken)
		})
	b.metrics.RecordRetryAttempts(ctx, "userinfo", stats.Attempts-1)
	b.metrics.RecordUserInfo(ctx, err == nil)
	if err != nil {
		return nil, classifyError(err, ErrProviderUnavailable)
	}

	subject, _ := claims["sub"].(string)
	if subject == "" {
		return nil, ErrTokenInvalid("userinfo response is missing the sub claim")
	}

	return &UserInfo{
		Subject:    subject,
		Claims:     claims,
		Attributes: cfg.MapAttributes(claims),
	}, nil
}

func (b *Broker) fetchUserInfoOnce(ctx context.Context, endpoint, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &resilience.HTTPError{URL: endpoint, StatusCode: resp.StatusCode, Body: string(body[:min(len(body), 256)])}
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}
	return claims, nil
}
