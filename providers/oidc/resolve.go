package oidc

import (
	"context"
	"fmt"
)

// ResolveEndpoints produces a usable endpoint set for a configuration from
// its preferred source, falling back to the other source when the preferred
// one fails.
//
// With preferDiscovery, discovery runs first and a failure falls back to the
// manual set when one is supplied and valid. Without it, the manual set is
// used first and discovery is the fallback. The fallback is deliberate
// policy, not silent best-effort: when both sources fail, the preferred
// source's failure is returned, wrapped with the fallback outcome, so
// operators see why the primary path broke.
//
// Example:
//
//	eps, err := client.ResolveEndpoints(ctx, cfg.IssuerURL, cfg.ManualEndpoints, cfg.AutoDiscovery)
//	if err != nil {
//	    return fmt.Errorf("no usable endpoints for %s: %w", cfg.OrgID, err)
//	}
func (c *Client) ResolveEndpoints(ctx context.Context, issuer string, manual *ManualEndpoints, preferDiscovery bool) (*Endpoints, error) {
	hasManual := manual != nil && !manual.IsZero()

	if preferDiscovery {
		eps, discoverErr := c.Discover(ctx, issuer)
		if discoverErr == nil {
			return eps, nil
		}
		if !hasManual {
			return nil, fmt.Errorf("discovery failed and no manual endpoints are configured: %w", discoverErr)
		}

		eps, manualErr := c.manualEndpoints(issuer, *manual)
		if manualErr != nil {
			// Surface the preferred source's failure; the fallback outcome
			// rides along for diagnosis.
			return nil, fmt.Errorf("discovery failed (%v); manual endpoint fallback also failed: %w", manualErr, discoverErr)
		}
		c.logger.Warn("Falling back to manual endpoints after discovery failure",
			"issuer", issuer, "error", discoverErr)
		return eps, nil
	}

	if hasManual {
		eps, manualErr := c.manualEndpoints(issuer, *manual)
		if manualErr == nil {
			return eps, nil
		}

		eps, discoverErr := c.Discover(ctx, issuer)
		if discoverErr != nil {
			return nil, fmt.Errorf("discovery fallback failed (%v); manual endpoints invalid: %w", discoverErr, manualErr)
		}
		c.logger.Warn("Falling back to discovery after manual endpoint validation failure",
			"issuer", issuer, "error", manualErr)
		return eps, nil
	}

	// No manual set configured; discovery is the only source.
	return c.Discover(ctx, issuer)
}

// manualEndpoints validates an administrator-supplied set and converts it to
// an Endpoints snapshot bound to the normalized issuer.
func (c *Client) manualEndpoints(issuer string, manual ManualEndpoints) (*Endpoints, error) {
	normalized, err := NormalizeIssuer(issuer)
	if err != nil {
		return nil, err
	}
	if err := ValidateManualEndpoints(manual, c.urlOptions()); err != nil {
		return nil, err
	}
	return manual.endpoints(normalized), nil
}
