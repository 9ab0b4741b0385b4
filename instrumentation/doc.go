// Package instrumentation provides OpenTelemetry metrics and tracing for the
// federation broker.
//
// The package wraps provider management, pre-configured metric instruments,
// and span attribute conventions behind one Instrumentation type:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//	    ServiceName:    "enterprise-sso",
//	    ServiceVersion: "1.4.0",
//	    Enabled:        true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	inst.Metrics().RecordLoginStarted(ctx, orgID)
//
// Instruments cover the broker's operational surface: endpoint resolution
// (totals, durations, cache hits), resilience (retry attempts, breaker
// transitions), rate limiting decisions, login flow outcomes (exchanges,
// refreshes, revocations), and storage sizes via observable gauges.
//
// When instrumentation is not configured, Disabled() returns an instance
// backed by no-op providers, so recording calls stay unconditional at call
// sites with zero overhead.
//
// No sensitive values ever reach telemetry: attributes carry issuers,
// sources, outcomes, and key types, never tokens, codes, or rate-limit key
// values. Client IPs are attached only when Config.LogClientIPs permits.
package instrumentation
