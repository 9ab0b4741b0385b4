package instrumentation

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestTracingHelpers_NilSafe(t *testing.T) {
	// Every helper must tolerate a nil span: callers pass spans through
	// without checking whether tracing is enabled.
	RecordError(nil, errors.New("boom"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "failed")
	SetSpanAttributes(nil, attribute.String(AttrOrgID, "org-1"))
	AddFederationAttributes(nil, "org-1", "cfg-1")
	AddProviderAttributes(nil, "https://idp.example.com", "discovery")
	AddSecurityAttributes(nil, "203.0.113.1")
}

func TestTracingHelpers_WithSpan(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, span := inst.Tracer("broker").Start(context.Background(), "start_login")
	defer span.End()

	RecordError(span, errors.New("exchange failed"))
	SetSpanError(span, "exchange failed")
	SetSpanSuccess(span)
	AddFederationAttributes(span, "org-1", "cfg-1")
	AddFederationAttributes(span, "", "")
	AddProviderAttributes(span, "https://idp.example.com", "manual")
	AddSecurityAttributes(span, "")
}
