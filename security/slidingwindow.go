package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/doorpasses/enterprise-sso/storage"
)

// KeyType classifies what a rate-limit key identifies.
type KeyType string

const (
	// KeyTypeUser keys a policy per authenticated user.
	KeyTypeUser KeyType = "user"
	// KeyTypeIP keys a policy per client IP address.
	KeyTypeIP KeyType = "ip"
	// KeyTypeToken keys a policy per API token.
	KeyTypeToken KeyType = "token"
)

// Key identifies one rate-limited principal. Counts are fully isolated per
// key: {user, A} never interacts with {user, B} or {ip, A}.
type Key struct {
	Type  KeyType
	Value string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.Value
}

// Policy is one sliding-window budget: at most Max events per trailing Window.
type Policy struct {
	Max    int
	Window time.Duration
}

// IsZero reports whether the policy is unset and a default should apply.
func (p Policy) IsZero() bool {
	return p.Max == 0 && p.Window == 0
}

// Named policies. The numbers assume human-driven login traffic; automated
// API traffic gets its own, much larger budget.
var (
	// PolicyAuthorization bounds login starts per user.
	PolicyAuthorization = Policy{Max: 10, Window: time.Hour}
	// PolicyTokenExchange bounds code exchanges per client IP.
	PolicyTokenExchange = Policy{Max: 20, Window: time.Hour}
	// PolicyAPIInvocation bounds API calls per token.
	PolicyAPIInvocation = Policy{Max: 1000, Window: time.Hour}
)

// Decision is the outcome of one rate-limit check.
type Decision struct {
	// Allowed reports whether the request was admitted and recorded.
	Allowed bool
	// Remaining is the budget left in the window after this decision,
	// clamped at zero.
	Remaining int
	// ResetAt is when the oldest in-window event expires, i.e. the earliest
	// moment a denied caller can retry with any chance of success.
	ResetAt time.Time
}

// RateLimitError reports a denied rate-limit check. It carries ResetAt so
// transports can emit a Retry-After.
type RateLimitError struct {
	Key     Key
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, resets at %s", e.Key, e.ResetAt.UTC().Format(time.RFC3339))
}

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	// FailClosed denies requests when the backing store errors. The default
	// fail-open admits the request: an unreachable Redis should degrade
	// rate governance, not take down every login.
	FailClosed bool
	// Auditor records store failures and denials when set.
	Auditor *Auditor
	// Logger receives store errors (default slog.Default).
	Logger *slog.Logger
	// Now overrides the clock for tests.
	Now func() time.Time
}

// Limiter enforces sliding-window policies over a shared RateLimitStore.
// With a Redis-backed store every process instance shares one view of the
// counters; with the in-memory store the limiter is per-instance only.
//
// The Nth request within a window is admitted and counted; the (N+1)th is
// denied and NOT counted, so a saturated window drains as old events age out
// rather than being extended by rejected traffic.
type Limiter struct {
	store      storage.RateLimitStore
	failClosed bool
	auditor    *Auditor
	logger     *slog.Logger
	now        func() time.Time
}

// NewLimiter creates a rate limiter over the given store.
func NewLimiter(store storage.RateLimitStore, opts LimiterOptions) *Limiter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		store:      store,
		failClosed: opts.FailClosed,
		auditor:    opts.Auditor,
		logger:     logger,
		now:        now,
	}
}

// Check applies the policy to the key. Expired events are purged as part of
// the check; there is no background sweep. The returned error is reserved
// for store/configuration failures in fail-closed mode; a plain denial is
// reported through Decision.Allowed.
//
// Example:
//
//	decision, err := limiter.Check(ctx, security.Key{Type: security.KeyTypeIP, Value: ip}, security.PolicyTokenExchange)
//	if err != nil {
//	    return err
//	}
//	if !decision.Allowed {
//	    return &security.RateLimitError{Key: key, ResetAt: decision.ResetAt}
//	}
func (l *Limiter) Check(ctx context.Context, key Key, policy Policy) (Decision, error) {
	if policy.Max <= 0 || policy.Window <= 0 {
		return Decision{}, fmt.Errorf("rate limit policy for %s is invalid: max=%d window=%s", key, policy.Max, policy.Window)
	}

	now := l.now()
	result, err := l.store.Take(ctx, key.String(), policy.Max, policy.Window, now)
	if err != nil {
		l.logger.Error("Rate limit store unavailable",
			"key_type", string(key.Type),
			"error", err,
			"fail_closed", l.failClosed)
		if l.auditor != nil {
			l.auditor.LogRateLimitStoreFailure(string(key.Type), err)
		}
		if l.failClosed {
			return Decision{}, fmt.Errorf("rate limit store unavailable: %w", err)
		}
		// Fail-open: admit without counting. The window start is unknown, so
		// report the most conservative reset a fresh window would have.
		return Decision{Allowed: true, Remaining: policy.Max - 1, ResetAt: now.Add(policy.Window)}, nil
	}

	remaining := policy.Max - result.Count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(policy.Window)
	if !result.OldestInWindow.IsZero() {
		resetAt = result.OldestInWindow.Add(policy.Window)
	}

	if !result.Allowed && l.auditor != nil {
		l.auditor.LogRateLimitExceeded(string(key.Type), key.Value)
	}

	return Decision{
		Allowed:   result.Allowed,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
