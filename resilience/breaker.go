package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker.
type BreakerState string

const (
	// BreakerClosed indicates normal operation, calls pass through.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen indicates a failing provider, calls fail immediately.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen indicates recovery testing, a single trial call is allowed.
	BreakerHalfOpen BreakerState = "half_open"
)

const (
	// DefaultFailureThreshold is the consecutive-failure count that opens a breaker.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long an open breaker waits before allowing a trial call.
	DefaultResetTimeout = 30 * time.Second
)

// BreakerConfig configures breaker behavior. The zero value gets safe defaults.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int
	// ResetTimeout is the open-state duration before a half-open trial.
	ResetTimeout time.Duration
	// Clock supplies time reads (SystemClock when nil).
	Clock Clock
	// Logger receives state transition logs (slog.Default when nil).
	Logger *slog.Logger
	// OnStateChange, when set, is invoked synchronously on every state
	// transition with the breaker name and the state entered. It runs under
	// the breaker's lock and must not call back into the breaker.
	OnStateChange func(name string, state BreakerState)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.Clock == nil {
		c.Clock = SystemClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Breaker manages circuit breaker state for a single logical operation, such
// as discovery against one issuer. It prevents cascading failures by tracking
// consecutive failures and transitioning through states:
// Closed -> Open -> HalfOpen -> Closed.
type Breaker struct {
	mu sync.Mutex

	name          string
	clock         Clock
	logger        *slog.Logger
	onStateChange func(name string, state BreakerState)

	state            BreakerState
	failureCount     int
	failureThreshold int
	resetTimeout     time.Duration

	lastStateChange time.Time
	lastFailureTime time.Time

	// For half-open state management
	halfOpenTestInProgress bool
}

// NewBreaker creates a breaker named for the operation it guards.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	return &Breaker{
		name:             name,
		clock:            cfg.Clock,
		logger:           cfg.Logger,
		onStateChange:    cfg.OnStateChange,
		state:            BreakerClosed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		lastStateChange:  cfg.Clock.Now(),
	}
}

// notifyStateChange fires the transition callback. Callers hold b.mu.
func (b *Breaker) notifyStateChange() {
	if b.onStateChange != nil {
		b.onStateChange(b.name, b.state)
	}
}

// Allow checks whether a call may proceed. It returns nil when the call is
// admitted and *OpenError when the breaker rejects it. An open breaker whose
// reset timeout has elapsed transitions to half-open and admits exactly one
// trial call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil

	case BreakerOpen:
		now := b.clock.Now()
		if now.Sub(b.lastStateChange) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.lastStateChange = now
			b.halfOpenTestInProgress = true
			b.logger.Info("Circuit breaker half-open, allowing trial call", "breaker", b.name)
			b.notifyStateChange()
			return nil
		}
		return &OpenError{Name: b.name, RetryAt: b.lastStateChange.Add(b.resetTimeout)}

	case BreakerHalfOpen:
		// Only one trial call at a time while half-open.
		if b.halfOpenTestInProgress {
			return &OpenError{Name: b.name, RetryAt: b.lastStateChange.Add(b.resetTimeout)}
		}
		b.halfOpenTestInProgress = true
		return nil

	default:
		return &OpenError{Name: b.name, RetryAt: b.lastStateChange.Add(b.resetTimeout)}
	}
}

// RecordSuccess records a successful call. It resets the failure count and
// closes the breaker from any state.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	previousState := b.state
	b.failureCount = 0
	b.halfOpenTestInProgress = false

	if b.state != BreakerClosed {
		b.state = BreakerClosed
		b.lastStateChange = b.clock.Now()
		if previousState == BreakerHalfOpen {
			b.logger.Info("Circuit breaker closed, recovery successful", "breaker", b.name)
		}
		b.notifyStateChange()
	}
}

// RecordFailure records a failed call. It opens the breaker when the
// consecutive failure threshold is reached, and reopens it when a half-open
// trial fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.clock.Now()
	b.halfOpenTestInProgress = false

	switch {
	case b.state == BreakerClosed && b.failureCount >= b.failureThreshold:
		b.state = BreakerOpen
		b.lastStateChange = b.clock.Now()
		b.logger.Warn("Circuit breaker opened, failure threshold exceeded",
			"breaker", b.name,
			"failures", b.failureCount)
		b.notifyStateChange()
	case b.state == BreakerHalfOpen:
		// Trial failed, back to open and restart the reset timer.
		b.state = BreakerOpen
		b.lastStateChange = b.clock.Now()
		b.logger.Warn("Circuit breaker reopened, trial call failed", "breaker", b.name)
		b.notifyStateChange()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerSnapshot is an immutable view of breaker state for monitoring.
type BreakerSnapshot struct {
	Name            string
	State           BreakerState
	FailureCount    int
	LastStateChange time.Time
	LastFailureTime time.Time
}

// Snapshot returns an immutable snapshot of the breaker state.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Name:            b.name,
		State:           b.state,
		FailureCount:    b.failureCount,
		LastStateChange: b.lastStateChange,
		LastFailureTime: b.lastFailureTime,
	}
}

// Guard runs op under the breaker: rejected calls return *OpenError without
// invoking op, and the call outcome feeds the breaker's state machine.
func Guard[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	result, err := op(ctx)
	if err != nil {
		b.RecordFailure()
		return zero, err
	}
	b.RecordSuccess()
	return result, nil
}

// BreakerRegistry hands out one breaker per logical operation name, creating
// them on first use with a shared configuration.
type BreakerRegistry struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates a registry whose breakers share cfg.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the named operation, creating it if needed.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := NewBreaker(name, r.cfg)
	r.breakers[name] = b
	return b
}

// Snapshots returns monitoring snapshots for every breaker in the registry.
func (r *BreakerRegistry) Snapshots() []BreakerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]BreakerSnapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
