package resilience

import (
	"context"
	"time"
)

// WithTimeout runs op under a context deadline. When the deadline expires
// before op completes, the operation's error is replaced with a typed
// *TimeoutError naming the operation. A non-positive duration runs op with
// the caller's context untouched.
//
// The operation must honor context cancellation; the deadline cannot
// interrupt code that ignores ctx.
func WithTimeout[T any](ctx context.Context, d time.Duration, operation string, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result, err := op(tctx)
	if err != nil && tctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		var zero T
		return zero, &TimeoutError{Operation: operation, After: d}
	}
	return result, err
}
