package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/marketpulse/transaction-analytics/pkg/errors"
)

// WithTimeout runs fn under a derived context that expires after timeout.
// fn keeps running in its own goroutine if it ignores the context, but the
// caller gets an error as soon as the deadline passes. A non-positive
// timeout disables the limit.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("%s: parent context cancelled: %w", name, ctx.Err())
		}
		return fmt.Errorf("%s exceeded %v: %w", name, timeout, apperrors.ErrTimeout)
	}
}
