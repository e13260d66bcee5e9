package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
)

// WithTimeout runs fn with a context that expires after timeout and stops
// waiting for fn once it does. A non-positive timeout runs fn directly.
// fn must itself honour its context; WithTimeout only stops waiting. An
// expired deadline is reported as apperrors.ErrTimeout.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if err := ctx.Err(); err != context.DeadlineExceeded {
			return fmt.Errorf("%s: cancelled: %w", name, err)
		}
		return fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}
