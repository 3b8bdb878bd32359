package queue

import (
	"context"
	"errors"
	"time"
)

const (
	defaultRetryAttempts = 5
	defaultTxTimeout     = 5 * time.Second
	retryInitialBackoff  = 10 * time.Millisecond
	retryMaxBackoff      = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// retryOnConflict runs op until it succeeds, fails with a non-conflict error,
// or the attempt budget runs out. Each attempt gets its own timeout.
func retryOnConflict(ctx context.Context, attempts int, timeout time.Duration, onRetry func(attempt int, err error), op func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := retryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = runAttempt(ctx, timeout, op)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrConflict) || attempt == attempts-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt+1, lastErr)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Wrap(KindStoreUnavailable, "", ctx.Err())
		}
		if next := delay * 2; next <= retryMaxBackoff {
			delay = next
		} else {
			delay = retryMaxBackoff
		}
	}
	return lastErr
}

func runAttempt(ctx context.Context, timeout time.Duration, op func(context.Context) error) error {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := op(attemptCtx)
	if err != nil && KindOf(err) == "" && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The per-attempt deadline fired; a fresh attempt may still commit.
		return Wrap(KindConflict, "", err)
	}
	return err
}
