package internal

import (
	"context"
	"fmt"
	"time"
)

// backoff returns the delay after the given (0-based) failed attempt:
// 100ms, 200ms, 400ms, ... capped at maxDelay.
func backoff(attempt int, maxDelay time.Duration) time.Duration {
	if attempt > 16 {
		return maxDelay
	}
	return min(time.Duration(100*(1<<attempt))*time.Millisecond, maxDelay)
}

// RetryUntil calls fn until it succeeds or ctx is done, with exponential backoff
// capped at maxDelay. fn receives the 1-based attempt number.
// When ctx ends first, the returned error wraps both ctx.Err() and fn's last error.
func RetryUntil(ctx context.Context, maxDelay time.Duration, fn func(attempt int) error) error {
	_, err := RetryResultUntil(ctx, maxDelay, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}

// RetryResultUntil is like RetryUntil but for functions that return a value.
func RetryResultUntil[T any](ctx context.Context, maxDelay time.Duration, fn func(attempt int) (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; ; i++ {
		if ctx.Err() != nil {
			if err == nil {
				return result, ctx.Err()
			}
			return result, fmt.Errorf("gave up after %d attempts: %w (last error: %w)", i, ctx.Err(), err)
		}

		if result, err = fn(i + 1); err == nil {
			return result, nil
		}

		select {
		case <-time.After(backoff(i, maxDelay)):
		case <-ctx.Done():
		}
	}
}
