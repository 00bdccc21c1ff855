package core

import (
	"context"
	"fmt"
	"time"
)

// DefaultRetryAttempts is the number of times a batch is tried before a
// transient failure is reported: one try plus three retries.
const DefaultRetryAttempts = 4

// RetryBackoff is the base delay between attempts; attempt n waits n times it.
var RetryBackoff = 100 * time.Millisecond

// RetryTransient runs fn until it succeeds, returns a non-transient error,
// or attempts are exhausted. It returns the number of attempts made.
// Retrying a whole import batch is safe because writes are upserts by email.
func RetryTransient(ctx context.Context, attempts int, fn func(ctx context.Context) error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := range attempts {
		err = fn(ctx)
		if err == nil {
			return i + 1, nil
		}
		if !IsTransient(err) || i == attempts-1 {
			return i + 1, err
		}
		if serr := sleepCtx(ctx, time.Duration(i+1)*RetryBackoff); serr != nil {
			return i + 1, fmt.Errorf("retry cancelled: %w", serr)
		}
	}
	return attempts, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
