package dataplane

import (
	"context"
	"errors"
	"time"
)

// errRetryable tags provider failures worth retrying (rate limits, 5xx).
var errRetryable = errors.New("retryable")

// retrySchedule is the fixed backoff applied to provider fetches.
var retrySchedule = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// withRetry runs fn up to four times: the first attempt plus one per
// schedule entry. Non-retryable errors abort immediately.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, errRetryable) {
		return err
	}
	for _, wait := range retrySchedule {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err = fn(); err == nil || !errors.Is(err, errRetryable) {
			return err
		}
	}
	return err
}
