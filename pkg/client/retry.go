package client

import (
	"context"
	"time"

	"github.com/menta2k/cleaning-check/pkg/types"
)

// Retry policy shared by the classification backends: every error from the
// remote call is treated as transient, including parse failures.
const (
	RetryAttempts = 3
	retryBaseWait = 1 * time.Second
	retryMaxWait  = 30 * time.Second
)

// Classify runs fn up to RetryAttempts times with exponential backoff
// (1s, 2s, ... capped at 30s) between attempts. The last error is returned
// after the attempts are exhausted. Context cancellation stops the wait early.
func Classify(ctx context.Context, fn func() (*types.ClassificationResponse, error)) (*types.ClassificationResponse, error) {
	var lastErr error
	wait := retryBaseWait
	for attempt := 0; attempt < RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			wait *= 2
			if wait > retryMaxWait {
				wait = retryMaxWait
			}
		}

		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
