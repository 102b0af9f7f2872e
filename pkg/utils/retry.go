// Copyright 2025 DriftFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"context"
	"time"
)

// RetryPolicy drives Retry. Delay grows as Base * Factor^attempt, capped
// at MaxDelay when set.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Factor      float64
	MaxDelay    time.Duration

	// IsRetriable decides whether an error is worth another attempt.
	// A nil predicate retries every error.
	IsRetriable func(error) bool
}

// DefaultRetryPolicy matches the transfer defaults: 3 retries, 1s base,
// doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		Base:        time.Second,
		Factor:      2,
	}
}

// Retry runs fn until it succeeds, the policy is exhausted, or ctx is
// cancelled. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Factor < 1 {
		p.Factor = 2
	}

	var err error
	delay := p.Base
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if p.MaxDelay > 0 && delay > p.MaxDelay {
				delay = p.MaxDelay
			}
			timer := time.NewTimer(JitterUp(delay, 0.1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = time.Duration(float64(delay) * p.Factor)
		}

		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if p.IsRetriable != nil && !p.IsRetriable(err) {
			return err
		}
	}
	return err
}
