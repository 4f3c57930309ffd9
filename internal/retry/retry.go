// Package retry provides retry logic with exponential backoff.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy holds retry configuration.
type Policy struct {
	MaxAttempts int                   // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration         // Initial wait time
	MaxWait     time.Duration         // Maximum wait time
	Multiplier  float64               // Backoff multiplier
	Jitter      float64               // Jitter factor (0-1)
	Retryable   func(err error) bool  // Which errors to retry (nil = all)
}

// ConnectPolicy is the policy for establishing connections to remote
// backends: 5 attempts with exponential backoff from 1s up to 10s.
func ConnectPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		InitialWait: 1 * time.Second,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func (p Policy) wait(attempt int) time.Duration {
	wait := float64(p.InitialWait) * math.Pow(p.Multiplier, float64(attempt-1))
	if wait > float64(p.MaxWait) {
		wait = float64(p.MaxWait)
	}
	if p.Jitter > 0 {
		wait += wait * p.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(wait)
}

// Do executes fn with retries.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error

	for attempt := 1; p.MaxAttempts == 0 || attempt <= p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !p.retryable(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if p.MaxAttempts != 0 && attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.wait(attempt)):
		}
	}

	return lastErr
}

// DoWithResult executes fn with retries and returns a result.
func DoWithResult[T any](ctx context.Context, p Policy, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		r, err := fn()
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}
