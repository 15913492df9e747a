// Package retry provides a small context-aware retry engine with
// exponential backoff, used for transient upstream API failures.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.fetch(ctx, req)
//	})
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Config controls retry behaviour.
type Config struct {
	MaxAttempts int           // Total attempts (including the first). 0 means no-op.
	InitDelay   time.Duration // Base delay before first retry; doubles each attempt.
	MaxDelay    time.Duration // Upper bound on any single delay.
	Jitter      bool          // Add ±25% random jitter to each delay.
}

// DefaultConfig returns the default used for idempotent upstream GETs:
// 3 attempts, exponential backoff from 500 ms to 10 s with jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      true,
	}
}

// StopError wraps an error to signal that retrying should stop
// immediately. Used when the error is permanent (e.g. a 4xx status).
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }
func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so that Do returns it without further retries.
func Stop(err error) error {
	return &StopError{Err: err}
}

// Do executes fn up to cfg.MaxAttempts times, sleeping between failures.
// It returns nil on the first successful call, or the last error if all
// attempts fail. If the context is cancelled, ctx.Err() is returned. If
// fn returns a StopError, Do returns the wrapped error without retrying.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		return nil
	}

	var lastErr error
	for attempt := range cfg.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var stop *StopError
		if errors.As(lastErr, &stop) {
			return stop.Err
		}

		if attempt < cfg.MaxAttempts-1 {
			select {
			case <-time.After(delayFor(cfg, attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// delayFor computes the sleep duration for a given attempt (0-indexed).
func delayFor(cfg Config, attempt int) time.Duration {
	delay := cfg.InitDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter && delay > 0 {
		quarter := int64(delay) / 4
		if quarter > 0 {
			j := time.Duration(rand.Int64N(quarter))
			if rand.IntN(2) == 0 {
				delay += j
			} else {
				delay -= j
			}
		}
	}
	return delay
}
