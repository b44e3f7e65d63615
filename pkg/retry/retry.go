// Package retry wraps remote calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gomcpgo/replicate_image_edit/pkg/editerr"
)

// Policy bounds how often and how slowly a call is retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// RateLimitFloor replaces BaseDelay when the failure is a rate-limit
	// rejection without a server-provided Retry-After.
	RateLimitFloor time.Duration
	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	// Sleep waits between attempts. Nil uses a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// ModelPolicy is the default for generative-model calls.
func ModelPolicy(logger *zap.Logger) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Logger: logger}
}

// SubmitPolicy is the default for prediction submissions, which may be
// rate limited: 5s, 10s, 20s, 40s between five attempts.
func SubmitPolicy(logger *zap.Logger) Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      time.Second,
		RateLimitFloor: 5 * time.Second,
		MaxDelay:       2 * time.Minute,
		Logger:         logger,
	}
}

// Delay returns the wait before the retry that follows failed attempt
// number attempt (1-indexed).
func (p Policy) Delay(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if d, ok := editerr.RetryAfterOf(err); ok {
		return p.capped(d)
	}
	base := p.BaseDelay
	if p.RateLimitFloor > 0 && editerr.IsRateLimited(err) {
		base = p.RateLimitFloor
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return p.capped(d)
}

func (p Policy) capped(d time.Duration) time.Duration {
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-transient error, or the
// policy's attempts are exhausted. The returned error after exhaustion wraps
// the last failure and names the operation.
func Do[T any](ctx context.Context, p Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var stop stopError
		if errors.As(err, &stop) {
			return zero, stop.err
		}
		if !editerr.IsTransient(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := p.Delay(attempt, err)
		logger.Warn("transient failure, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Bool("rate_limited", editerr.IsRateLimited(err)),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s: interrupted while backing off: %w", operation, err)
		}
	}

	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", operation, maxAttempts, lastErr)
}

type stopError struct{ err error }

func (s stopError) Error() string { return s.err.Error() }
func (s stopError) Unwrap() error { return s.err }

// Stop marks err so Do returns it at once, whatever its kind. Used when an
// inner call already spent its own retry budget.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
