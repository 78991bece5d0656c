package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff is an exponential delay schedule with symmetric jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
}

var (
	// TransportBackoff paces retries of remote calls.
	TransportBackoff = Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.25}
	// ConflictBackoff is short: writers contending for one phone settle
	// within a few attempts.
	ConflictBackoff = Backoff{Initial: 10 * time.Millisecond, Max: 250 * time.Millisecond, Multiplier: 2, Jitter: 0.5}
)

// Delay returns the wait after the given failed attempt (1-based). Zero
// fields fall back to TransportBackoff.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		b.Initial = TransportBackoff.Initial
	}
	if b.Max <= 0 {
		b.Max = TransportBackoff.Max
	}
	if b.Multiplier <= 0 {
		b.Multiplier = TransportBackoff.Multiplier
	}

	d := min(float64(b.Initial)*math.Pow(b.Multiplier, float64(max(attempt-1, 0))), float64(b.Max))
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(max(d, 0))
}

// RetryConfig bounds how often and when a call is repeated.
type RetryConfig struct {
	// MaxAttempts counts the first try. Zero means 3.
	MaxAttempts int
	Backoff     Backoff
	// ShouldRetry selects retryable errors. Nil means IsTransient.
	ShouldRetry func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error)
}

// ConflictRetryConfig retries only storage conflicts.
func ConflictRetryConfig(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, Backoff: ConflictBackoff, ShouldRetry: IsConflict}
}

// Do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts or ctx ends. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that return a value. The zero value is
// returned with any error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, waitFor(cfg.Backoff, attempt, err)) {
			return zero, err
		}
	}
}

// waitFor honors a server's Retry-After when it asks for longer than the
// schedule, capped at the schedule's maximum.
func waitFor(b Backoff, attempt int, err error) time.Duration {
	d := b.Delay(attempt)
	var te *TransientError
	if errors.As(err, &te) && te.RetryAfter > d {
		d = te.RetryAfter
		if b.Max > 0 {
			d = min(d, b.Max)
		}
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger returns an OnRetry callback that logs each retry.
func RetryLogger(component, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("component", component),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
