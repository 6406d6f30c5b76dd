package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig describes caller-side retries around an operation such as
// CreateInstance. Nothing inside the runtime retries on its own.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	Jitter         float64 // fraction of the delay, 0 disables

	// Retryable decides whether a failed attempt is tried again. Nil means
	// IsRetryable.
	Retryable func(error) bool
}

// DefaultRetry makes a few quick attempts, which suits in-process
// factories.
var DefaultRetry = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: 50 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	BackoffFactor:  2,
	Jitter:         0.1,
}

// RetryOption adjusts a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts caps the number of attempts, the first one included.
func WithMaxAttempts(n int) RetryOption {
	return func(c *RetryConfig) { c.MaxAttempts = n }
}

// WithInitialBackoff sets the delay after the first failure.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(c *RetryConfig) { c.InitialBackoff = d }
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) RetryOption {
	return func(c *RetryConfig) { c.Jitter = j }
}

// WithRetryableFunc replaces IsRetryable as the retry predicate.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(c *RetryConfig) { c.Retryable = fn }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	c := DefaultRetry
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// delay returns the pause after the given failed attempt (1-based).
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffFactor
		if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
			d = float64(c.MaxBackoff)
			break
		}
	}
	if c.Jitter > 0 && d > 0 {
		d += d * c.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// RetryResult is the outcome of WithRetryContext.
type RetryResult[T any] struct {
	Value    T
	Err      error
	Attempts int
	Duration time.Duration
}

// WithRetryContext calls fn until it succeeds, returns an error the
// predicate rejects, runs out of attempts, or ctx ends. A failure is
// returned as a *CategorizedError wrapping the last cause.
func WithRetryContext[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) RetryResult[T] {
	start := time.Now()
	limit := max(cfg.MaxAttempts, 1)
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	res := RetryResult[T]{}
	fail := func(err error, cat Category, why string) RetryResult[T] {
		res.Err = &CategorizedError{Err: err, Category: cat, Retries: res.Attempts, Context: why}
		res.Duration = time.Since(start)
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err, CategoryPermanent, "context cancelled")
		}
		res.Attempts++
		v, err := fn(ctx)
		if err == nil {
			res.Value = v
			res.Duration = time.Since(start)
			return res
		}
		if !retryable(err) {
			return fail(err, Categorize(err), "")
		}
		if res.Attempts >= limit {
			return fail(err, Categorize(err), "max retries exceeded")
		}

		t := time.NewTimer(cfg.delay(res.Attempts))
		select {
		case <-ctx.Done():
			t.Stop()
			return fail(ctx.Err(), CategoryPermanent, "context cancelled during backoff")
		case <-t.C:
		}
	}
}
