// Package retry wraps fallible operations with capped exponential backoff.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rradofina/alonchat-ingest/internal/ingest"
)

// Options controls backoff behavior for Do.
type Options struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// RetryIf decides whether a failure is worth another attempt. Defaults to
	// ingest.IsTransient, which rejects auth and validation failures.
	RetryIf func(error) bool
	// OnRetry is called before each backoff sleep with the upcoming attempt
	// number and the delay. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 250 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	defaultFactor       = 2.0
)

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = defaultInitialDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = defaultMaxDelay
	}
	if o.BackoffFactor <= 1 {
		o.BackoffFactor = defaultFactor
	}
	if o.RetryIf == nil {
		o.RetryIf = ingest.IsTransient
	}
	return o
}

// Do executes op until it succeeds, the attempt budget is exhausted, or the
// failure is classified as non-retryable. Non-transient errors propagate
// immediately after the first attempt. The backoff sleep honors ctx.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, error) {
	opts = opts.withDefaults()

	var zero T
	delay := opts.InitialDelay
	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= opts.MaxAttempts || !opts.RetryIf(err) {
			return zero, err
		}
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, delay, err)
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return zero, fmt.Errorf("retry wait: %w", sleepErr)
		}
		delay = time.Duration(float64(delay) * opts.BackoffFactor)
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
