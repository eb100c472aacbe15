package services

import (
	"context"
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	defaultRetryAttempts = 3
	defaultRetryInitial  = 100 * time.Millisecond
	defaultRetryMax      = 2 * time.Second
)

// transientRetry re-runs storage calls that failed with an unavailable error, pausing with
// exponential backoff between attempts. Any other error is returned immediately.
type transientRetry struct {
	attempts int
	initial  time.Duration
	max      time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func newTransientRetry(attempts int, initial, max time.Duration, sleep func(context.Context, time.Duration) error) transientRetry {
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}
	if sleep == nil {
		sleep = gax.Sleep
	}
	return transientRetry{
		attempts: attempts,
		initial:  positiveOr(initial, defaultRetryInitial),
		max:      positiveOr(max, defaultRetryMax),
		sleep:    sleep,
	}
}

// do calls fn until it succeeds, fails permanently, or attempts run out. onRetry, when set,
// is told about every pause.
func (r transientRetry) do(ctx context.Context, fn func(attempt int) error, onRetry func(attempt int, pause time.Duration, err error)) error {
	backoff := gax.Backoff{Initial: r.initial, Max: r.max, Multiplier: 2}
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil || !repositories.IsUnavailable(err) || attempt+1 >= r.attempts || ctx.Err() != nil {
			return err
		}
		pause := backoff.Pause()
		if onRetry != nil {
			onRetry(attempt+1, pause, err)
		}
		if sleepErr := r.sleep(ctx, pause); sleepErr != nil {
			return err
		}
	}
}
