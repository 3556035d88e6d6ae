package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Schedule describes a bounded exponential retry: after the n-th failed
// attempt the caller waits InitialInterval * Multiplier^(n-1)
type Schedule struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// InitialInterval is the wait after the first failed attempt
	InitialInterval time.Duration
	// Multiplier grows the interval between consecutive retries
	Multiplier float64
}

// CycleSchedule retries a whole sync cycle after 1s, 2s and 4s
var CycleSchedule = Schedule{MaxRetries: 3, InitialInterval: time.Second, Multiplier: 2}

// CallSchedule retries a single outbound call after 2s, 4s and 8s (2^attempt seconds)
var CallSchedule = Schedule{MaxRetries: 3, InitialInterval: 2 * time.Second, Multiplier: 2}

// Classifier decides whether an error is worth retrying
type Classifier func(err error) bool

// NotifyFunc is called before each wait with the error and the upcoming delay
type NotifyFunc func(err error, next time.Duration)

// Delays returns the waits the schedule produces, in order
func (s Schedule) Delays() []time.Duration {
	b := s.backOff()
	b.Reset()
	delays := make([]time.Duration, 0, s.MaxRetries)
	for range s.MaxRetries {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (s Schedule) backOff() *backoff.ExponentialBackOff {
	multiplier := s.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialInterval
	b.Multiplier = multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = s.InitialInterval
	for range s.MaxRetries {
		b.MaxInterval = time.Duration(float64(b.MaxInterval) * multiplier)
	}
	return b
}

// Do runs op until it succeeds, returns an error the classifier rejects, the
// schedule is exhausted or ctx is done. The last error from op is returned
// unchanged; cancellation during a wait returns the context cause.
func Do[T any](
	ctx context.Context,
	s Schedule,
	retryable Classifier,
	op func(ctx context.Context) (T, error),
	notify NotifyFunc,
) (T, error) {
	operation := func() (T, error) {
		res, err := op(ctx)
		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(s.backOff()),
		backoff.WithMaxTries(uint(s.MaxRetries) + 1),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(backoff.Notify(notify)))
	}

	res, err := backoff.Retry(ctx, operation, opts...)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return res, err
}
