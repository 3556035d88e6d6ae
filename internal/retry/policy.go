// Package retry provides the backoff policies used by the sync engine.
//
// Two independent retry layers exist: the runner backs off between failed
// cycles using Policy, and both the runner (per cycle) and the HTTP client
// (per call) retry short-lived transient failures using Do.
package retry

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultBaseDelay is the delay after the first consecutive failure
	DefaultBaseDelay = time.Minute
	// DefaultMaxExponent caps the backoff at 2^6 base delays (64 minutes)
	DefaultMaxExponent = 6
	// DefaultJitterLow is the lower bound of the jitter multiplier
	DefaultJitterLow = 0.85
	// DefaultJitterHigh is the upper bound of the jitter multiplier
	DefaultJitterHigh = 1.15
)

// Policy maps a consecutive failure count to the delay before the next cycle
type Policy interface {
	Delay(failures int) time.Duration
}

// ExponentialPolicy implements Policy as min(2^(failures-1), 2^MaxExponent) * BaseDelay * jitter
type ExponentialPolicy struct {
	BaseDelay   time.Duration
	MaxExponent int
	JitterLow   float64
	JitterHigh  float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// NewExponentialPolicy returns the default cycle backoff policy
func NewExponentialPolicy() *ExponentialPolicy {
	return &ExponentialPolicy{
		BaseDelay:   DefaultBaseDelay,
		MaxExponent: DefaultMaxExponent,
		JitterLow:   DefaultJitterLow,
		JitterHigh:  DefaultJitterHigh,
	}
}

// Delay returns the jittered delay for the given number of consecutive failures.
// Counts below one are treated as one.
func (p *ExponentialPolicy) Delay(failures int) time.Duration {
	return time.Duration(float64(p.BaseDuration(failures)) * p.jitter())
}

// BaseDuration returns the un-jittered delay for the given failure count
func (p *ExponentialPolicy) BaseDuration(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	exp := failures - 1
	if exp > p.MaxExponent {
		exp = p.MaxExponent
	}
	return p.BaseDelay * time.Duration(int64(1)<<exp)
}

func (p *ExponentialPolicy) jitter() float64 {
	if p.JitterHigh <= p.JitterLow {
		return p.JitterLow
	}
	r := p.Rand
	if r == nil {
		//nolint:gosec // G404: jitter does not need cryptographic randomness
		r = rand.Float64
	}
	return p.JitterLow + r()*(p.JitterHigh-p.JitterLow)
}
