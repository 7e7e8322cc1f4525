// Package backoff computes retry delays for failed jobs. Calculators
// are pure and safe for concurrent use; jitter sources are injectable
// so tests stay deterministic.
package backoff

import (
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrAttemptsExhausted is the sentinel returned once the attempt number
// reaches the calculator's hard ceiling. This ceiling is independent of
// any job's own maxAttempts; the queue service treats it as a fallback
// that dead-letters the job if the two limits ever diverge.
var ErrAttemptsExhausted = errors.New("backoff: attempts exhausted")

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// DelayFor returns how long to wait before retry attempt n
	// (1-indexed: attempt 1 is the first retry after the initial
	// failure). It returns ErrAttemptsExhausted when n has reached
	// the strategy's hard ceiling and no further retry should be
	// scheduled.
	DelayFor(attempt int) (time.Duration, error)
}

// ExponentialJitter doubles a base delay each attempt and adds a small
// uniform jitter so synchronized failures do not retry in lockstep.
// Delay = Base * 2^(attempt-1) + uniform[0, 0.1 * Base * 2^(attempt-1)).
type ExponentialJitter struct {
	// Base is the delay before the first retry.
	Base time.Duration

	// MaxAttempts is the hard ceiling; DelayFor returns
	// ErrAttemptsExhausted once attempt >= MaxAttempts.
	MaxAttempts int

	// jitter returns a value in [0, 1). Defaults to rand.Float64.
	jitter func() float64
}

// Option configures an ExponentialJitter calculator.
type Option func(*ExponentialJitter)

// WithJitterFunc replaces the jitter source. The function must return
// values in [0, 1). Intended for tests.
func WithJitterFunc(f func() float64) Option {
	return func(e *ExponentialJitter) { e.jitter = f }
}

// NewExponentialJitter creates the calculator used by the queue
// service.
func NewExponentialJitter(base time.Duration, maxAttempts int, opts ...Option) *ExponentialJitter {
	e := &ExponentialJitter{
		Base:        base,
		MaxAttempts: maxAttempts,
		jitter:      rand.Float64, //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DelayFor returns the delay before the given retry attempt, or
// ErrAttemptsExhausted once the hard ceiling is reached.
func (e *ExponentialJitter) DelayFor(attempt int) (time.Duration, error) {
	if e.MaxAttempts > 0 && attempt >= e.MaxAttempts {
		return 0, ErrAttemptsExhausted
	}
	if attempt < 1 {
		attempt = 1
	}

	base := float64(e.Base) * math.Pow(2, float64(attempt-1))
	jittered := base + e.jitter()*0.1*base
	return time.Duration(jittered), nil
}
