// Package retry computes the exponential backoff schedule and
// dead-letter threshold the inbound and outbound delivery pipelines
// share: a geometric delay (initial delay, doubling factor, hard cap)
// rather than a fixed lookup table, so backoff keeps growing all the way
// to the cap instead of plateauing after a handful of attempts. Grounded
// in shape on the teacher's queue/worker retry-with-backoff conventions
// (visible in internal/workers and internal/automod's job retry
// handling), generalized from their fixed-step schedule to the computed
// formula this engine's delivery retries require.
package retry

import (
	"math"
	"time"
)

// DefaultInitialDelay is the backoff before the first retry.
const DefaultInitialDelay = time.Minute

// DefaultFactor is the multiplier applied to the delay after each
// attempt.
const DefaultFactor = 2.0

// DefaultCap bounds how large the computed delay may grow.
const DefaultCap = 72 * time.Hour

// DefaultMaxAttempts is the attempt count at which a task is handed off
// as a permanent failure instead of retried again.
const DefaultMaxAttempts = 10

// Policy computes a geometric backoff delay: Initial * Factor^attempt,
// capped at Cap, with delivery abandoned once MaxAttempts is reached.
type Policy struct {
	Initial     time.Duration
	Factor      float64
	Cap         time.Duration
	MaxAttempts int
}

// NewPolicy returns the engine's default policy: 1 minute initial delay,
// doubling each attempt, capped at 3 days, abandoned after 10 attempts.
func NewPolicy() Policy {
	return Policy{
		Initial:     DefaultInitialDelay,
		Factor:      DefaultFactor,
		Cap:         DefaultCap,
		MaxAttempts: DefaultMaxAttempts,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Initial == 0 {
		p.Initial = DefaultInitialDelay
	}
	if p.Factor == 0 {
		p.Factor = DefaultFactor
	}
	if p.Cap == 0 {
		p.Cap = DefaultCap
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// DelayForAttempt returns the backoff delay to wait after the given
// attempt (0-indexed) has failed, before the next one:
// Initial * Factor^attempt, capped at Cap.
func (p Policy) DelayForAttempt(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.Initial) * math.Pow(p.Factor, float64(attempt))
	if delay <= 0 || delay > float64(p.Cap) {
		return p.Cap
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempt, counted as the number of attempts
// made so far, has reached the policy's permanent failure threshold
// (MaxAttempts).
func (p Policy) Exhausted(attempt int) bool {
	p = p.withDefaults()
	return attempt >= p.MaxAttempts
}
