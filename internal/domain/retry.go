package domain

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy is a pure decision function over (attempt, failure class,
// ceiling). It does no I/O and owns no timers, so it is testable with a
// seeded rng.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Rand returns a value in [0,1). Defaults to math/rand when nil.
	Rand func() float64
}

type Decision struct {
	Retry bool
	Delay time.Duration
}

var GiveUp = Decision{Retry: false}

// Decide returns whether a failed attempt should be rescheduled and after
// how long. attemptCount is the number of dispatches already made.
func (p RetryPolicy) Decide(attemptCount int, class FailureClass, retryCeiling int) Decision {
	if !class.Retryable() {
		return GiveUp
	}
	if attemptCount > retryCeiling {
		return GiveUp
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 30 * time.Second
	}
	exp := float64(attemptCount - 1)
	if exp < 0 {
		exp = 0
	}
	delay := time.Duration(float64(base) * math.Pow(2, exp))

	// Jitter in [0.8, 1.2) keeps retried calls from re-dialing in lockstep.
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	delay = time.Duration(float64(delay) * (0.8 + 0.4*rnd()))

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return Decision{Retry: true, Delay: delay}
}
