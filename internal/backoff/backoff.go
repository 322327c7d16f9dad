// Package backoff provides delay calculation strategies for retry loops.
package backoff

import (
	"math/rand"
	"time"
)

// Params are the knobs shared by every strategy.
type Params struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Strategy computes the delay before a given retry attempt (0-based).
type Strategy interface {
	Delay(attempt int, p Params) time.Duration
}

// ExponentialJitter grows the delay geometrically and adds uniform jitter
// proportional to the Jitter factor.
type ExponentialJitter struct{}

func (ExponentialJitter) Delay(attempt int, p Params) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent so the float math cannot overflow.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(p.Initial) * pow(p.Multiplier, attempt))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}

	jitter := clamp01(p.Jitter)
	if jitter > 0 {
		extra := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+extra > p.Max {
			delay = p.Max
		} else {
			delay += extra
		}
	}
	return delay
}

// DecorrelatedJitter implements AWS-style decorrelated jitter: a random
// delay between the base and an exponentially-growing upper bound. It gives
// smoother tail latencies than pure exponential jitter.
type DecorrelatedJitter struct{}

func (DecorrelatedJitter) Delay(attempt int, p Params) time.Duration {
	if attempt <= 0 {
		return p.Initial
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * pow(3.0, attempt)
	maxf := float64(p.Max)
	if upper > maxf || upper < 0 {
		upper = maxf
	}
	if upper < base {
		upper = base
	}

	delay := time.Duration(base + rand.Float64()*(upper-base))
	if delay < 0 || delay > p.Max {
		delay = p.Max
	}
	return delay
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
