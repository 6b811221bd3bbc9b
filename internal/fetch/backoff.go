package fetch

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Rule describes the wait before retrying one failure class.
type Rule struct {
	// Base computes the un-jittered wait for a zero based attempt.
	Base   func(attempt int, hint time.Duration, hasHint bool) time.Duration
	Cap    time.Duration
	Jitter time.Duration
}

// Policy maps each retryable class to its rule.
type Policy map[Class]Rule

// DefaultPolicy returns the backoff table used against the remote API.
func DefaultPolicy() Policy {
	return Policy{
		ClassTransport: {
			Base:   exponential(2 * time.Second),
			Cap:    60 * time.Second,
			Jitter: time.Second,
		},
		ClassRateLimited: {
			Base: func(attempt int, hint time.Duration, hasHint bool) time.Duration {
				if hasHint {
					return hint
				}
				return 12*time.Second + time.Duration(attempt)*6*time.Second
			},
			Cap:    120 * time.Second,
			Jitter: 1500 * time.Millisecond,
		},
		ClassServer: {
			Base:   exponential(2 * time.Second),
			Cap:    90 * time.Second,
			Jitter: 2 * time.Second,
		},
	}
}

func exponential(base time.Duration) func(int, time.Duration, bool) time.Duration {
	return func(attempt int, _ time.Duration, _ bool) time.Duration {
		delay := float64(base) * math.Pow(2, float64(attempt))
		if delay > float64(math.MaxInt64) {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	}
}

// Delay returns the capped base wait for outcome plus a jitter drawn from jitter.
func (p Policy) Delay(outcome Outcome, attempt int, jitter func(limit time.Duration) time.Duration) time.Duration {
	rule, ok := p[outcome.Class]
	if !ok {
		rule = p[ClassTransport]
	}
	var wait time.Duration
	if rule.Base != nil {
		wait = rule.Base(attempt, outcome.Hint, outcome.HasHint)
	}
	if rule.Cap > 0 && wait > rule.Cap {
		wait = rule.Cap
	}
	if jitter != nil {
		wait += jitter(rule.Jitter)
	}
	return wait
}

// randomJitter returns a uniform duration in [0, limit).
func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
