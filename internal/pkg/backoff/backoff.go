// Package backoff provides swappable retry delay strategies and a
// context-aware sleep for retry loops.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Strategy computes the delay to wait after the given failed attempt.
// attempt is 1-based.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(attempt int) time.Duration

// Delay calls f(attempt).
func (f StrategyFunc) Delay(attempt int) time.Duration { return f(attempt) }

// Linear grows the delay by Base on every attempt: Base * attempt.
// A zero Max means no cap.
type Linear struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * attempt, capped at Max.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.Base * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		d = l.Max
	}
	return d
}

// ExponentialJitter doubles the delay every attempt and applies full jitter:
// random(0, min(Max, Base * 2^(attempt-1))), never below Floor.
type ExponentialJitter struct {
	Base  time.Duration
	Max   time.Duration
	Floor time.Duration
}

// Delay returns the jittered exponential delay for attempt.
func (e ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	expDelay := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && expDelay > float64(e.Max) {
		expDelay = float64(e.Max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < e.Floor {
		jittered = e.Floor
	}
	return jittered
}

// Sleep blocks for d or until ctx is done, whichever comes first.
// It returns ctx.Err() when the context ended the wait.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
