package dispatch

import (
	"time"

	"github.com/ignite/zns-dispatch/internal/pkg/backoff"
)

// BackoffPolicy returns how long to wait after a failed attempt before the
// next one. attempt is the 1-based number of the attempt that failed.
type BackoffPolicy interface {
	Delay(class Class, attempt int) time.Duration
}

// Backoff keeps a separate strategy per transient class so the two causes
// can diverge without touching the sender.
type Backoff struct {
	RateLimit backoff.Strategy
	Transient backoff.Strategy
}

// NewBackoff builds the linear policy described by cfg:
// rate limits wait base*factor*attempt, other transient failures base*attempt.
func NewBackoff(cfg RateLimitConfig) Backoff {
	base := cfg.BaseRetryDelay()
	factor := cfg.RateLimitBackoffFactor
	if factor <= 0 {
		factor = 1
	}
	return Backoff{
		RateLimit: backoff.Linear{Base: time.Duration(float64(base) * factor)},
		Transient: backoff.Linear{Base: base},
	}
}

// Delay implements BackoffPolicy. Non-transient classes never wait.
func (b Backoff) Delay(class Class, attempt int) time.Duration {
	switch class {
	case ClassTransientRateLimit:
		if b.RateLimit != nil {
			return b.RateLimit.Delay(attempt)
		}
	case ClassTransientOther:
		if b.Transient != nil {
			return b.Transient.Delay(attempt)
		}
	}
	return 0
}
