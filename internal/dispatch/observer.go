package dispatch

import "time"

// Observer receives instrumentation events from a run. ObserveAttempt is
// called concurrently from chunk workers; implementations must be safe for
// concurrent use.
type Observer interface {
	ObserveAttempt(class Class, elapsed time.Duration)
	ObserveResult(res SendResult)
	ObserveBatch(p BatchProgress)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) ObserveAttempt(Class, time.Duration) {}
func (NoopObserver) ObserveResult(SendResult)            {}
func (NoopObserver) ObserveBatch(BatchProgress)          {}
