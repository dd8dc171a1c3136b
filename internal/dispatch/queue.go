// Package dispatch sends a list of jobs to a rate-limited provider without
// exceeding its throughput limits.
//
// A run is split into batches (the progress reporting unit) and each batch
// into chunks of at most ConcurrentRequests jobs that are in flight at the
// same time. Every job is retried on transient failures up to MaxRetries
// calls and always ends in exactly one SendResult.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ignite/zns-dispatch/internal/pkg/backoff"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
)

// Queue is the entry point for a dispatch run. A Queue is safe for
// concurrent use; concurrent runs share its rate limiter.
type Queue struct {
	cfg        RateLimitConfig
	classifier Classifier
	backoff    BackoffPolicy
	observer   Observer
	sleep      Sleeper
	limiter    *rate.Limiter
}

// Option customizes a Queue.
type Option func(*Queue)

// WithClassifier replaces the default classifier, which only knows HTTP 429.
func WithClassifier(c Classifier) Option {
	return func(q *Queue) { q.classifier = c }
}

// WithBackoff replaces the linear backoff derived from the config.
func WithBackoff(b BackoffPolicy) Option {
	return func(q *Queue) { q.backoff = b }
}

// WithObserver attaches instrumentation.
func WithObserver(o Observer) Option {
	return func(q *Queue) { q.observer = o }
}

// WithSleeper replaces the timer-based sleep used for all pauses.
func WithSleeper(s Sleeper) Option {
	return func(q *Queue) { q.sleep = s }
}

// WithLimiter replaces the requests-per-second limiter, e.g. to share one
// limiter between queues that hit the same provider account.
func WithLimiter(l *rate.Limiter) Option {
	return func(q *Queue) { q.limiter = l }
}

// New validates cfg and builds a Queue. A *ConfigurationError is returned
// before any job can run.
func New(cfg RateLimitConfig, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	q := &Queue{
		cfg:        cfg,
		classifier: NewCodeClassifier(nil, nil),
		backoff:    NewBackoff(cfg),
		observer:   NoopObserver{},
		sleep:      backoff.Sleep,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.ConcurrentRequests),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Config returns the queue's rate limit config.
func (q *Queue) Config() RateLimitConfig { return q.cfg }

// Run sends every job and returns one result per job plus the summary.
//
// Invalid input (ErrNoJobs, ErrInvalidJob, ErrNilSendFunc) is rejected before
// anything is sent. Otherwise the Result is always complete; the returned
// error is non-nil only when ctx ended the run early, in which case it wraps
// ErrCancelled and the unsent jobs carry the CANCELLED code.
//
// At most ConcurrentRequests SendFunc calls of one run are in flight,
// counting calls abandoned after RequestTimeoutMs that have not returned.
func (q *Queue) Run(ctx context.Context, jobs []Job, send SendFunc, onProgress ProgressFunc) (*Result, error) {
	if send == nil {
		return nil, ErrNilSendFunc
	}
	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}

	sender := &RetryingSender{
		send:       send,
		classifier: q.classifier,
		backoff:    q.backoff,
		limiter:    q.limiter,
		slots:      semaphore.NewWeighted(int64(q.cfg.ConcurrentRequests)),
		maxRetries: q.cfg.MaxRetries,
		timeout:    q.cfg.RequestTimeout(),
		sleep:      q.sleep,
		observer:   q.observer,
	}
	runner := &Runner{
		cfg:      q.cfg,
		sender:   sender,
		sleep:    q.sleep,
		observer: q.observer,
	}
	totalBatches := q.cfg.TotalBatches(len(jobs))
	reporter := NewProgressReporter(len(jobs), totalBatches, onProgress, q.observer)

	logger.Info("dispatch run started",
		"jobs", len(jobs),
		"batches", totalBatches,
		"concurrency", q.cfg.ConcurrentRequests,
		"rps", q.cfg.RequestsPerSecond,
	)

	started := time.Now()
	results, interrupted := runner.Run(ctx, jobs, reporter)
	result := &Result{
		Results:  results,
		Summary:  Summarize(results),
		Duration: time.Since(started),
	}

	logger.Info("dispatch run finished",
		"total", result.Summary.Total,
		"succeeded", result.Summary.Succeeded,
		"failed", result.Summary.Failed,
		"success_rate", result.Summary.SuccessRatePercent,
		"duration", result.Duration.Round(time.Millisecond),
		"interrupted", interrupted,
	)

	if interrupted {
		return result, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	return result, nil
}

// Run is a dispatch started with Queue.Start.
type Run struct {
	progress chan BatchProgress
	done     chan struct{}
	result   *Result
	err      error
}

// Start validates the input and runs the dispatch in a new goroutine.
// Progress snapshots are delivered on Progress(), which is closed when the
// run ends; the channel is buffered for every batch so an idle reader never
// stalls the run.
func (q *Queue) Start(ctx context.Context, jobs []Job, send SendFunc) (*Run, error) {
	if send == nil {
		return nil, ErrNilSendFunc
	}
	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}

	run := &Run{
		progress: make(chan BatchProgress, q.cfg.TotalBatches(len(jobs))),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(run.done)
		defer close(run.progress)
		run.result, run.err = q.Run(ctx, jobs, send, func(p BatchProgress) {
			run.progress <- p
		})
	}()

	return run, nil
}

// Progress streams one snapshot per batch, in batch order.
func (r *Run) Progress() <-chan BatchProgress { return r.progress }

// Done is closed once the result is available.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns what Queue.Run returned.
func (r *Run) Wait() (*Result, error) {
	<-r.done
	return r.result, r.err
}
