package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ignite/zns-dispatch/internal/pkg/logger"
)

// span is a half-open index range [start, end) into the job list.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// partition splits [start, end) into consecutive spans of at most size.
func partition(start, end, size int) []span {
	if size <= 0 {
		size = end - start
	}
	var spans []span
	for i := start; i < end; i += size {
		j := i + size
		if j > end {
			j = end
		}
		spans = append(spans, span{start: i, end: j})
	}
	return spans
}

// Runner drains jobs batch by batch. Within a batch, jobs run in chunks of
// at most ConcurrentRequests; a chunk is fully resolved before the next one
// starts, which bounds the number of in-flight sends.
type Runner struct {
	cfg      RateLimitConfig
	sender   *RetryingSender
	sleep    Sleeper
	observer Observer
}

// Run returns one SendResult per job in input order. interrupted is true when
// the context ended the run early; the jobs it never reached still get a
// CANCELLED result.
func (r *Runner) Run(ctx context.Context, jobs []Job, reporter *ProgressReporter) (results []SendResult, interrupted bool) {
	results = make([]SendResult, len(jobs))
	guard := unreachableGuard{limit: r.cfg.MaxConsecutiveTransportFailures}
	batches := partition(0, len(jobs), r.cfg.BatchSize)

	for bi, batch := range batches {
		chunks := partition(batch.start, batch.end, r.cfg.ConcurrentRequests)

		for ci, chunk := range chunks {
			if ci > 0 && !r.aborted(ctx, &guard) {
				_ = r.sleep(ctx, r.cfg.ChunkDelay())
			}

			if r.aborted(ctx, &guard) {
				code, msg := r.abortReason(ctx)
				r.resolveSkipped(jobs, results, chunk, code, msg)
				continue
			}

			r.runChunk(ctx, jobs[chunk.start:chunk.end], results[chunk.start:chunk.end])
			for _, res := range results[chunk.start:chunk.end] {
				guard.observe(res)
			}
		}

		reporter.BatchDone(bi+1, batch.len())
		logger.Debug("dispatch batch complete",
			"batch", bi+1,
			"total_batches", len(batches),
			"jobs", batch.len(),
		)

		if bi < len(batches)-1 && !r.aborted(ctx, &guard) {
			_ = r.sleep(ctx, r.cfg.BatchDelay())
		}
	}

	return results, ctx.Err() != nil && hasCode(results, CodeCancelled)
}

// runChunk sends every job of the chunk concurrently and waits for all of
// them. Workers hand their result to the channel; only this goroutine
// writes into out.
func (r *Runner) runChunk(ctx context.Context, jobs []Job, out []SendResult) {
	type indexed struct {
		i   int
		res SendResult
	}
	done := make(chan indexed, len(jobs))

	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			done <- indexed{i: i, res: r.sender.Send(ctx, job)}
			return nil
		})
	}
	_ = g.Wait()
	close(done)

	for d := range done {
		out[d.i] = d.res
		r.observer.ObserveResult(d.res)
	}
}

func (r *Runner) aborted(ctx context.Context, guard *unreachableGuard) bool {
	return ctx.Err() != nil || guard.tripped()
}

func (r *Runner) abortReason(ctx context.Context) (string, string) {
	if err := ctx.Err(); err != nil {
		return CodeCancelled, err.Error()
	}
	return CodeProviderUnreachable, "skipped: provider unreachable after consecutive transport failures"
}

// resolveSkipped gives every job in chunk a failed result without sending.
func (r *Runner) resolveSkipped(jobs []Job, results []SendResult, chunk span, code, msg string) {
	for i := chunk.start; i < chunk.end; i++ {
		res := SendResult{
			SequenceNumber: jobs[i].SequenceNumber,
			Status:         StatusFailed,
			Class:          ClassTransientOther,
			ErrorCode:      code,
			ErrorMessage:   msg,
		}
		results[i] = res
		r.observer.ObserveResult(res)
	}
}

func hasCode(results []SendResult, code string) bool {
	for _, res := range results {
		if res.ErrorCode == code {
			return true
		}
	}
	return false
}

// unreachableGuard trips after limit consecutive jobs ended on transport
// failures. It is only touched from the runner goroutine.
type unreachableGuard struct {
	limit  int
	streak int
}

func (g *unreachableGuard) observe(res SendResult) {
	if g.limit <= 0 {
		return
	}
	if res.Status == StatusFailed && res.Class == ClassTransientOther && res.ErrorCode != CodeCancelled {
		g.streak++
		return
	}
	g.streak = 0
}

func (g *unreachableGuard) tripped() bool {
	return g.limit > 0 && g.streak >= g.limit
}
