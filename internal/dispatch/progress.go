package dispatch

import "math"

// ProgressFunc receives a snapshot after every batch. Calls are made from
// the goroutine running the queue, strictly in batch order.
type ProgressFunc func(BatchProgress)

// ProgressReporter counts processed jobs and emits one snapshot per batch.
type ProgressReporter struct {
	total        int
	totalBatches int
	processed    int
	fn           ProgressFunc
	observer     Observer
}

// NewProgressReporter creates a reporter for total jobs split into
// totalBatches. A nil fn makes reporting a no-op.
func NewProgressReporter(total, totalBatches int, fn ProgressFunc, observer Observer) *ProgressReporter {
	if observer == nil {
		observer = NoopObserver{}
	}
	return &ProgressReporter{
		total:        total,
		totalBatches: totalBatches,
		fn:           fn,
		observer:     observer,
	}
}

// BatchDone records n more processed jobs for the 1-based batchIndex and
// emits the snapshot.
func (p *ProgressReporter) BatchDone(batchIndex, n int) BatchProgress {
	p.processed += n
	if p.processed > p.total {
		p.processed = p.total
	}

	snap := BatchProgress{
		TotalJobs:         p.total,
		ProcessedJobs:     p.processed,
		CurrentBatchIndex: batchIndex,
		TotalBatches:      p.totalBatches,
		Percentage:        percent(p.processed, p.total),
	}

	p.observer.ObserveBatch(snap)
	if p.fn != nil {
		p.fn(snap)
	}
	return snap
}

// percent returns part/whole*100 rounded to two decimals.
func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*100*100) / 100
}
