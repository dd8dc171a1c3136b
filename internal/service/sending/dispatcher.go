package sending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/pkg/distlock"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

// storeTimeout bounds run store writes made after the run context ended.
const storeTimeout = 5 * time.Second

// archiveTimeout bounds copying a finished run to the archive.
const archiveTimeout = 30 * time.Second

// StartRequest describes a dispatch to start.
type StartRequest struct {
	OAID       string
	TemplateID string
	Source     string
	Jobs       []dispatch.Job
}

// Dispatcher starts and tracks background dispatch runs.
type Dispatcher struct {
	queue    *dispatch.Queue
	send     dispatch.SendFunc
	store    RunStore
	locks    LockFactory
	lockTTL  time.Duration
	observer RunObserver
	archiver Archiver

	baseCtx context.Context
	stop    context.CancelFunc

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithRunObserver attaches run lifecycle instrumentation.
func WithRunObserver(o RunObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithArchiver copies every finished run to long-term storage.
func WithArchiver(a Archiver) Option {
	return func(d *Dispatcher) { d.archiver = a }
}

// NewDispatcher creates a dispatcher. lockTTL is the TTL of the per-OA lock;
// it is extended every third of the TTL while a run is active.
func NewDispatcher(queue *dispatch.Queue, send dispatch.SendFunc, store RunStore, locks LockFactory, lockTTL time.Duration, opts ...Option) *Dispatcher {
	if lockTTL <= 0 {
		lockTTL = time.Minute
	}
	ctx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:    queue,
		send:     send,
		store:    store,
		locks:    locks,
		lockTTL:  lockTTL,
		observer: noopRunObserver{},
		baseCtx:  ctx,
		stop:     stop,
		active:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// LockKey is the lock key for an OA.
func LockKey(oaID string) string {
	if oaID == "" {
		oaID = "default"
	}
	return "zns:oa:" + oaID
}

// Start validates the jobs, takes the OA lock, records the run and begins
// sending in the background. The returned run is the queued record.
func (d *Dispatcher) Start(ctx context.Context, req StartRequest) (*runstore.Run, error) {
	if err := dispatch.ValidateJobs(req.Jobs); err != nil {
		return nil, err
	}

	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	lock := d.locks.LockFor(LockKey(req.OAID))
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring dispatch lock: %w", err)
	}
	if !ok {
		return nil, ErrRunInProgress
	}

	run := &runstore.Run{
		OAID:       req.OAID,
		TemplateID: req.TemplateID,
		Source:     req.Source,
		TotalJobs:  len(req.Jobs),
	}
	if err := d.store.Create(ctx, run); err != nil {
		d.release(lock)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(d.baseCtx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		d.release(lock)
		return nil, ErrShuttingDown
	}
	d.active[run.ID] = cancel
	d.wg.Add(1)
	d.mu.Unlock()

	d.observer.RunStarted()
	logger.Info("dispatch run queued",
		"run_id", run.ID,
		"oa_id", req.OAID,
		"template_id", req.TemplateID,
		"jobs", len(req.Jobs),
	)

	queued := *run
	go d.execute(runCtx, cancel, lock, run.ID, req.Jobs)
	return &queued, nil
}

func (d *Dispatcher) execute(ctx context.Context, cancel context.CancelFunc, lock distlock.DistLock, runID string, jobs []dispatch.Job) {
	defer d.wg.Done()
	defer cancel()

	keepCtx, stopKeep := context.WithCancel(ctx)
	go distlock.KeepAlive(keepCtx, lock, d.lockTTL, d.lockTTL/3, cancel)

	// writes keep working after ctx is cancelled so the record is resolved
	storeCtx := context.WithoutCancel(ctx)

	if err := d.store.MarkRunning(storeCtx, runID); err != nil {
		logger.Warn("dispatch: marking run started failed", "run_id", runID, "error", err)
	}

	result, err := d.queue.Run(ctx, jobs, d.send, func(p dispatch.BatchProgress) {
		wctx, wcancel := context.WithTimeout(storeCtx, storeTimeout)
		defer wcancel()
		if err := d.store.UpdateProgress(wctx, runID, p); err != nil {
			logger.Warn("dispatch: progress update failed", "run_id", runID, "error", err)
		}
	})

	state := runstore.StateCompleted
	switch {
	case errors.Is(err, dispatch.ErrCancelled):
		state = runstore.StateCancelled
	case err != nil:
		state = runstore.StateFailed
	}

	wctx, wcancel := context.WithTimeout(storeCtx, storeTimeout)
	if cerr := d.store.Complete(wctx, runID, state, result, err); cerr != nil {
		logger.Error("dispatch: completing run record failed", "run_id", runID, "error", cerr)
	}
	wcancel()

	if d.archiver != nil && result != nil {
		d.archive(storeCtx, runID, result.Results)
	}

	stopKeep()
	d.release(lock)

	d.mu.Lock()
	delete(d.active, runID)
	d.mu.Unlock()

	d.observer.RunFinished(string(state))

	fields := []interface{}{"run_id", runID, "state", string(state)}
	if result != nil {
		fields = append(fields,
			"succeeded", result.Summary.Succeeded,
			"failed", result.Summary.Failed,
		)
	}
	logger.Info("dispatch run finished", fields...)
}

func (d *Dispatcher) archive(ctx context.Context, runID string, results []dispatch.SendResult) {
	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	run, err := d.store.Get(ctx, runID)
	if err != nil {
		logger.Warn("dispatch: loading run for archive failed", "run_id", runID, "error", err)
		return
	}
	uri, err := d.archiver.Archive(ctx, run, results)
	if err != nil {
		logger.Error("dispatch: archiving run failed", "run_id", runID, "error", err)
		return
	}
	logger.Info("dispatch run archived", "run_id", runID, "uri", uri)
}

func (d *Dispatcher) release(lock distlock.DistLock) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := lock.Release(ctx); err != nil {
		logger.Warn("dispatch: releasing lock failed", "key", lock.Key(), "error", err)
	}
}

// Get returns the stored run.
func (d *Dispatcher) Get(ctx context.Context, id string) (*runstore.Run, error) {
	return d.store.Get(ctx, id)
}

// Cancel stops an active run. Jobs not yet sent resolve as CANCELLED.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	d.mu.Lock()
	cancel, ok := d.active[id]
	d.mu.Unlock()
	if ok {
		cancel()
		logger.Info("dispatch run cancel requested", "run_id", id)
		return nil
	}

	if _, err := d.store.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotActive
}

// Active returns the IDs of runs executing on this instance.
func (d *Dispatcher) Active() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.active))
	for id := range d.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown rejects new runs, cancels active ones and waits for them to
// record their final state or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.stop()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
