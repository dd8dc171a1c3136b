// Package sending runs ZNS dispatches in the background on behalf of the
// API.
//
// A Dispatcher owns the lifecycle of each run: it takes the per-OA lock so
// only one dispatch per Official Account is in flight across all instances,
// records progress in the run store, and resolves the run when the queue
// returns or is cancelled.
package sending

import (
	"context"

	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/pkg/distlock"
	"github.com/ignite/zns-dispatch/internal/runstore"
)

// RunStore persists run records. *runstore.Store implements it.
type RunStore interface {
	Create(ctx context.Context, run *runstore.Run) error
	Get(ctx context.Context, id string) (*runstore.Run, error)
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, p dispatch.BatchProgress) error
	Complete(ctx context.Context, id string, state runstore.State, result *dispatch.Result, runErr error) error
}

// LockFactory returns the lock guarding key. Each call returns a new lock
// instance owned by the caller.
type LockFactory interface {
	LockFor(key string) distlock.DistLock
}

// LockFactoryFunc adapts a function to LockFactory.
type LockFactoryFunc func(key string) distlock.DistLock

func (f LockFactoryFunc) LockFor(key string) distlock.DistLock { return f(key) }

// Archiver keeps a copy of a finished run. storage.Archive implements it.
type Archiver interface {
	Archive(ctx context.Context, run *runstore.Run, results []dispatch.SendResult) (string, error)
}

// RunObserver is notified when runs start and finish. The metrics package
// implements it.
type RunObserver interface {
	RunStarted()
	RunFinished(state string)
}

type noopRunObserver struct{}

func (noopRunObserver) RunStarted()        {}
func (noopRunObserver) RunFinished(string) {}
