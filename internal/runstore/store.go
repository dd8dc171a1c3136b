// Package runstore keeps dispatch run records in Redis so any server
// instance can report on a run.
package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

// DefaultRunTTL is how long a run record survives after its last write.
const DefaultRunTTL = 24 * time.Hour

var (
	ErrRunNotFound     = errors.New("run not found")
	ErrResultsNotReady = errors.New("run results not available yet")
)

// State is the lifecycle state of a run.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// Terminal reports whether no further updates will happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Run is the stored view of one dispatch.
type Run struct {
	ID         string                    `json:"id"`
	OAID       string                    `json:"oa_id,omitempty"`
	TemplateID string                    `json:"template_id"`
	Source     string                    `json:"source,omitempty"`
	State      State                     `json:"state"`
	TotalJobs  int                       `json:"total_jobs"`
	Progress   dispatch.BatchProgress    `json:"progress"`
	Summary    *dispatch.DispatchSummary `json:"summary,omitempty"`
	Error      string                    `json:"error,omitempty"`
	CreatedAt  time.Time                 `json:"created_at"`
	StartedAt  *time.Time                `json:"started_at,omitempty"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	DurationMs int64                     `json:"duration_ms,omitempty"`
}

// Store persists runs as JSON strings plus a sorted set index by creation
// time. Each run is written by a single dispatcher goroutine, so updates
// are plain read-modify-write.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// New creates a Store. ttl <= 0 means DefaultRunTTL.
func New(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultRunTTL
	}
	return &Store{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *Store) runKey(id string) string     { return fmt.Sprintf("%s:run:%s", s.prefix, id) }
func (s *Store) resultsKey(id string) string { return fmt.Sprintf("%s:run:%s:results", s.prefix, id) }
func (s *Store) indexKey() string            { return s.prefix + ":runs" }

// Create assigns an ID when empty, marks the run queued and stores it.
func (s *Store) Create(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	now := s.now().UTC()
	run.CreatedAt = now
	run.State = StateQueued
	run.Progress.TotalJobs = run.TotalJobs

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.runKey(run.ID), data, s.ttl)
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(now.UnixMilli()), Member: run.ID})
		p.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("(%d", now.Add(-s.ttl).UnixMilli()))
		p.Expire(ctx, s.indexKey(), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating run %s: %w", run.ID, err)
	}
	return nil
}

// Get loads a run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", id, err)
	}
	return &run, nil
}

// MarkRunning records the start of dispatch.
func (s *Store) MarkRunning(ctx context.Context, id string) error {
	return s.update(ctx, id, func(run *Run) {
		started := s.now().UTC()
		run.State = StateRunning
		run.StartedAt = &started
	})
}

// UpdateProgress stores the latest batch snapshot.
func (s *Store) UpdateProgress(ctx context.Context, id string, p dispatch.BatchProgress) error {
	return s.update(ctx, id, func(run *Run) {
		run.State = StateRunning
		run.Progress = p
	})
}

// Complete stores the final state, summary and per-job results. A nil
// result with runErr set records a run that failed before sending.
func (s *Store) Complete(ctx context.Context, id string, state State, result *dispatch.Result, runErr error) error {
	var resultsData []byte
	if result != nil {
		var err error
		if resultsData, err = json.Marshal(result.Results); err != nil {
			return fmt.Errorf("marshaling results: %w", err)
		}
	}

	return s.update(ctx, id, func(run *Run) {
		finished := s.now().UTC()
		run.State = state
		run.FinishedAt = &finished
		if runErr != nil {
			run.Error = runErr.Error()
		}
		if result != nil {
			summary := result.Summary
			run.Summary = &summary
			run.DurationMs = result.Duration.Milliseconds()
		}
	}, func(p redis.Pipeliner) {
		if resultsData != nil {
			p.Set(ctx, s.resultsKey(id), resultsData, s.ttl)
		}
	})
}

// Results returns the per-job results of a finished run.
func (s *Store) Results(ctx context.Context, id string) ([]dispatch.SendResult, error) {
	data, err := s.client.Get(ctx, s.resultsKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrResultsNotReady
	}
	if err != nil {
		return nil, fmt.Errorf("loading results %s: %w", id, err)
	}

	var results []dispatch.SendResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decoding results %s: %w", id, err)
	}
	return results, nil
}

// List returns up to limit runs, newest first. Index entries whose record
// expired are dropped.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if len(ids) == 0 {
		return []*Run{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading runs: %w", err)
	}

	runs := make([]*Run, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var run Run
		if err := json.Unmarshal([]byte(str), &run); err != nil {
			return nil, fmt.Errorf("decoding run %s: %w", ids[i], err)
		}
		runs = append(runs, &run)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	return runs, nil
}

func (s *Store) update(ctx context.Context, id string, mutate func(*Run), extra ...func(redis.Pipeliner)) error {
	run, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(run)

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshaling run: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.runKey(id), data, s.ttl)
		for _, fn := range extra {
			fn(p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("updating run %s: %w", id, err)
	}
	return nil
}
