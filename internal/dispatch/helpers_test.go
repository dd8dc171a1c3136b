package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// recordingSleeper records requested pauses and returns immediately.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func testConfig(batchSize, concurrent int) RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:      1000,
		BatchSize:              batchSize,
		ConcurrentRequests:     concurrent,
		MaxRetries:             3,
		BaseRetryDelayMs:       10,
		RateLimitBackoffFactor: 2,
		RequestTimeoutMs:       1000,
	}
}

func newTestQueue(t *testing.T, cfg RateLimitConfig, opts ...Option) (*Queue, *recordingSleeper) {
	t.Helper()
	sleeper := &recordingSleeper{}
	base := []Option{
		WithSleeper(sleeper.Sleep),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	}
	q, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)
	return q, sleeper
}

func makeJobs(n int) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			SequenceNumber: i + 1,
			Payload: Payload{
				Recipient:  fmt.Sprintf("8490000%04d", i+1),
				TemplateID: "tpl-1",
				Params:     map[string]string{"name": fmt.Sprintf("customer %d", i+1)},
			},
		}
	}
	return jobs
}

func okResponse() *Response {
	return &Response{HTTPStatus: 200, Raw: []byte(`{"error":0,"message":"Success"}`)}
}

func alwaysOK(ctx context.Context, p Payload) (*Response, error) {
	return okResponse(), nil
}
