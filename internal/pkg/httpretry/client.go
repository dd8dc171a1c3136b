// Package httpretry wraps an HTTP client with retries for calls made outside
// a dispatch run, such as access-token refreshes.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/zns-dispatch/internal/pkg/backoff"
	"github.com/ignite/zns-dispatch/internal/pkg/logger"
)

// HTTPDoer is the interface for executing HTTP requests.
// Both *http.Client and *RetryClient satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient wraps an HTTPDoer and retries transport errors and
// retryable statuses.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	strategy   backoff.Strategy
}

// NewRetryClient wraps client. maxRetries counts retries after the first
// request; values <= 0 mean 3. A nil client gets a 30s timeout default.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		strategy: backoff.ExponentialJitter{
			Base:  time.Second,
			Max:   30 * time.Second,
			Floor: 100 * time.Millisecond,
		},
	}
}

// WithStrategy replaces the exponential jitter delay.
func (rc *RetryClient) WithStrategy(s backoff.Strategy) *RetryClient {
	rc.strategy = s
	return rc
}

// Do executes req, retrying on 429, 5xx gateway statuses and transport
// errors. Context cancellation is never retried. The response of the final
// attempt is returned as-is so the caller can read its body.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ctx.Err()
		}

		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := rc.strategy.Delay(attempt)
			logger.Warn("httpretry: retrying request",
				"attempt", attempt,
				"max_retries", rc.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"delay", delay.String(),
			)
			if err := backoff.Sleep(ctx, delay); err != nil {
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, err
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}

		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries {
			return resp, nil
		}

		// drain for connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// IsRetryableStatus reports whether statusCode is 429, 500, 502, 503 or 504.
func IsRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
