package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every ConfigurationError.
var ErrInvalidConfig = errors.New("dispatch: invalid rate limit config")

const defaultRequestTimeout = 10 * time.Second

// RateLimitConfig bounds how fast and how wide a run talks to the provider.
// It is fixed for the lifetime of a Queue.
type RateLimitConfig struct {
	RequestsPerSecond     float64 `yaml:"requests_per_second" json:"requests_per_second"`
	BatchSize             int     `yaml:"batch_size" json:"batch_size"`
	ConcurrentRequests    int     `yaml:"concurrent_requests" json:"concurrent_requests"`
	DelayBetweenChunksMs  int     `yaml:"delay_between_chunks_ms" json:"delay_between_chunks_ms"`
	DelayBetweenBatchesMs int     `yaml:"delay_between_batches_ms" json:"delay_between_batches_ms"`
	MaxRetries            int     `yaml:"max_retries" json:"max_retries"`
	BaseRetryDelayMs      int     `yaml:"base_retry_delay_ms" json:"base_retry_delay_ms"`

	// RateLimitBackoffFactor scales the retry delay after a throttling
	// response relative to other transient failures. Zero means 1.
	RateLimitBackoffFactor float64 `yaml:"rate_limit_backoff_factor" json:"rate_limit_backoff_factor"`
	// RequestTimeoutMs bounds a single send call. Zero means 10s.
	RequestTimeoutMs int `yaml:"request_timeout_ms" json:"request_timeout_ms"`
	// MaxConsecutiveTransportFailures stops sending once this many jobs in a
	// row ended on transport errors. Zero disables the guard.
	MaxConsecutiveTransportFailures int `yaml:"max_consecutive_transport_failures" json:"max_consecutive_transport_failures"`
}

// DefaultRateLimitConfig returns the limits used for ZNS dispatch.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond:      10,
		BatchSize:              50,
		ConcurrentRequests:     5,
		DelayBetweenChunksMs:   200,
		DelayBetweenBatchesMs:  1000,
		MaxRetries:             3,
		BaseRetryDelayMs:       2000,
		RateLimitBackoffFactor: 2,
		RequestTimeoutMs:       10000,
	}
}

// ChunkDelay returns the pause between chunks of one batch.
func (c RateLimitConfig) ChunkDelay() time.Duration {
	return time.Duration(c.DelayBetweenChunksMs) * time.Millisecond
}

// BatchDelay returns the pause between batches.
func (c RateLimitConfig) BatchDelay() time.Duration {
	return time.Duration(c.DelayBetweenBatchesMs) * time.Millisecond
}

// BaseRetryDelay returns the base unit for retry backoff.
func (c RateLimitConfig) BaseRetryDelay() time.Duration {
	return time.Duration(c.BaseRetryDelayMs) * time.Millisecond
}

// RequestTimeout returns the per-call timeout.
func (c RateLimitConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutMs <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// TotalBatches returns how many batches a run of n jobs is split into.
func (c RateLimitConfig) TotalBatches(n int) int {
	if n <= 0 || c.BatchSize <= 0 {
		return 0
	}
	return (n + c.BatchSize - 1) / c.BatchSize
}

// ConfigurationError reports a malformed RateLimitConfig.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v %s", ErrInvalidConfig.Error(), e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }

// Validate checks the config and returns the first problem found.
func (c RateLimitConfig) Validate() error {
	switch {
	case c.RequestsPerSecond <= 0:
		return &ConfigurationError{Field: "requests_per_second", Value: c.RequestsPerSecond, Reason: "must be positive"}
	case c.BatchSize <= 0:
		return &ConfigurationError{Field: "batch_size", Value: c.BatchSize, Reason: "must be positive"}
	case c.ConcurrentRequests <= 0:
		return &ConfigurationError{Field: "concurrent_requests", Value: c.ConcurrentRequests, Reason: "must be positive"}
	case c.ConcurrentRequests > c.BatchSize:
		return &ConfigurationError{
			Field:  "concurrent_requests",
			Value:  c.ConcurrentRequests,
			Reason: fmt.Sprintf("must not exceed batch_size (%d)", c.BatchSize),
		}
	case c.MaxRetries < 1:
		return &ConfigurationError{Field: "max_retries", Value: c.MaxRetries, Reason: "must be at least 1"}
	case c.DelayBetweenChunksMs < 0:
		return &ConfigurationError{Field: "delay_between_chunks_ms", Value: c.DelayBetweenChunksMs, Reason: "must not be negative"}
	case c.DelayBetweenBatchesMs < 0:
		return &ConfigurationError{Field: "delay_between_batches_ms", Value: c.DelayBetweenBatchesMs, Reason: "must not be negative"}
	case c.BaseRetryDelayMs < 0:
		return &ConfigurationError{Field: "base_retry_delay_ms", Value: c.BaseRetryDelayMs, Reason: "must not be negative"}
	case c.RateLimitBackoffFactor < 0:
		return &ConfigurationError{Field: "rate_limit_backoff_factor", Value: c.RateLimitBackoffFactor, Reason: "must not be negative"}
	case c.RequestTimeoutMs < 0:
		return &ConfigurationError{Field: "request_timeout_ms", Value: c.RequestTimeoutMs, Reason: "must not be negative"}
	case c.MaxConsecutiveTransportFailures < 0:
		return &ConfigurationError{Field: "max_consecutive_transport_failures", Value: c.MaxConsecutiveTransportFailures, Reason: "must not be negative"}
	}
	return nil
}
