package dispatch

import (
	"context"
	"encoding/json"
	"time"
)

// Status is the terminal state of a single job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Error codes the queue assigns itself when no provider code applies.
const (
	CodeTimeout             = "TIMEOUT"
	CodeNetwork             = "NETWORK_ERROR"
	CodeSendPanic           = "SEND_PANIC"
	CodeCancelled           = "CANCELLED"
	CodeProviderUnreachable = "PROVIDER_UNREACHABLE"
	CodeLimiterRejected     = "LIMITER_REJECTED"
)

// Payload is what gets delivered for one recipient: who receives it, which
// template, and the template parameters.
type Payload struct {
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"template_id"`
	Params     map[string]string `json:"params,omitempty"`
	TrackingID string            `json:"tracking_id,omitempty"`
}

// Job is one unit of work. SequenceNumber is the 1-based position in the
// caller's input and is carried through to the SendResult.
type Job struct {
	SequenceNumber int     `json:"sequence_number"`
	Payload        Payload `json:"payload"`
}

// Response is what a SendFunc resolves to for both HTTP-level and
// application-level outcomes. A zero HTTPStatus is treated as 200.
type Response struct {
	HTTPStatus int             `json:"http_status"`
	ErrorCode  int             `json:"error_code"`
	Message    string          `json:"message,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// SendFunc delivers one payload. It must resolve (return a Response and a nil
// error) for HTTP and provider errors, and only return an error for
// transport failures. It must return promptly once ctx is done: a call that
// ignores ctx keeps its concurrency slot after the per-call timeout and
// stalls the jobs waiting behind it.
type SendFunc func(ctx context.Context, p Payload) (*Response, error)

// SendResult is the outcome of one job after all attempts.
type SendResult struct {
	SequenceNumber int             `json:"sequence_number"`
	Status         Status          `json:"status"`
	Class          Class           `json:"classification"`
	ErrorCode      string          `json:"error_code,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Attempts       int             `json:"attempts"`
	Raw            json.RawMessage `json:"raw,omitempty"`
}

// BatchProgress is emitted once per completed batch.
type BatchProgress struct {
	TotalJobs         int     `json:"total_jobs"`
	ProcessedJobs     int     `json:"processed_jobs"`
	CurrentBatchIndex int     `json:"current_batch_index"`
	TotalBatches      int     `json:"total_batches"`
	Percentage        float64 `json:"percentage"`
}

// DispatchSummary aggregates all results of a run.
type DispatchSummary struct {
	Total              int            `json:"total"`
	Succeeded          int            `json:"succeeded"`
	Failed             int            `json:"failed"`
	SuccessRatePercent float64        `json:"success_rate_percent"`
	ErrorBreakdown     map[string]int `json:"error_breakdown"`
}

// Result is the full output of Queue.Run.
type Result struct {
	Results  []SendResult    `json:"results"`
	Summary  DispatchSummary `json:"summary"`
	Duration time.Duration   `json:"duration"`
}
