package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

var (
	errNilResponse     = errors.New("dispatch: send function returned neither response nor error")
	errLimiterRejected = errors.New("dispatch: rate limiter burst is zero, no call can be admitted")
)

// panicError carries a value recovered from a panicking SendFunc.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("send function panicked: %v", e.value)
}

// RetryingSender runs one job to a terminal SendResult with at most
// maxRetries calls to the SendFunc. When slots is set, every SendFunc call
// holds one slot until it returns, even after its timeout abandoned it.
type RetryingSender struct {
	send       SendFunc
	classifier Classifier
	backoff    BackoffPolicy
	limiter    *rate.Limiter
	slots      *semaphore.Weighted
	maxRetries int
	timeout    time.Duration
	sleep      Sleeper
	observer   Observer
}

// Send executes job. It never returns an error: every outcome, including
// cancellation, is encoded in the SendResult.
func (s *RetryingSender) Send(ctx context.Context, job Job) SendResult {
	res := SendResult{SequenceNumber: job.SequenceNumber}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err := s.waitTurn(ctx); err != nil {
			if ctx.Err() != nil {
				return cancelledResult(res, ctx.Err())
			}
			res.Status = StatusFailed
			res.Class = ClassPermanent
			res.ErrorCode = CodeLimiterRejected
			res.ErrorMessage = err.Error()
			return res
		}

		started := time.Now()
		resp, err := s.call(ctx, job.Payload)
		if err != nil && ctx.Err() != nil {
			res.Attempts = attempt
			return cancelledResult(res, ctx.Err())
		}

		class := s.classifier.Classify(resp, err)
		s.observer.ObserveAttempt(class, time.Since(started))

		res.Attempts = attempt
		res.Class = class
		res.Raw = nil
		if resp != nil {
			res.Raw = resp.Raw
		}

		if class == ClassSuccess {
			res.Status = StatusSuccess
			res.ErrorCode = ""
			res.ErrorMessage = ""
			return res
		}

		res.Status = StatusFailed
		res.ErrorCode, res.ErrorMessage = describeFailure(resp, err)

		if !class.Transient() || attempt == s.maxRetries {
			return res
		}

		if err := s.sleep(ctx, s.backoff.Delay(class, attempt)); err != nil {
			return cancelledResult(res, err)
		}
	}

	return res
}

// waitTurn reserves a limiter token and sleeps until it is due. It fails when
// ctx ends first or when the limiter can never admit a call.
func (s *RetryingSender) waitTurn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.limiter == nil {
		return nil
	}

	r := s.limiter.Reserve()
	if !r.OK() {
		return errLimiterRejected
	}
	d := r.Delay()
	if d <= 0 {
		return nil
	}
	if err := s.sleep(ctx, d); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// call runs the SendFunc under the per-call timeout. A call that outlives
// the timeout is abandoned; its goroutine finishes into a buffered channel
// and keeps its slot until then.
func (s *RetryingSender) call(ctx context.Context, p Payload) (*Response, error) {
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		resp *Response
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		if s.slots != nil {
			defer s.slots.Release(1)
		}
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		resp, err := s.send(callCtx, p)
		if err == nil && resp == nil {
			err = errNilResponse
		}
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-callCtx.Done():
		select {
		case o := <-done:
			return o.resp, o.err
		default:
		}
		return nil, callCtx.Err()
	}
}

func cancelledResult(res SendResult, err error) SendResult {
	res.Status = StatusFailed
	res.Class = ClassTransientOther
	res.ErrorCode = CodeCancelled
	res.ErrorMessage = err.Error()
	return res
}

// describeFailure returns the error code and message recorded for a failed
// attempt. Provider codes win over HTTP statuses.
func describeFailure(resp *Response, err error) (string, string) {
	if err != nil {
		var pe *panicError
		switch {
		case errors.As(err, &pe):
			return CodeSendPanic, pe.Error()
		case isTimeout(err):
			return CodeTimeout, err.Error()
		default:
			return CodeNetwork, err.Error()
		}
	}

	if resp.ErrorCode != 0 {
		msg := resp.Message
		if msg == "" {
			msg = fmt.Sprintf("provider error %d", resp.ErrorCode)
		}
		return strconv.Itoa(resp.ErrorCode), msg
	}

	msg := resp.Message
	if msg == "" {
		msg = http.StatusText(resp.HTTPStatus)
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected HTTP status %d", resp.HTTPStatus)
	}
	return "HTTP_" + strconv.Itoa(resp.HTTPStatus), msg
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
