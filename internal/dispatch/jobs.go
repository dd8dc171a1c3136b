package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoJobs      = errors.New("dispatch: no jobs to send")
	ErrInvalidJob  = errors.New("dispatch: invalid job")
	ErrNilSendFunc = errors.New("dispatch: send function is required")
	ErrCancelled   = errors.New("dispatch: run cancelled")
)

// ValidateJobs rejects an empty list, non-positive or duplicate sequence
// numbers, and jobs missing a recipient or template.
func ValidateJobs(jobs []Job) error {
	if len(jobs) == 0 {
		return ErrNoJobs
	}

	seen := make(map[int]struct{}, len(jobs))
	for i, job := range jobs {
		if job.SequenceNumber < 1 {
			return fmt.Errorf("%w: job at index %d has sequence number %d", ErrInvalidJob, i, job.SequenceNumber)
		}
		if _, dup := seen[job.SequenceNumber]; dup {
			return fmt.Errorf("%w: duplicate sequence number %d", ErrInvalidJob, job.SequenceNumber)
		}
		seen[job.SequenceNumber] = struct{}{}

		if strings.TrimSpace(job.Payload.Recipient) == "" {
			return fmt.Errorf("%w: job %d has no recipient", ErrInvalidJob, job.SequenceNumber)
		}
		if strings.TrimSpace(job.Payload.TemplateID) == "" {
			return fmt.Errorf("%w: job %d has no template id", ErrInvalidJob, job.SequenceNumber)
		}
	}
	return nil
}
