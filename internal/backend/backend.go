// internal/backend/backend.go
package backend

import (
	"context"
	"errors"

	"github.com/tendant/simple-batch/pkg/schema"
)

var (
	// ErrUnavailable marks transient infrastructure faults. Callers may
	// retry; the coordinator never does on their behalf, because a retried
	// submission would create a second unit of work under a new id.
	ErrUnavailable = errors.New("backend: unavailable")
	ErrTimeout     = errors.New("backend: timed out")
	ErrNotFound    = errors.New("backend: job not found")
)

// RejectedError is a definitive per-job refusal from the backend, carrying
// its reason. Distinct from ErrUnavailable so batch fan-out can report it
// per element instead of aborting the batch.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "backend: submission rejected: " + e.Reason
}

type SubmitInput struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	SourceRef string `json:"source_ref,omitempty"`
}

type SubmitOutput struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
}

type JobDetail struct {
	JobID        string           `json:"job_id"`
	Status       schema.JobStatus `json:"status"`
	ExitCode     *int             `json:"exit_code,omitempty"`
	StatusReason string           `json:"status_reason,omitempty"`
}

// Backend is the external compute cluster. All calls block on network I/O
// and honor the context deadline.
type Backend interface {
	Submit(ctx context.Context, in SubmitInput) (SubmitOutput, error)
	Describe(ctx context.Context, jobID string) (JobDetail, error)
	Cancel(ctx context.Context, jobID, reason string) error
}
