// internal/submit/coordinator.go
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-batch/internal/backend"
	"github.com/tendant/simple-batch/internal/manifest"
	"github.com/tendant/simple-batch/pkg/schema"
)

// ValidationError reports bad caller input. Never retried, surfaced
// synchronously.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

// JobSpec is one unit of work requested by the caller.
type JobSpec struct {
	Command   string `json:"command"`
	SourceRef string `json:"source_ref,omitempty"`
}

type AcceptedJob struct {
	JobID   string `json:"job_id"`
	JobName string `json:"job_name"`
}

type RejectedJob struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BatchResult reports per-element outcomes of a batch submission.
type BatchResult struct {
	BatchID  string        `json:"batch_id"`
	Accepted []AcceptedJob `json:"accepted"`
	Rejected []RejectedJob `json:"rejected"`
}

// Coordinator fans submissions out to the compute backend and records the
// accepted jobs in the manifest. It never retries a submission: a transient
// failure is surfaced to the caller, who decides whether to resubmit,
// because a silent retry would create a duplicate unit of work under a
// fresh identity.
type Coordinator struct {
	backend backend.Backend
	store   manifest.Store
	logger  *slog.Logger
}

func NewCoordinator(b backend.Backend, store manifest.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{backend: b, store: store, logger: logger}
}

// Submit submits one standalone job and records its manifest row.
func (c *Coordinator) Submit(ctx context.Context, spec JobSpec) (AcceptedJob, error) {
	if spec.Command == "" {
		return AcceptedJob{}, ValidationError{Message: "command is required"}
	}
	return c.submitOne(ctx, spec, "")
}

// SubmitBatch submits each element independently. Rejections are reported
// per element; the batch is created with the accepted subset only. An empty
// request is invalid.
func (c *Coordinator) SubmitBatch(ctx context.Context, name string, specs []JobSpec) (BatchResult, error) {
	if name == "" {
		return BatchResult{}, ValidationError{Message: "batch name is required"}
	}
	if len(specs) == 0 {
		return BatchResult{}, ValidationError{Message: "batch must contain at least one job"}
	}

	batchID := uuid.NewString()
	result := BatchResult{
		BatchID:  batchID,
		Accepted: make([]AcceptedJob, 0, len(specs)),
		Rejected: make([]RejectedJob, 0),
	}
	jobIDs := make([]string, 0, len(specs))

	for i, spec := range specs {
		if spec.Command == "" {
			result.Rejected = append(result.Rejected, RejectedJob{Index: i, Reason: "command is required"})
			continue
		}
		accepted, err := c.submitOne(ctx, spec, batchID)
		if err != nil {
			c.logger.Warn("batch element rejected", "batch_id", batchID, "index", i, "err", err)
			result.Rejected = append(result.Rejected, RejectedJob{Index: i, Reason: rejectionReason(err)})
			continue
		}
		result.Accepted = append(result.Accepted, accepted)
		jobIDs = append(jobIDs, accepted.JobID)
	}

	// The batch row is created even when every element was rejected, so a
	// later progress query reports an explicit empty batch instead of 404.
	err := c.store.CreateBatch(ctx, manifest.Batch{
		ID:        batchID,
		Name:      name,
		JobIDs:    jobIDs,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return BatchResult{}, fmt.Errorf("create batch manifest: %w", err)
	}

	c.logger.Info("batch submitted", "batch_id", batchID, "name", name, "accepted", len(result.Accepted), "rejected", len(result.Rejected))
	return result, nil
}

// CancelBatch delegates cancellation of each member to the backend's own
// cancel primitive. Per-job failures are collected, not short-circuited.
func (c *Coordinator) CancelBatch(ctx context.Context, batchID, reason string) error {
	jobs, err := c.store.ListJobs(ctx, batchID)
	if err != nil {
		return err
	}
	var errs []error
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if err := c.backend.Cancel(ctx, job.ID, reason); err != nil && !errors.Is(err, backend.ErrNotFound) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", job.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) submitOne(ctx context.Context, spec JobSpec, batchID string) (AcceptedJob, error) {
	name := jobName()
	out, err := c.backend.Submit(ctx, backend.SubmitInput{
		Name:      name,
		Command:   spec.Command,
		SourceRef: spec.SourceRef,
	})
	if err != nil {
		return AcceptedJob{}, err
	}
	if out.JobName != "" {
		name = out.JobName
	}

	now := time.Now().UTC()
	err = c.store.RecordJob(ctx, manifest.Job{
		ID:          out.JobID,
		Name:        name,
		BatchID:     batchID,
		Command:     spec.Command,
		SourceRef:   spec.SourceRef,
		Status:      schema.StatusSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	})
	if err != nil {
		// The backend accepted the job; losing the manifest row would make
		// it untrackable, so this is a hard failure for the element.
		return AcceptedJob{}, fmt.Errorf("record job %s: %w", out.JobID, err)
	}
	return AcceptedJob{JobID: out.JobID, JobName: name}, nil
}

func jobName() string {
	return "transform-" + uuid.NewString()[:8]
}

func rejectionReason(err error) string {
	var rejected *backend.RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return err.Error()
}
