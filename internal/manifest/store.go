// internal/manifest/store.go
package manifest

import (
	"context"
	"errors"

	"github.com/tendant/simple-batch/pkg/schema"
)

var ErrNotFound = errors.New("manifest: not found")

// Store is the durable mapping from batches to jobs and each job's
// last-known status.
//
// UpdateStatus only applies forward transitions (see schema.JobStatus.Rank)
// and returns applied=false for backward or repeated updates instead of an
// error, which makes replaying a duplicate event a safe no-op.
type Store interface {
	RecordJob(ctx context.Context, job Job) error
	CreateBatch(ctx context.Context, batch Batch) error
	UpdateStatus(ctx context.Context, jobID string, status schema.JobStatus, exitCode *int, reason string) (applied bool, err error)
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobs(ctx context.Context, batchID string) ([]Job, error)
	GetBatch(ctx context.Context, batchID string) (Batch, error)
}
